package diagnostics

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/health"
	"github.com/turku/storage-agent/volume"
)

// GenerateDiagnosticsReport assembles a plain-text support bundle: host
// health, the active configuration with secrets always
// redacted, per-volume usage, and optionally the tail of the log file. Its
// caller is responsible for what happens to the result - this package
// never transmits anything over the network.
func GenerateDiagnosticsReport(includeIdentity bool, includeLogs bool, logLines int) (string, error) {
	cfg := config.Get()
	var b strings.Builder

	b.WriteString("turku-storage\n")

	h := health.Collect()
	fmt.Fprintf(&b, "os: %s\nkernel: %s\ncpu threads: %d\ntotal mem: %.0f MiB (%.1f%% used)\n\n",
		h.OSRelease, h.KernelVer, h.CPUThreads, h.TotalMemMiB, h.UsedMemPct)

	b.WriteString("-- configuration --\n")
	fmt.Fprintf(&b, "config_dir: %s\n", cfg.Path())
	if includeIdentity {
		fmt.Fprintf(&b, "name: %s\n", cfg.Name)
		fmt.Fprintf(&b, "api_url: %s\n", cfg.ApiURL)
	} else {
		b.WriteString("name: <redacted, choose to include identifying information to show>\n")
		b.WriteString("api_url: <redacted, choose to include identifying information to show>\n")
	}
	fmt.Fprintf(&b, "secret: <redacted>\napi_auth_secret: <redacted>\n")
	fmt.Fprintf(&b, "snapshot_mode: %s\npreserve_hard_links: %t\nrefresh_interval: %s\n",
		cfg.SnapshotMode, cfg.PreserveHardLinks, cfg.RefreshInterval)

	b.WriteString("\n-- volumes --\n")
	names := make([]string, 0, len(cfg.Volumes))
	for name := range cfg.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := cfg.Volumes[name]
		total, available, _, err := volume.Stat(v.Path)
		if err != nil {
			fmt.Fprintf(&b, "%s: %s (stat failed: %v)\n", name, v.Path, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %s total=%.0fMiB available=%.0fMiB accept_new=%t\n",
			name, v.Path, total, available, v.AcceptNew)
	}

	if includeLogs {
		b.WriteString("\n-- recent log lines --\n")
		lines, err := tailFile(cfg.LogFile, logLines)
		if err != nil {
			fmt.Fprintf(&b, "(failed to read %s: %v)\n", cfg.LogFile, err)
		} else {
			for _, line := range lines {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}

	return b.String(), nil
}

// tailFile returns at most the last n lines of path. The whole file is
// scanned on every call.
func tailFile(path string, n int) ([]string, error) {
	if path == "" || n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}
