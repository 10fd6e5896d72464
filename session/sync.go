package session

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// buildSyncArgs constructs the rsync argv for one source transfer. The
// returned cleanup function, if non-nil, must run after the subprocess
// exits (it removes the filter-merge temp file, when one was written).
func buildSyncArgs(destDir, baseSnapshot, mode string, preserveHardLinks bool, desc sourceDescriptor, username string, port int, sourceName string) ([]string, func(), error) {
	args := []string{"--archive", "--compress", "--numeric-ids", "--delete", "--delete-excluded", "--verbose"}

	if mode == "link-dest" && baseSnapshot != "" {
		args = append(args, "--link-dest="+baseSnapshot)
	} else {
		args = append(args, "--inplace")
	}

	if preserveHardLinks {
		args = append(args, "--hard-links")
	}

	var cleanup func()
	if len(desc.Filter) > 0 || len(desc.Exclude) > 0 {
		f, err := os.CreateTemp("", "turku-storage-filter-*")
		if err != nil {
			return nil, nil, errors.WithMessage(err, "session: failed to create filter-merge temp file")
		}
		for _, line := range desc.Filter {
			// No local file references are allowed in filter directives
			// supplied by the coordinator: reject "merge" and any
			// ":"-prefixed directive outright rather than let a remote
			// response read an arbitrary local file.
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "merge") || strings.HasPrefix(trimmed, ":") {
				continue
			}
			fmt.Fprintln(f, line)
		}
		for _, pattern := range desc.Exclude {
			fmt.Fprintf(f, "- %s\n", pattern)
		}
		f.Close()
		cleanup = func() { os.Remove(f.Name()) }
		args = append(args, "--filter=merge "+f.Name())
	}

	if desc.Bwlimit > 0 {
		args = append(args, "--bwlimit="+strconv.Itoa(desc.Bwlimit))
	}

	source := fmt.Sprintf("rsync://%s@127.0.0.1:%d/%s/", username, port, sourceName)
	args = append(args, source, destDir+string(os.PathSeparator))

	return args, cleanup, nil
}

// runSync runs rsync with the given argv, streaming its merged
// stdout+stderr to logger at DEBUG line by line while the subprocess runs,
// matching the concurrent-reader idiom the teacher already uses to drain a
// live Docker image pull without deadlocking on a full pipe buffer.
func runSync(ctx context.Context, logger log.Interface, args []string, password string) (int, error) {
	cmd := exec.CommandContext(ctx, "rsync", args...)
	cmd.Env = append(os.Environ(), "RSYNC_PASSWORD="+password)

	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, errors.WithMessage(err, "session: failed to open rsync output pipe")
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return -1, errors.WithMessage(err, "session: failed to start rsync")
	}
	// The write end must be closed in this process once the child has its
	// own copy, or the scanner below will block reading from pr forever
	// since the pipe never reports EOF while any writer remains open.
	pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Warn("session: error reading rsync output")
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.WithMessage(err, "session: rsync did not exit cleanly")
}
