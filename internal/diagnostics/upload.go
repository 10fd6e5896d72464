package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
)

// WriteReportBundle gzip-compresses content and writes it to dir with a
// timestamped filename, returning the final path. This never leaves the
// local machine: per §6 the agent must not upload diagnostics on its own,
// an operator copies the bundle off manually.
func WriteReportBundle(dir string, timestamp string, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("diagnostics: failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("turku-storage-diagnostics-%s.txt.gz", timestamp))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("diagnostics: failed to create report bundle: %w", err)
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		gz.Close()
		return "", fmt.Errorf("diagnostics: failed to write report bundle: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("diagnostics: failed to finalize report bundle: %w", err)
	}

	return path, nil
}
