//go:build linux

package config

import (
	"runtime"
)

// applyPlatformDefaults applies Linux-specific default values to the
// configuration. Struct tag defaults already cover most fields; this fills
// in the directory paths, which depend on GOOS.
func applyPlatformDefaults(c *Configuration) {
	if c.VarDir == "" {
		c.VarDir = GetDefaultVarDir()
	}
	if c.LockDir == "" {
		c.LockDir = firstExistingDir([]string{"/run/lock", "/var/lock", "/run", "/var/run", "/tmp"})
	}
	if c.LogFile == "" {
		c.LogFile = GetDefaultLogFile()
	}
}

func firstExistingDir(candidates []string) string {
	for _, c := range candidates {
		if st, err := statDir(c); err == nil && st {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// IsWindows returns true if running on Windows.
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// IsLinux returns true if running on Linux.
func IsLinux() bool {
	return runtime.GOOS == "linux"
}
