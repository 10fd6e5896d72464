//go:build windows

package config

import (
	"runtime"
)

// applyPlatformDefaults applies Windows-specific default values to the
// configuration.
func applyPlatformDefaults(c *Configuration) {
	if c.VarDir == "" {
		c.VarDir = GetDefaultVarDir()
	}
	if c.LockDir == "" {
		c.LockDir = GetDefaultVarDir()
	}
	if c.LogFile == "" {
		c.LogFile = GetDefaultLogFile()
	}
}

// IsWindows returns true if running on Windows.
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// IsLinux returns true if running on Linux.
func IsLinux() bool {
	return runtime.GOOS == "linux"
}
