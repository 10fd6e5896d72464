//go:build windows

package config

import (
	"os"
	"path/filepath"
)

// Platform-specific path defaults for Windows.

func programData() string {
	p := os.Getenv("PROGRAMDATA")
	if p == "" {
		p = `C:\ProgramData`
	}
	return p
}

// GetDefaultConfigLocation returns the default config_dir for Windows.
func GetDefaultConfigLocation() string {
	return filepath.Join(programData(), "TurkuStorage")
}

// GetDefaultVarDir returns the default var_dir for Windows.
func GetDefaultVarDir() string {
	return filepath.Join(programData(), "TurkuStorage", "var")
}

// GetDefaultLogFile returns the default log_file for Windows.
func GetDefaultLogFile() string {
	return filepath.Join(programData(), "TurkuStorage", "logs", "turku-storage.log")
}
