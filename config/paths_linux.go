//go:build linux

package config

// Platform-specific path defaults for Linux.

// GetDefaultConfigLocation returns the default config_dir for Linux.
func GetDefaultConfigLocation() string {
	return "/etc/turku-storage"
}

// GetDefaultVarDir returns the default var_dir for Linux.
func GetDefaultVarDir() string {
	return "/var/lib/turku-storage"
}

// GetDefaultLogFile returns the default log_file for Linux.
func GetDefaultLogFile() string {
	return "/var/log/turku-storage.log"
}
