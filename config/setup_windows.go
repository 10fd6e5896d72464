//go:build windows

package config

import (
	"fmt"
	"time"

	"emperror.dev/errors"
)

// ConfigureTimezone for Windows relies on Go's time package to resolve the
// local zone; there is no logrotate-style timedatectl fallback dance here.
func ConfigureTimezone(c *Configuration) error {
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	_, err := time.LoadLocation(c.Timezone)
	return errors.WithMessage(err, fmt.Sprintf("config: timezone %q is invalid", c.Timezone))
}
