//go:build linux

package config

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// ConfigureTimezone sets c.Timezone if it is currently at its "UTC" default
// and the host environment suggests something more specific, then validates
// whatever value ends up set. A value other than "UTC" provided in
// config.d is never replaced by the host's zone, but every value has any
// character other than letters, '_' and '/' stripped before validation.
func ConfigureTimezone(c *Configuration) error {
	if c.Timezone == "" || c.Timezone == "UTC" {
		if tz := os.Getenv("TZ"); tz != "" {
			c.Timezone = tz
		}
	}
	if c.Timezone == "" || c.Timezone == "UTC" {
		if b, err := os.ReadFile("/etc/timezone"); err == nil {
			c.Timezone = string(b)
		} else if !os.IsNotExist(err) {
			return errors.WithMessage(err, "config: failed to read /etc/timezone")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := exec.CommandContext(ctx, "timedatectl").Output()
			if err != nil {
				log.WithError(err).Warn("config: timedatectl unavailable, falling back to UTC")
				c.Timezone = "UTC"
			} else {
				r := regexp.MustCompile(`Time zone: ([\w/]+)`)
				if m := r.FindSubmatch(out); len(m) == 2 && len(m[1]) > 0 {
					c.Timezone = string(m[1])
				} else {
					log.Warn("config: failed to parse timezone from timedatectl output, falling back to UTC")
					c.Timezone = "UTC"
				}
			}
		}
	}

	c.Timezone = regexp.MustCompile(`(?i)[^a-z_/]+`).ReplaceAllString(c.Timezone, "")
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	_, err := time.LoadLocation(c.Timezone)
	return errors.WithMessage(err, fmt.Sprintf("config: timezone %q is invalid", c.Timezone))
}
