// Package refresh implements the config-refresh cycle (§4.5): a volume
// capacity scan, registration with the coordinator, and an atomic
// authorized_keys rewrite.
package refresh

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/health"
	"github.com/turku/storage-agent/lock"
	"github.com/turku/storage-agent/remote"
	"github.com/turku/storage-agent/safeio"
	"github.com/turku/storage-agent/volume"
)

type storageIdentity struct {
	Name        string        `json:"name"`
	Secret      string        `json:"secret"`
	SSHPingHost string        `json:"ssh_ping_host"`
	SSHPingPort int           `json:"ssh_ping_port"`
	SSHPingUser string        `json:"ssh_ping_user"`
	HostKeys    []string      `json:"ssh_ping_host_keys"`
	SpaceTotal  float64       `json:"space_total"`
	SpaceAvail  float64       `json:"space_available"`
	System      health.Report `json:"system"`
}

type authRequest struct {
	Name   string `json:"name,omitempty"`
	Secret string `json:"secret,omitempty"`
}

type updateConfigRequest struct {
	Storage storageIdentity `json:"storage"`
	Auth    *authRequest    `json:"auth,omitempty"`
}

type machineInfo struct {
	SSHPublicKey string `json:"ssh_public_key"`
	UnitName     string `json:"unit_name"`
}

type updateConfigResponse struct {
	Machines map[string]machineInfo `json:"machines"`
}

// Cycle runs one complete config-refresh pass: scan volumes, register,
// render authorized_keys. The volume scan runs before the refresh lock is
// taken; Register holds the lock (separate from any ping session lock)
// around registration and the authorized_keys render only.
func Cycle(ctx context.Context, cfg *config.Configuration, client *remote.Client) error {
	total, available, err := ScanVolumes(cfg)
	if err != nil {
		return err
	}
	return Register(ctx, cfg, client, total, available)
}

// Register performs the registration half of a refresh pass with
// already-known capacity figures: acquire the refresh lock, call
// storage_update_config, render authorized_keys. Split out from Cycle so
// the serve daemon's lighter health tick (§4.6) can reuse a cached volume
// scan instead of paying for a fresh one on every tick.
func Register(ctx context.Context, cfg *config.Configuration, client *remote.Client, total, available float64) error {
	l, err := lock.Acquire(cfg.LockDir, lock.RefreshLockName)
	if err != nil {
		return err
	}
	defer l.Release()

	req := updateConfigRequest{
		Storage: storageIdentity{
			Name:        cfg.Name,
			Secret:      cfg.Secret,
			SSHPingHost: cfg.SSHPing.Host,
			SSHPingPort: cfg.SSHPing.Port,
			SSHPingUser: cfg.SSHPing.User,
			HostKeys:    cfg.SSHPing.HostKeys,
			SpaceTotal:  total,
			SpaceAvail:  available,
			System:      health.Collect(),
		},
	}
	if cfg.ApiAuthName != "" {
		req.Auth = &authRequest{Name: cfg.ApiAuthName, Secret: cfg.ApiAuthSecret}
	}

	var resp updateConfigResponse
	if err := client.Call(ctx, "storage_update_config", req, &resp); err != nil {
		return errors.WithMessage(err, "refresh: storage_update_config failed")
	}

	return renderAuthorizedKeys(cfg, resp.Machines)
}

// ScanVolumes computes the host's aggregate total/available capacity in
// MiB, deduplicated by underlying device id: a volume sharing a device
// with one already counted contributes nothing further to either figure.
// Full or non-accepting volumes still contribute to the total but zero to
// availability. Per-volume statfs calls have no ordering dependency on one
// another, so this fans them out across a bounded worker pool rather than
// scanning one volume at a time.
func ScanVolumes(cfg *config.Configuration) (total, available float64, err error) {
	type result struct {
		name         string
		total, avail float64
		device       uint64
		err          error
	}

	names := make([]string, 0, len(cfg.Volumes))
	for name := range cfg.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]result, len(names))
	wp := workerpool.New(runtime.NumCPU())
	for i, name := range names {
		i, name := i, name
		v := cfg.Volumes[name]
		wp.Submit(func() {
			t, a, dev, err := volume.Stat(v.Path)
			results[i] = result{name: name, total: t, avail: a, device: dev, err: err}
		})
	}
	wp.StopWait()

	seenDevices := make(map[uint64]bool)
	for _, r := range results {
		v := cfg.Volumes[r.name]
		if r.err != nil {
			log.WithField("volume", r.name).WithError(r.err).Warn("refresh: failed to stat volume")
			continue
		}
		if seenDevices[r.device] {
			continue
		}
		seenDevices[r.device] = true

		total += r.total
		usedPct := 100.0
		if r.total > 0 {
			usedPct = (1 - r.avail/r.total) * 100
		}
		if v.AcceptNew && usedPct <= v.AcceptNewHighWaterPct {
			available += r.avail
		}
	}
	return total, available, nil
}

// renderAuthorizedKeys writes the authorization file atomically: a header,
// then the contents of the ".static" sibling file if present, then one
// line per machine the coordinator reports.
func renderAuthorizedKeys(cfg *config.Configuration, machines map[string]machineInfo) error {
	if cfg.AuthorizedKeys.File == "" {
		return nil
	}

	var b strings.Builder
	b.WriteString("# This file is generated automatically by turku-storage.\n")
	b.WriteString(fmt.Sprintf("# Static additions belong in %s.static\n", cfg.AuthorizedKeys.File))

	if staticContents, err := os.ReadFile(cfg.AuthorizedKeys.File + ".static"); err == nil {
		b.Write(staticContents)
		if len(staticContents) > 0 && staticContents[len(staticContents)-1] != '\n' {
			b.WriteByte('\n')
		}
	}

	uuids := make([]string, 0, len(machines))
	for u := range machines {
		uuids = append(uuids, u)
	}
	sort.Strings(uuids)

	for _, u := range uuids {
		m := machines[u]
		if m.SSHPublicKey == "" {
			continue
		}
		fmt.Fprintf(&b, "no-pty,no-agent-forwarding,no-X11-forwarding,no-user-rc,command=\"%s %s\" %s (%s)\n",
			cfg.AuthorizedKeys.Command, u, m.SSHPublicKey, m.UnitName)
	}

	return safeio.WriteFile(cfg.AuthorizedKeys.File, []byte(b.String()), 0o600, cfg.AuthorizedKeys.User)
}
