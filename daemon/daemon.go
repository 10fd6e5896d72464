// Package daemon implements the serve scheduler (§4.7): a long-running
// process that runs the config-refresh cycle on refresh_interval and an
// independent, lighter health publish every minute, both built on top of
// the one-shot refresh package. Purely additive - the ping and
// update-config one-shot commands are unaffected by anything here.
package daemon

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/patrickmn/go-cache"

	"github.com/turku/storage-agent/config"
	"github.com/turku/storage-agent/refresh"
	"github.com/turku/storage-agent/remote"
)

const healthTickInterval = time.Minute

const defaultRefreshInterval = 15 * time.Minute

// volumeStats is the cached payload of a ScanVolumes call.
type volumeStats struct {
	total, available float64
}

const volumeStatsCacheKey = "volumes"

// Run starts the serve daemon and blocks until ctx is cancelled, at which
// point the scheduler is drained and Run returns nil. A cron or systemd
// timer invoking `update-config`/`ping` on its own schedule continues to
// work unchanged alongside a running daemon; nothing here touches the
// ping-session lock.
func Run(ctx context.Context, cfg *config.Configuration, client *remote.Client) error {
	interval, err := time.ParseDuration(cfg.RefreshInterval)
	if err != nil || interval <= 0 {
		log.WithField("configured", cfg.RefreshInterval).Warn("daemon: invalid refresh_interval, defaulting to 15m")
		interval = defaultRefreshInterval
	}

	// TTL half the disk-check interval: a health tick landing within that
	// window of the last full scan reuses its figures instead of statting
	// every volume again.
	statCache := cache.New(interval/2, interval)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.WithMessage(err, "daemon: failed to create scheduler")
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { runRefreshTick(ctx, cfg, client, statCache) }),
	); err != nil {
		return errors.WithMessage(err, "daemon: failed to schedule refresh tick")
	}

	// Run an initial pass before the first tick elapses, so a freshly
	// started daemon doesn't leave the coordinator without a registration
	// for up to a full refresh_interval.
	runRefreshTick(ctx, cfg, client, statCache)

	if _, err := scheduler.NewJob(
		gocron.DurationJob(healthTickInterval),
		gocron.NewTask(func() { runHealthTick(ctx, cfg, client, statCache) }),
	); err != nil {
		return errors.WithMessage(err, "daemon: failed to schedule health tick")
	}

	log.WithField("refresh_interval", interval).Info("daemon: starting scheduler")
	scheduler.Start()

	<-ctx.Done()
	log.Info("daemon: shutting down")
	if err := scheduler.Shutdown(); err != nil {
		return errors.WithMessage(err, "daemon: scheduler shutdown failed")
	}
	return nil
}

// runRefreshTick performs a full config-refresh cycle: a fresh volume
// scan, registration, and authorized_keys render. Its scan result seeds
// statCache for the health tick.
func runRefreshTick(ctx context.Context, cfg *config.Configuration, client *remote.Client, statCache *cache.Cache) {
	total, available, err := refresh.ScanVolumes(cfg)
	if err != nil {
		log.WithError(err).Error("daemon: refresh tick volume scan failed")
		return
	}
	statCache.Set(volumeStatsCacheKey, volumeStats{total, available}, cache.DefaultExpiration)

	if err := refresh.Register(ctx, cfg, client, total, available); err != nil {
		log.WithError(err).Error("daemon: refresh tick registration failed")
	}
}

// runHealthTick performs the lighter §4.6 publish: reuse the most recent
// volume scan if it's still within statCache's TTL, otherwise take a fresh
// one (and seed the cache for whoever ticks next).
func runHealthTick(ctx context.Context, cfg *config.Configuration, client *remote.Client, statCache *cache.Cache) {
	var stats volumeStats
	if cached, ok := statCache.Get(volumeStatsCacheKey); ok {
		stats = cached.(volumeStats)
	} else {
		total, available, err := refresh.ScanVolumes(cfg)
		if err != nil {
			log.WithError(err).Warn("daemon: health tick volume scan failed")
			return
		}
		stats = volumeStats{total, available}
		statCache.Set(volumeStatsCacheKey, stats, cache.DefaultExpiration)
	}

	if err := refresh.Register(ctx, cfg, client, stats.total, stats.available); err != nil {
		log.WithError(err).Warn("daemon: health tick registration failed")
	}
}
