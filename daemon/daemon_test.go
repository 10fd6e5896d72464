package daemon

import (
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
)

func TestVolumeStatsCacheHit(t *testing.T) {
	c := cache.New(time.Minute, time.Minute)
	c.Set(volumeStatsCacheKey, volumeStats{total: 1000, available: 250}, cache.DefaultExpiration)

	cached, ok := c.Get(volumeStatsCacheKey)
	if !ok {
		t.Fatal("expected cached volume stats to be present")
	}
	stats := cached.(volumeStats)
	if stats.total != 1000 || stats.available != 250 {
		t.Fatalf("unexpected cached stats: %+v", stats)
	}
}

func TestHealthTickCacheMissWhenExpired(t *testing.T) {
	c := cache.New(time.Millisecond, time.Millisecond)
	c.Set(volumeStatsCacheKey, volumeStats{total: 1000, available: 250}, cache.DefaultExpiration)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(volumeStatsCacheKey); ok {
		t.Fatal("expected expired cache entry to be absent")
	}
}
