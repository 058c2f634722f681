package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clickrelay/edge-dispatcher/internal/controlplane"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
)

// DestinationStore is the control-plane read side C14 fronts.
type DestinationStore interface {
	GetDestination(ctx context.Context, id string) (*controlplane.Destination, error)
}

type destEntry struct {
	url       string
	updatedAt time.Time
	found     bool
}

// DestinationCache implements C14: an in-process map keyed by destination
// ID, a 100ms (configurable) fast path before re-probing freshness, and a
// cached-null result on DB failure to avoid a thundering herd of retries.
type DestinationCache struct {
	entries  *TTLCache[string, destEntry]
	store    DestinationStore
	metrics  observability.MetricsRegistry
	fastPath time.Duration
}

// NewDestinationCache constructs a DestinationCache. fastPath is the age
// below which a cached entry is returned without a freshness probe
// (DEST_CACHE_FAST_PATH_MS). Entries are kept for a fixed 24 hours, after
// which they count as misses.
func NewDestinationCache(store DestinationStore, fastPath time.Duration, metrics observability.MetricsRegistry) *DestinationCache {
	return &DestinationCache{
		entries:  New[string, destEntry](24*time.Hour, fastPath),
		store:    store,
		metrics:  metrics,
		fastPath: fastPath,
	}
}

// Resolve returns the active URL for destinationID, or ("", false) if the
// destination is missing or inactive.
func (c *DestinationCache) Resolve(ctx context.Context, destinationID string) (string, bool) {
	if cached, result := c.entries.Get(destinationID); result == Fresh {
		c.recordHit("fresh")
		return cached.url, cached.found
	} else if result == Stale {
		// Freshness probe: re-fetch only to check whether the stored URL is
		// still current before trusting it further.
		dest, err := c.store.GetDestination(ctx, destinationID)
		if err != nil {
			c.recordHit("stale_probe_error")
			return cached.url, cached.found
		}
		if dest == nil || dest.Status != "active" {
			c.entries.Set(destinationID, destEntry{found: false})
			c.recordHit("stale_probe_miss")
			return "", false
		}
		if dest.UpdatedAt.Equal(cached.updatedAt) {
			c.entries.Set(destinationID, destEntry{url: cached.url, updatedAt: cached.updatedAt, found: true})
			c.recordHit("stale_probe_unchanged")
			return cached.url, true
		}
		c.entries.Set(destinationID, destEntry{url: dest.URL, updatedAt: dest.UpdatedAt, found: true})
		c.recordHit("stale_probe_refreshed")
		return dest.URL, true
	}

	dest, err := c.store.GetDestination(ctx, destinationID)
	if err != nil {
		zap.L().Error("destination lookup failed", zap.Error(err), zap.String("destination_id", destinationID))
		c.entries.Set(destinationID, destEntry{found: false})
		c.recordHit("miss_error")
		return "", false
	}
	if dest == nil || dest.Status != "active" {
		c.entries.Set(destinationID, destEntry{found: false})
		c.recordHit("miss")
		return "", false
	}
	c.entries.Set(destinationID, destEntry{url: dest.URL, updatedAt: dest.UpdatedAt, found: true})
	c.recordHit("miss_loaded")
	return dest.URL, true
}

func (c *DestinationCache) recordHit(result string) {
	if c.metrics != nil {
		c.metrics.IncrementCacheResult("destination", result)
	}
}
