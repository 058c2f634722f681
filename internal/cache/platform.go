package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clickrelay/edge-dispatcher/internal/controlplane"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
)

// PlatformInfo is what C15 resolves a campaign ID to.
type PlatformInfo struct {
	PlatformID   string
	PlatformName string
	ClickIDParam string
}

// PlatformStore is the control-plane read side C15 fronts.
type PlatformStore interface {
	GetCampaignByKVKey(ctx context.Context, kvKey string) (*controlplane.Campaign, error)
	GetPlatform(ctx context.Context, id string) (*controlplane.Platform, error)
}

// PlatformCache implements C15: a read-through cache with a ~15 minute TTL
// mapping a campaign/bundle key to its platform identity.
type PlatformCache struct {
	entries *TTLCache[string, PlatformInfo]
	store   PlatformStore
	metrics observability.MetricsRegistry
}

func NewPlatformCache(store PlatformStore, ttl time.Duration, metrics observability.MetricsRegistry) *PlatformCache {
	return &PlatformCache{
		entries: New[string, PlatformInfo](ttl, 0),
		store:   store,
		metrics: metrics,
	}
}

// Resolve looks up the platform identity for kvKey (the bundle's resolved
// control-plane key), populating the cache on miss.
func (c *PlatformCache) Resolve(ctx context.Context, kvKey string) (PlatformInfo, bool) {
	if c == nil {
		return PlatformInfo{}, false
	}
	if cached, result := c.entries.Get(kvKey); result != Miss {
		c.recordHit("hit")
		return cached, true
	}

	campaign, err := c.store.GetCampaignByKVKey(ctx, kvKey)
	if err != nil || campaign == nil || campaign.PlatformID == "" {
		if err != nil {
			zap.L().Error("platform campaign lookup failed", zap.Error(err), zap.String("kv_key", kvKey))
		}
		c.recordHit("miss")
		return PlatformInfo{}, false
	}

	platform, err := c.store.GetPlatform(ctx, campaign.PlatformID)
	if err != nil || platform == nil {
		if err != nil {
			zap.L().Error("platform lookup failed", zap.Error(err), zap.String("platform_id", campaign.PlatformID))
		}
		c.recordHit("miss")
		return PlatformInfo{}, false
	}

	info := PlatformInfo{
		PlatformID:   platform.ID,
		PlatformName: platform.Name,
		ClickIDParam: platform.ClickIDParam,
	}
	c.entries.Set(kvKey, info)
	c.recordHit("loaded")
	return info, true
}

func (c *PlatformCache) recordHit(result string) {
	if c.metrics != nil {
		c.metrics.IncrementCacheResult("platform", result)
	}
}
