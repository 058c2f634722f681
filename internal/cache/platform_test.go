package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clickrelay/edge-dispatcher/internal/controlplane"
)

type fakePlatformStore struct {
	campaignCalls int
	platformCalls int
	campaign      *controlplane.Campaign
	campaignErr   error
	platform      *controlplane.Platform
	platformErr   error
}

func (f *fakePlatformStore) GetCampaignByKVKey(_ context.Context, _ string) (*controlplane.Campaign, error) {
	f.campaignCalls++
	return f.campaign, f.campaignErr
}

func (f *fakePlatformStore) GetPlatform(_ context.Context, _ string) (*controlplane.Platform, error) {
	f.platformCalls++
	return f.platform, f.platformErr
}

func TestPlatformCache_LoadsAndCaches(t *testing.T) {
	store := &fakePlatformStore{
		campaign: &controlplane.Campaign{ID: "camp-1", PlatformID: "plat-1"},
		platform: &controlplane.Platform{ID: "plat-1", Name: "Acme Network", ClickIDParam: "clickid"},
	}
	c := NewPlatformCache(store, time.Minute, nil)

	info, found := c.Resolve(context.Background(), "example.com/go")
	if !found {
		t.Fatalf("expected a successful resolve")
	}
	if info.PlatformID != "plat-1" || info.PlatformName != "Acme Network" || info.ClickIDParam != "clickid" {
		t.Fatalf("got %+v", info)
	}

	info2, found2 := c.Resolve(context.Background(), "example.com/go")
	if !found2 || info2 != info {
		t.Fatalf("expected the second resolve to be served from cache unchanged, got %+v", info2)
	}
	if store.campaignCalls != 1 || store.platformCalls != 1 {
		t.Fatalf("expected exactly one underlying lookup of each kind, got campaign=%d platform=%d", store.campaignCalls, store.platformCalls)
	}
}

func TestPlatformCache_CampaignNotFoundMisses(t *testing.T) {
	store := &fakePlatformStore{}
	c := NewPlatformCache(store, time.Minute, nil)

	_, found := c.Resolve(context.Background(), "unknown.com/go")
	if found {
		t.Fatalf("expected not found when no campaign matches the key")
	}
	if store.platformCalls != 0 {
		t.Fatalf("should not look up a platform without a campaign, got %d calls", store.platformCalls)
	}
}

func TestPlatformCache_CampaignWithoutPlatformIDMisses(t *testing.T) {
	store := &fakePlatformStore{campaign: &controlplane.Campaign{ID: "camp-1"}}
	c := NewPlatformCache(store, time.Minute, nil)

	_, found := c.Resolve(context.Background(), "example.com/go")
	if found {
		t.Fatalf("a campaign with no PlatformID should not resolve")
	}
}

func TestPlatformCache_CampaignLookupErrorMisses(t *testing.T) {
	store := &fakePlatformStore{campaignErr: errors.New("db down")}
	c := NewPlatformCache(store, time.Minute, nil)

	_, found := c.Resolve(context.Background(), "example.com/go")
	if found {
		t.Fatalf("a campaign lookup error should not resolve")
	}
}

func TestPlatformCache_PlatformLookupErrorMisses(t *testing.T) {
	store := &fakePlatformStore{
		campaign:    &controlplane.Campaign{ID: "camp-1", PlatformID: "plat-1"},
		platformErr: errors.New("db down"),
	}
	c := NewPlatformCache(store, time.Minute, nil)

	_, found := c.Resolve(context.Background(), "example.com/go")
	if found {
		t.Fatalf("a platform lookup error should not resolve")
	}
}

func TestPlatformCache_MissDoesNotCacheFailure(t *testing.T) {
	store := &fakePlatformStore{}
	c := NewPlatformCache(store, time.Minute, nil)

	_, _ = c.Resolve(context.Background(), "unknown.com/go")

	store.campaign = &controlplane.Campaign{ID: "camp-1", PlatformID: "plat-1"}
	store.platform = &controlplane.Platform{ID: "plat-1", Name: "Acme Network"}
	info, found := c.Resolve(context.Background(), "unknown.com/go")
	if !found || info.PlatformID != "plat-1" {
		t.Fatalf("expected a retried resolve after a miss to succeed once the store has data, got found=%v info=%+v", found, info)
	}
}
