// Package clickout implements the Click-Out Handler (C11): resolving a
// `.../click` request to an upstream destination, recovering the
// originating impression's landing context, and emitting the click event.
// No direct teacher precedent (openadserve has no separate click-out leg;
// win/click are both reported by the DSP); built in the teacher's
// small-collaborator-struct style, composing the already-built selector,
// macro, cache, and events packages.
package clickout

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/url"
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/cache"
	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/fingerprint"
	"github.com/clickrelay/edge-dispatcher/internal/macro"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
	"github.com/clickrelay/edge-dispatcher/internal/rules"
	"github.com/clickrelay/edge-dispatcher/internal/selector"
)

// IsClickPath reports whether path's final segment is "click" (§4.11).
func IsClickPath(path string) bool {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:] == "click"
}

// Handler resolves and records click-outs.
type Handler struct {
	Destinations *cache.DestinationCache
	Events       *events.Store
	Metrics      observability.MetricsRegistry
	RNG          *rand.Rand
}

func New(destinations *cache.DestinationCache, store *events.Store, metrics observability.MetricsRegistry, rng *rand.Rand) *Handler {
	return &Handler{Destinations: destinations, Events: store, Metrics: metrics, RNG: rng}
}

// Result is what Resolve returns for the caller to turn into a 302.
type Result struct {
	Location string
	ClickID  string
}

// Resolve implements §4.11 steps 1-5: pick a click-eligible rule, resolve
// its destination, recover the prior impression's landing context, merge
// query parameters, and expand macros. matched is the set of rules whose
// conditions already passed C5; Resolve filters to those carrying a click
// action itself (step 1).
func (h *Handler) Resolve(ctx context.Context, rc reqctx.Context, bundle rules.Bundle, matched []rules.Rule, campaignID, campaignName, platformID, platformName, platformClickID string) (Result, bool) {
	candidates := make([]rules.Rule, 0, len(matched))
	for _, r := range matched {
		if r.HasClickAction() {
			candidates = append(candidates, r)
		}
	}

	destURL, ok := h.resolveFromRules(ctx, candidates)
	if !ok {
		destURL, ok = h.resolveFromBundleRoot(ctx, bundle)
	}
	if !ok {
		return Result{}, false
	}

	clickID := fingerprint.NewEventID()
	sessionID := rc.SessionID
	// The click-out request carries the originating impression's ID as a
	// query parameter (set by the macro-expanded link on the landing page);
	// reqctx.Context.ImpressionID is always freshly minted per request and
	// is only the fallback when that parameter is absent (§4.2 "derive
	// impressionId (fresh if absent)").
	impressionID := rc.Query["impression_id"]
	if impressionID == "" {
		impressionID = rc.ImpressionID
	}

	mergedQuery := rc.Query
	landingPage, landingPageMode := "", ""
	if h.Events != nil {
		if prior, found := h.Events.GetByEventID(ctx, impressionID); found {
			landingPage = prior.LandingPage
			landingPageMode = prior.LandingPageMode
			mergedQuery = mergeQuery(decodeQueryParams(prior.QueryParams), rc.Query)
		}
	}

	macroCtx := macro.Context{
		RequestCtx:      rc,
		CampaignID:      campaignID,
		CampaignName:    campaignName,
		SiteName:        bundle.SiteName,
		ClickID:         clickID,
		ImpressionID:    impressionID,
		SessionID:       sessionID,
		PlatformID:      platformID,
		PlatformName:    platformName,
		PlatformClickID: platformClickID,
		Variables:       bundle.Variables,
	}
	expanded, err := macro.ExpandURL(destURL, macroCtx)
	if err != nil {
		return Result{}, false
	}

	location, err := buildClickLocation(expanded, mergedQuery, clickID, impressionID, sessionID)
	if err != nil {
		return Result{}, false
	}

	if h.Events != nil {
		h.Events.EmitAsync(events.Event{
			EventID:         clickID,
			SessionID:       sessionID,
			CampaignID:      campaignID,
			IsClick:         true,
			IsImpression:    false,
			Host:            rc.Host,
			Path:            rc.Path,
			Country:         rc.Geo.Country,
			Region:          rc.Geo.Region,
			City:            rc.Geo.City,
			Device:          rc.UA.Device,
			Browser:         rc.UA.Browser,
			OS:              rc.UA.OS,
			IP:              rc.IP,
			Org:             rc.Org,
			Referrer:        rc.Referrer,
			LandingPage:     landingPage,
			LandingPageMode: landingPageMode,
			QueryParams:     encodeQueryParams(mergedQuery),
			DestinationURL:  expanded,
			PlatformID:      platformID,
			PlatformClickID: platformClickID,
			ClickID:         clickID,
		})
	}
	if h.Metrics != nil {
		h.Metrics.IncrementEvent("click", "ok")
	}

	return Result{Location: location, ClickID: clickID}, true
}

func (h *Handler) resolveFromRules(ctx context.Context, candidates []rules.Rule) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	rule, _, err := selector.Pick(h.RNG, candidates)
	if err != nil {
		return "", false
	}
	if len(rule.ClickDestinations) > 0 {
		dest, _, err := selector.Pick(h.RNG, rule.ClickDestinations)
		if err != nil {
			return "", false
		}
		return h.Destinations.Resolve(ctx, dest.ID)
	}
	if rule.ClickURL != "" {
		return rule.ClickURL, true
	}
	return "", false
}

// resolveFromBundleRoot implements §4.11's fallback: "if no click-out rule
// matched but the bundle has a root-level destinationId+defaultFolder, use
// it as the click target."
func (h *Handler) resolveFromBundleRoot(ctx context.Context, bundle rules.Bundle) (string, bool) {
	if bundle.DestinationID == "" || bundle.DefaultFolder == "" {
		return "", false
	}
	return h.Destinations.Resolve(ctx, bundle.DestinationID)
}

// buildClickLocation rebuilds destURL as a proper URL, appending every
// entry of query then setting click_id/impression_id/session_id (§4.11
// step 5); current-request query values win over recovered ones (step 4).
func buildClickLocation(destURL string, query map[string]string, clickID, impressionID, sessionID string) (string, error) {
	u, err := url.Parse(destURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	q.Set("click_id", clickID)
	q.Set("impression_id", impressionID)
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// mergeQuery merges recovered (impression-time) query params with current
// ones, current taking precedence (§4.11 step 4).
func mergeQuery(recovered, current map[string]string) map[string]string {
	merged := make(map[string]string, len(recovered)+len(current))
	for k, v := range recovered {
		merged[k] = v
	}
	for k, v := range current {
		merged[k] = v
	}
	return merged
}

func encodeQueryParams(q map[string]string) string {
	if len(q) == 0 {
		return ""
	}
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeQueryParams(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var q map[string]string
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil
	}
	return q
}
