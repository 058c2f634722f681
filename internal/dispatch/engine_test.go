package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/clickrelay/edge-dispatcher/internal/cache"
	"github.com/clickrelay/edge-dispatcher/internal/clickout"
	"github.com/clickrelay/edge-dispatcher/internal/controlplane"
	"github.com/clickrelay/edge-dispatcher/internal/hosted"
	"github.com/clickrelay/edge-dispatcher/internal/macro"
	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
	"github.com/clickrelay/edge-dispatcher/internal/rules"
	"github.com/clickrelay/edge-dispatcher/internal/store"
	"github.com/clickrelay/edge-dispatcher/internal/upstream"
)

type memKV struct{ data map[string][]byte }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

type memBlobStore struct{ files map[string]string }

func (m *memBlobStore) Get(key string) (io.ReadCloser, error) {
	v, ok := m.files[strings.TrimPrefix(key, "/")]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader([]byte(v))), nil
}

type memDestStore struct{ dests map[string]*controlplane.Destination }

func (m *memDestStore) GetDestination(_ context.Context, id string) (*controlplane.Destination, error) {
	return m.dests[id], nil
}

func newTestEngine(blobFiles map[string]string, dests map[string]*controlplane.Destination) *Engine {
	destCache := cache.NewDestinationCache(&memDestStore{dests: dests}, time.Minute, nil)
	return &Engine{
		Resolver:     rules.NewResolver(&memKV{data: map[string][]byte{}}),
		Hosted:       hosted.New(&memBlobStore{files: blobFiles}),
		Upstream:     upstream.New(5 * time.Second),
		Destinations: destCache,
		ClickOut:     clickout.New(destCache, nil, nil, rand.New(rand.NewSource(1))),
		RNG:          rand.New(rand.NewSource(1)),
	}
}

func baseRC() reqctx.Context {
	return reqctx.Context{Host: "example.com", Path: "/go", Query: map[string]string{}, SessionID: "sess1", ImpressionID: "imp1"}
}

func TestDispatchDefault_HostedMode(t *testing.T) {
	e := newTestEngine(map[string]string{"lander/index.html": "<html>hi</html>"}, nil)
	bundle := rules.Bundle{ID: "b1", DefaultFolder: "lander", DefaultFolderMode: "hosted"}
	w := httptest.NewRecorder()
	e.dispatchDefault(w, context.Background(), baseRC(), bundle, macro.Context{}, "example.com/go", false)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hi") {
		t.Fatalf("got body %q", w.Body.String())
	}
}

func TestDispatchDefault_RedirectRejectsAncestorKey(t *testing.T) {
	e := newTestEngine(nil, nil)
	bundle := rules.Bundle{ID: "b1", DefaultFolder: "https://offer.example", DefaultFolderMode: "redirect"}
	w := httptest.NewRecorder()
	rc := baseRC()
	rc.Path = "/go/deeper"

	// kvKey is neither host+path nor bare host: an ancestor-prefix fallback.
	e.dispatchDefault(w, context.Background(), rc, bundle, macro.Context{}, "example.com/go", false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a non-canonical key on redirect mode, got %d", w.Code)
	}
}

func TestDispatchDefault_RedirectAllowsCanonicalKey(t *testing.T) {
	e := newTestEngine(nil, nil)
	bundle := rules.Bundle{ID: "b1", DefaultFolder: "https://offer.example", DefaultFolderMode: "redirect"}
	w := httptest.NewRecorder()
	rc := baseRC()
	rc.UA.Device = "desktop"

	e.dispatchDefault(w, context.Background(), rc, bundle, macro.Context{}, "example.com/go", false)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 for canonical key on redirect mode, got %d", w.Code)
	}
}

func TestDispatchDefault_DestinationIDResolvesThenRedirects(t *testing.T) {
	dests := map[string]*controlplane.Destination{
		"d1": {URL: "https://offer.example/landing", Status: "active", UpdatedAt: time.Now()},
	}
	e := newTestEngine(nil, dests)
	bundle := rules.Bundle{ID: "b1", DestinationID: "d1"}
	w := httptest.NewRecorder()
	rc := baseRC()
	rc.UA.Device = "desktop"

	e.dispatchDefault(w, context.Background(), rc, bundle, macro.Context{}, "example.com/go", false)
	if w.Code != http.StatusFound {
		t.Fatalf("got status %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://offer.example/landing" {
		t.Fatalf("got Location %q", loc)
	}
}

func TestDispatchDefault_WeightedOffersResolveViaDestinationCache(t *testing.T) {
	dests := map[string]*controlplane.Destination{
		"o1": {URL: "https://offer.example/a", Status: "active", UpdatedAt: time.Now()},
	}
	e := newTestEngine(nil, dests)
	bundle := rules.Bundle{
		ID:           "b1",
		DefaultOffers: []rules.WeightedOffer{{DestinationID: "o1", Mode: "redirect", Weight: 1}},
	}
	w := httptest.NewRecorder()
	rc := baseRC()
	rc.UA.Device = "desktop"

	e.dispatchDefault(w, context.Background(), rc, bundle, macro.Context{}, "example.com/go", false)
	if w.Code != http.StatusFound {
		t.Fatalf("got status %d", w.Code)
	}
}

func TestExecuteRule_DispatchesByPrimaryActionKind(t *testing.T) {
	e := newTestEngine(map[string]string{"lander/index.html": "<html>rule-hosted</html>"}, nil)
	bundle := rules.Bundle{ID: "b1"}
	rule := rules.Rule{Folder: "lander"}
	w := httptest.NewRecorder()

	e.executeRule(w, context.Background(), baseRC(), bundle, rule, macro.Context{}, "example.com/go", false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "rule-hosted") {
		t.Fatalf("expected the rule's folder to be served hosted, got status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestExecuteRule_VariablesOverrideCampaignDefaults(t *testing.T) {
	e := newTestEngine(map[string]string{"lander/index.html": "{{greeting}}"}, nil)
	bundle := rules.Bundle{ID: "b1"}
	rule := rules.Rule{Folder: "lander", Variables: map[string]string{"greeting": "hello-rule"}}
	macroBase := macro.Context{Variables: map[string]string{"greeting": "hello-campaign"}}
	w := httptest.NewRecorder()

	e.executeRule(w, context.Background(), baseRC(), bundle, rule, macroBase, "example.com/go", false)
	if !strings.Contains(w.Body.String(), "hello-rule") {
		t.Fatalf("expected the rule-level variable to win, got body %q", w.Body.String())
	}
}

func TestServeDestinations_EmptyFallsToNotFound(t *testing.T) {
	e := newTestEngine(nil, nil)
	w := httptest.NewRecorder()
	e.serveDestinations(w, context.Background(), baseRC(), rules.Bundle{ID: "b1"}, nil, macro.Context{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestServeDestinations_UnresolvableDestinationIsNotFound(t *testing.T) {
	e := newTestEngine(nil, nil)
	w := httptest.NewRecorder()
	rc := baseRC()
	e.serveDestinations(w, context.Background(), rc, rules.Bundle{ID: "b1"}, []rules.WeightedDest{{ID: "missing", Weight: 1}}, macro.Context{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestServeRedirect_SufficientSignalsSendsLocation(t *testing.T) {
	e := newTestEngine(nil, nil)
	rc := baseRC()
	rc.UA.Device = "desktop"
	rc.UA.OSVersion = "11.0"
	w := httptest.NewRecorder()
	e.serveRedirect(w, context.Background(), rc, rules.Bundle{ID: "b1"}, "https://offer.example/x", macro.Context{ImpressionID: "imp1"})

	if w.Code != http.StatusFound {
		t.Fatalf("got %d", w.Code)
	}
	if w.Header().Get("Location") != "https://offer.example/x" {
		t.Fatalf("got Location %q", w.Header().Get("Location"))
	}
}

func TestServeRedirect_InsufficientSignalsServesEnrichmentStub(t *testing.T) {
	e := newTestEngine(nil, nil)
	rc := baseRC()
	rc.UA.Device = "mobile"
	rc.UA.OSVersion = ""
	w := httptest.NewRecorder()
	e.serveRedirect(w, context.Background(), rc, rules.Bundle{ID: "b1"}, "https://offer.example/x", macro.Context{ImpressionID: "imp1"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 enrichment stub, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "offer.example/x") {
		t.Fatalf("expected the stub to embed the destination, got %q", w.Body.String())
	}
}

func TestServeRedirect_BadMacroURLIsNotFound(t *testing.T) {
	e := newTestEngine(nil, nil)
	w := httptest.NewRecorder()
	e.serveRedirect(w, context.Background(), baseRC(), rules.Bundle{ID: "b1"}, "https://example.com/%zz", macro.Context{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestServeProxy_RewritesAndExpandsHTML(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/sub">{{campaign.id}}</a></body></html>`))
	}))
	defer upstreamSrv.Close()

	e := newTestEngine(nil, nil)
	w := httptest.NewRecorder()
	rc := baseRC()
	rc.IsBot = true // avoid the device-detection script injection complicating assertions
	macroBase := macro.Context{CampaignID: "camp-1"}

	e.serveProxy(w, context.Background(), rc, rules.Bundle{ID: "b1"}, upstreamSrv.URL, macroBase, false)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "camp-1") {
		t.Fatalf("expected the macro to expand, got %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), upstreamSrv.URL+"/sub") {
		t.Fatalf("expected the relative link rewritten absolute, got %q", w.Body.String())
	}
}

func TestServeProxy_UpstreamErrorIs500(t *testing.T) {
	e := newTestEngine(nil, nil)
	w := httptest.NewRecorder()
	e.serveProxy(w, context.Background(), baseRC(), rules.Bundle{ID: "b1"}, "http://127.0.0.1:1", macro.Context{}, false)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", w.Code)
	}
}

func TestMatchRules_FiltersToMatchingOnly(t *testing.T) {
	e := newTestEngine(nil, nil)
	rc := baseRC()
	rc.Geo.Country = "US"

	candidates := []rules.Rule{
		{Flags: &rules.FlagSet{Country: []string{"US"}}, Folder: "us-lander"},
		{Flags: &rules.FlagSet{Country: []string{"DE"}}, Folder: "de-lander"},
	}
	matched := e.matchRules(candidates, rc)
	if len(matched) != 1 || matched[0].Folder != "us-lander" {
		t.Fatalf("got %+v", matched)
	}
}

func TestServeClickOut_ResolvesAndRedirects(t *testing.T) {
	dests := map[string]*controlplane.Destination{
		"d1": {URL: "https://affiliate.example/offer", Status: "active", UpdatedAt: time.Now()},
	}
	e := newTestEngine(nil, dests)
	e.Resolver = rules.NewResolver(&memKV{data: map[string][]byte{
		"example.com/go": []byte(`{"id":"b1","destinationId":"d1","defaultFolder":"lander"}`),
	}})
	rc := baseRC()
	rc.Path = "/go/click"
	w := httptest.NewRecorder()

	e.serveClickOut(w, context.Background(), rc)

	if w.Code != http.StatusFound {
		t.Fatalf("got %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), "https://affiliate.example/offer") {
		t.Fatalf("got Location %q", loc.String())
	}
	if loc.Query().Get("click_id") == "" {
		t.Fatalf("expected a click_id query parameter, got %q", loc.String())
	}
}

func TestServeClickOut_UnresolvedBundleIsNotFound(t *testing.T) {
	e := newTestEngine(nil, nil)
	rc := baseRC()
	rc.Path = "/unknown/click"
	w := httptest.NewRecorder()
	e.serveClickOut(w, context.Background(), rc)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestEmitImpression_NilEventsIsNoop(t *testing.T) {
	e := newTestEngine(nil, nil)
	e.Events = nil
	// Must not panic with a nil Events store.
	e.emitImpression(baseRC(), rules.Bundle{ID: "b1"}, macro.Context{}, "hosted", "")
}

func TestBuildUpstreamURL_AbsoluteBaseKeepsItsOwnPath(t *testing.T) {
	rc := reqctx.Context{Host: "example.com", Path: "/go", Query: map[string]string{"a": "1"}}
	got, err := buildUpstreamURL("https://origin.example/landing", rc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Path != "/landing" {
		t.Fatalf("expected the absolute base's own path to be kept, got %q", u.Path)
	}
	if u.Query().Get("a") != "1" {
		t.Fatalf("expected the request's query merged in, got %q", got)
	}
}

func TestBuildUpstreamURL_RelativeBaseAppendsRequestPath(t *testing.T) {
	rc := reqctx.Context{Host: "example.com", Path: "/go/deep", Query: map[string]string{}}
	got, err := buildUpstreamURL("/mirror", rc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Path != "/mirror/go/deep" {
		t.Fatalf("got path %q", u.Path)
	}
}

func TestSignalsSufficient_DesktopKnownStaleOSIsInsufficient(t *testing.T) {
	rc := reqctx.Context{UA: reqctx.UA{Device: "desktop", OSVersion: "10.15.7"}}
	if signalsSufficient(rc) {
		t.Fatalf("a known-stale desktop OS version should be insufficient")
	}
}

func TestSignalsSufficient_MobileIOSSafariIsInsufficient(t *testing.T) {
	rc := reqctx.Context{UA: reqctx.UA{Device: "mobile", OSVersion: "17.0", OS: "iOS", Browser: "Safari"}}
	if signalsSufficient(rc) {
		t.Fatalf("mobile iOS Safari should be treated as insufficient")
	}
}

func TestSignalsSufficient_MobileNonSafariWithVersionIsSufficient(t *testing.T) {
	rc := reqctx.Context{UA: reqctx.UA{Device: "mobile", OSVersion: "14", OS: "Android", Browser: "Chrome"}}
	if !signalsSufficient(rc) {
		t.Fatalf("mobile non-Safari with an OS version should be sufficient")
	}
}
