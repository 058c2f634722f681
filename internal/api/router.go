// Package api wires the engine and standalone endpoints (postback,
// enrichment beacon, transparent proxy-session) into HTTP routes. Grounded
// on the teacher's tools/cmd/server/main.go route-registration style: one
// gorilla/mux router, each path bound to a thin handler method that
// delegates immediately to a collaborator.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clickrelay/edge-dispatcher/internal/dispatch"
	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
	"github.com/clickrelay/edge-dispatcher/internal/postback"
	"github.com/clickrelay/edge-dispatcher/internal/rewrite"
	"github.com/clickrelay/edge-dispatcher/internal/upstream"
)

// Server aggregates the route handlers, mirroring the teacher's api.Server
// dependency-holding struct.
type Server struct {
	Engine   *dispatch.Engine
	Postback *postback.Handler
	Events   *events.Store
	Upstream *upstream.Fetcher
	Metrics  observability.MetricsRegistry
}

// NewRouter builds the gorilla/mux router for every route in §6's Inbound
// HTTP table.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/postback", s.handlePostback).Methods(http.MethodGet)
	r.HandleFunc("/t/enrich", s.handleEnrich).Methods(http.MethodPost)
	r.HandleFunc("/proxy-session", s.handleProxySession).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").HandlerFunc(s.Engine.ServeHTTP).Methods(http.MethodGet)

	return r
}

// handlePostback implements §4.13.
func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	res := s.Postback.Handle(r.Context(), r.URL.Query())
	if !res.Found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// enrichBody mirrors the /t/enrich JSON body shape from §6.
type enrichBody struct {
	ImpressionID string `json:"impressionId"`
	Screen       string `json:"screen"`
	DPR          float64 `json:"dpr"`
	GPU          string  `json:"gpu"`
	TZ           string  `json:"tz"`
	Model        string  `json:"model"`
	OSVersion    string  `json:"osVersion"`
	Arch         string  `json:"arch"`
}

// handleEnrich implements §6's POST /t/enrich: best-effort update of the
// corresponding event's enrichment columns, always responds 204 regardless
// of outcome (the client never waits on it and there is nothing useful to
// report back).
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	w.WriteHeader(http.StatusNoContent)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return
	}
	var payload enrichBody
	if err := json.Unmarshal(body, &payload); err != nil || payload.ImpressionID == "" {
		return
	}
	if s.Events == nil {
		return
	}
	if err := s.Events.UpdateEnrichment(r.Context(), payload.ImpressionID, string(body)); err != nil {
		zap.L().Warn("enrichment update failed", zap.Error(err), zap.String("impression_id", payload.ImpressionID))
	}
}

// handleProxySession implements §6's transparent recursive proxy: fetch
// url=, rewrite links to recurse through /proxy-session instead of
// absolutizing against the upstream host directly.
func (s *Server) handleProxySession(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	resp, err := s.Upstream.Get(r.Context(), raw, nil)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusInternalServerError)
		return
	}

	body := resp.Body
	if strings.HasPrefix(resp.ContentType, "text/html") {
		body = rewrite.HTML(body, recursiveProxyRewriter(target))
	} else if strings.HasPrefix(resp.ContentType, "text/css") {
		body = []byte(rewrite.CSS(string(body), recursiveProxyRewriter(target)))
	}

	for k, vs := range resp.Header {
		switch strings.ToLower(k) {
		case "content-length", "content-security-policy", "strict-transport-security":
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// recursiveProxyRewriter absolutizes each discovered URL against base, then
// wraps it so it recurses through /proxy-session instead of hitting the
// upstream host directly.
func recursiveProxyRewriter(base *url.URL) rewrite.RewriteFunc {
	absolute := rewrite.AbsoluteRewriter(base)
	return func(raw string) string {
		abs := absolute(raw)
		if abs == raw && !strings.HasPrefix(raw, "http") {
			return raw
		}
		return "/proxy-session?url=" + url.QueryEscape(abs)
	}
}
