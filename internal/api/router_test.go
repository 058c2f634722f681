package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/postback"
	"github.com/clickrelay/edge-dispatcher/internal/upstream"
)

func TestHandlePostback_MissingClickIDReturns404(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &events.Store{DB: db}
	srv := &Server{Postback: postback.New(store, nil)}

	req := httptest.NewRequest(http.MethodGet, "/postback", nil)
	w := httptest.NewRecorder()
	srv.handlePostback(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
}

func TestHandleEnrich_AlwaysRespondsNoContent(t *testing.T) {
	srv := &Server{Events: nil}
	req := httptest.NewRequest(http.MethodPost, "/t/enrich", strings.NewReader(`not even json`))
	w := httptest.NewRecorder()
	srv.handleEnrich(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204 regardless of payload validity", w.Code)
	}
}

func TestHandleEnrich_UpdatesEnrichmentWhenImpressionIDPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &events.Store{DB: db}
	srv := &Server{Events: store}

	mock.ExpectExec("ALTER TABLE events UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/t/enrich", strings.NewReader(`{"impressionId":"imp1","screen":"1x1"}`))
	w := httptest.NewRecorder()
	srv.handleEnrich(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleProxySession_MissingURLIs400(t *testing.T) {
	srv := &Server{Upstream: upstream.New(time.Second)}
	req := httptest.NewRequest(http.MethodGet, "/proxy-session", nil)
	w := httptest.NewRecorder()
	srv.handleProxySession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d", w.Code)
	}
}

func TestHandleProxySession_RelativeURLIs400(t *testing.T) {
	srv := &Server{Upstream: upstream.New(time.Second)}
	req := httptest.NewRequest(http.MethodGet, "/proxy-session?url=/not-absolute", nil)
	w := httptest.NewRecorder()
	srv.handleProxySession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d", w.Code)
	}
}

func TestHandleProxySession_RewritesLinksThroughProxyPath(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/next">go</a></body></html>`))
	}))
	defer upstreamSrv.Close()

	srv := &Server{Upstream: upstream.New(5 * time.Second)}
	req := httptest.NewRequest(http.MethodGet, "/proxy-session?url="+upstreamSrv.URL, nil)
	w := httptest.NewRecorder()
	srv.handleProxySession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/proxy-session?url=") {
		t.Fatalf("expected the discovered link rewritten to recurse through /proxy-session, got %q", w.Body.String())
	}
}

func TestNewRouter_RegistersMetricsAndEngineCatchAll(t *testing.T) {
	srv := &Server{Engine: nil, Upstream: upstream.New(time.Second)}
	// NewRouter must not panic building routes even with a nil Engine;
	// the catch-all route is only invoked on a real request.
	r := srv.NewRouter()
	if r == nil {
		t.Fatalf("expected a non-nil router")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected /metrics to be served, got %d", w.Code)
	}
}
