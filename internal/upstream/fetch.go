// Package upstream issues the outbound GET requests the Proxy Rewriter (C8)
// and Modifications Rewriter (C10) apply their transforms to. Grounded on
// the teacher's context-deadline-respecting HTTP client usage (the
// CTR_PREDICTOR_TIMEOUT-bounded predictor client referenced in
// internal/config/config.go), generalized from a JSON-API client to a
// streaming content fetcher.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the minimal upstream response shape the rewriters need.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Fetcher performs bounded-deadline GETs against absolute URLs.
type Fetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// Get issues a GET to rawURL, respecting f.Timeout as a hard deadline. Per
// §7 "Upstream fetch failure": non-2xx statuses are returned as a Response
// so the caller can decide how to propagate them; transport-level errors
// (including deadline exceeded) are returned as an error so the caller can
// fall back to a generic 500.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	const maxBody = 16 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}
