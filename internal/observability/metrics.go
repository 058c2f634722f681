package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total dispatch requests per route kind and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_requests_total",
			Help: "Total dispatch requests received",
		},
		[]string{"route", "status"},
	)

	// request latency in seconds per route
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_request_duration_seconds",
			Help:    "Histogram of dispatch request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// rule resolution outcomes (hit/miss)
	ResolveCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_resolve_total",
			Help: "Total rule resolution attempts",
		},
		[]string{"outcome"},
	)

	// block-filter decisions
	BlockCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_blocked_total",
			Help: "Total requests rejected by the block filter",
		},
		[]string{"reason"},
	)

	// matcher outcomes per bundle
	MatchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_match_total",
			Help: "Total rule-match evaluations",
		},
		[]string{"matched"},
	)

	// weighted selector draws, labelled by what kind of list was drawn from
	SelectorDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_selector_draws_total",
			Help: "Total weighted selector draws",
		},
		[]string{"kind"},
	)

	// action dispatch outcomes, labelled by delivery mode
	ActionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_actions_total",
			Help: "Total actions dispatched, by delivery mode",
		},
		[]string{"mode", "status"},
	)

	// macro expansion invocations
	MacroExpansions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_macro_expansions_total",
			Help: "Total macro-expansion calls",
		},
		[]string{"mode"},
	)

	// events accepted/dropped by the emitter, labelled by event type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_events_total",
			Help: "Total events recorded",
		},
		[]string{"type", "outcome"},
	)

	// click-out handling outcomes
	ClickOutCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_clickouts_total",
			Help: "Total click-out redirects issued",
		},
		[]string{"status"},
	)

	// postback acceptance outcomes
	PostbackCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_postbacks_total",
			Help: "Total postback conversions recorded",
		},
		[]string{"outcome"},
	)

	// destination/platform cache hit-or-miss, labelled by cache name
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_cache_hits_total",
			Help: "Total cache lookups by hit/miss",
		},
		[]string{"cache", "result"},
	)

	// upstream proxy fetch latency for the Proxy Rewriter
	ProxyFetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_proxy_fetch_duration_seconds",
			Help:    "Duration of upstream fetches performed by the proxy rewriter",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ResolveCount,
		BlockCount,
		MatchCount,
		SelectorDraws,
		ActionCount,
		MacroExpansions,
		EventCount,
		ClickOutCount,
		PostbackCount,
		CacheHits,
		ProxyFetchLatency,
	)
}
