package observability

import "time"

// MetricsRegistry decouples dispatch components from direct access to the
// global Prometheus metrics, matching the teacher's dependency-injection
// seam for testability.
type MetricsRegistry interface {
	IncrementRequests(route, status string)
	RecordRequestLatency(route string, duration time.Duration)

	IncrementResolve(outcome string)
	IncrementBlock(reason string)
	IncrementMatch(matched bool)
	IncrementSelectorDraw(kind string)
	IncrementAction(mode, status string)
	IncrementMacroExpansion(mode string)
	IncrementEvent(eventType, outcome string)
	IncrementClickOut(status string)
	IncrementPostback(outcome string)
	IncrementCacheResult(cache, result string)
	RecordProxyFetchLatency(status string, duration time.Duration)
}

// PrometheusRegistry implements MetricsRegistry using the package's global
// Prometheus collectors.
type PrometheusRegistry struct{}

func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(route, status string) {
	RequestCount.WithLabelValues(route, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(route string, duration time.Duration) {
	RequestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementResolve(outcome string) {
	ResolveCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementBlock(reason string) {
	BlockCount.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementMatch(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	MatchCount.WithLabelValues(label).Inc()
}

func (r *PrometheusRegistry) IncrementSelectorDraw(kind string) {
	SelectorDraws.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementAction(mode, status string) {
	ActionCount.WithLabelValues(mode, status).Inc()
}

func (r *PrometheusRegistry) IncrementMacroExpansion(mode string) {
	MacroExpansions.WithLabelValues(mode).Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType, outcome string) {
	EventCount.WithLabelValues(eventType, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementClickOut(status string) {
	ClickOutCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementPostback(outcome string) {
	PostbackCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementCacheResult(cache, result string) {
	CacheHits.WithLabelValues(cache, result).Inc()
}

func (r *PrometheusRegistry) RecordProxyFetchLatency(status string, duration time.Duration) {
	ProxyFetchLatency.WithLabelValues(status).Observe(duration.Seconds())
}

// NoOpRegistry implements MetricsRegistry with no-op methods, used in tests
// that don't care about metrics output.
type NoOpRegistry struct{}

func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(route, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(route string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementResolve(outcome string)                          {}
func (r *NoOpRegistry) IncrementBlock(reason string)                             {}
func (r *NoOpRegistry) IncrementMatch(matched bool)                              {}
func (r *NoOpRegistry) IncrementSelectorDraw(kind string)                        {}
func (r *NoOpRegistry) IncrementAction(mode, status string)                      {}
func (r *NoOpRegistry) IncrementMacroExpansion(mode string)                      {}
func (r *NoOpRegistry) IncrementEvent(eventType, outcome string)                 {}
func (r *NoOpRegistry) IncrementClickOut(status string)                         {}
func (r *NoOpRegistry) IncrementPostback(outcome string)                        {}
func (r *NoOpRegistry) IncrementCacheResult(cache, result string)                {}
func (r *NoOpRegistry) RecordProxyFetchLatency(status string, duration time.Duration) {}
