// Package metrics wires the counters and histograms the ambient stack
// asks for: evals completed, LLM cache hits/misses, and LLM call
// latency. Grounded on the example pack's Prometheus idiom (a
// MetricsRegistry struct of prometheus.Counter/Histogram fields,
// constructed once and registered against its own prometheus.Registry
// rather than the global DefaultRegisterer, so a process can construct
// more than one Registry — e.g. in tests — without a duplicate
// registration panic).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this build exports.
type Registry struct {
	reg *prometheus.Registry

	EvalsCompleted prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	LLMLatency     prometheus.Histogram
}

// New builds a Registry with all metrics registered against a private
// prometheus.Registry. Safe to call more than once per process (each
// call owns its own registry), unlike prometheus.MustRegister against
// the package-global DefaultRegisterer.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		EvalsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_evolution_evals_completed_total",
			Help: "Total number of graph evaluations completed by the Evolution Driver.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_evolution_llm_cache_hits_total",
			Help: "Total number of LLM calls served from the on-disk response cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strategy_evolution_llm_cache_misses_total",
			Help: "Total number of LLM calls that required a provider round trip.",
		}),
		LLMLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strategy_evolution_llm_call_latency_seconds",
			Help:    "Latency of LLM provider round trips, cache misses only.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}

	reg.MustRegister(r.EvalsCompleted, r.CacheHits, r.CacheMisses, r.LLMLatency)
	return r
}

// Handler exposes the registry in Prometheus text exposition format, for
// mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
