package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/darwin-lab/strategy-evolution/internal/metrics"
)

func TestRegistry_HandlerExposesRegisteredMetrics(t *testing.T) {
	reg := metrics.New()
	reg.EvalsCompleted.Inc()
	reg.CacheHits.Inc()
	reg.CacheMisses.Inc()
	reg.LLMLatency.Observe(1.5)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body := new(strings.Builder)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body.Write(buf[:n])
		if rerr != nil {
			break
		}
	}

	for _, want := range []string{
		"strategy_evolution_evals_completed_total",
		"strategy_evolution_llm_cache_hits_total",
		"strategy_evolution_llm_cache_misses_total",
		"strategy_evolution_llm_call_latency_seconds",
	} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("expected /metrics output to contain %q, got:\n%s", want, body.String())
		}
	}
}

func TestNew_DoesNotPanicWhenCalledTwice(t *testing.T) {
	metrics.New()
	metrics.New()
}
