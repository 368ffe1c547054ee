// Package montecarlo bootstrap-resamples a closed set of trade returns
// to put confidence bounds on a single baseline backtest, for when
// episode-based robustness evaluation (Phase 3) is disabled. Trimmed
// down to the handful of summary statistics pkg/domain.MonteCarloReport
// carries.
package montecarlo

import (
	"math/rand"
	"sort"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

// Config controls the resampling run.
type Config struct {
	Iterations int
	Seed       int64
}

// DefaultConfig returns the default iteration count.
func DefaultConfig() Config {
	return Config{Iterations: 1000, Seed: 1}
}

// Simulate draws cfg.Iterations bootstrap samples (with replacement) of
// len(returns) trades each, sums each sample's returns into a total
// return, and reports the resulting distribution. Returns nil if there
// are no trades to resample.
func Simulate(returns []float64, cfg Config) *domain.MonteCarloReport {
	n := len(returns)
	if n == 0 {
		return nil
	}
	if cfg.Iterations <= 0 {
		cfg = DefaultConfig()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	totals := make([]float64, cfg.Iterations)
	losses := 0

	for i := 0; i < cfg.Iterations; i++ {
		var total float64
		for j := 0; j < n; j++ {
			total += returns[rng.Intn(n)]
		}
		totals[i] = total
		if total < 0 {
			losses++
		}
	}

	sort.Float64s(totals)
	return &domain.MonteCarloReport{
		Iterations:        cfg.Iterations,
		MedianReturn:      percentile(totals, 0.50),
		P05Return:         percentile(totals, 0.05),
		P95Return:         percentile(totals, 0.95),
		ProbabilityOfLoss: float64(losses) / float64(cfg.Iterations),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
