// Package robust implements the Robust Aggregator (spec §4.4): it
// reduces a set of per-episode EpisodeResults into one RobustAggregate
// and a survive/kill decision. Shaped as a config-driven checker
// producing a scored report with named penalty components, generalized
// from a single-backtest viability score to a multi-episode robustness
// aggregate.
package robust

import (
	"fmt"
	"math"
	"sort"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

const (
	KillReasonNegativeAggregate   = "phase3_negative_aggregate"
	KillReasonDispersion          = "phase3_dispersion"
	KillReasonDrawdownRegimeFail  = "phase3_drawdown_regime_failure"
)

// Config carries the tunables spec §6 names for Phase 3.
type Config struct {
	RegimePenaltyWeight       float64
	AbortOnAllEpisodeFailures bool
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{RegimePenaltyWeight: 0.3, AbortOnAllEpisodeFailures: true}
}

// AllEpisodesFailedError is the distinguished developer-observability
// error spec §4.4 Safety requires when every episode fails execution
// and AbortOnAllEpisodeFailures is set. It is not a production failure
// path — callers that disable the flag never see it.
type AllEpisodesFailedError struct {
	FirstErrors []*domain.ErrorDetails
}

func (e *AllEpisodesFailedError) Error() string {
	return fmt.Sprintf("robust: all %d episodes failed execution", len(e.FirstErrors))
}

// Aggregator reduces episode results into a RobustAggregate.
type Aggregator struct {
	config Config
}

// New creates an Aggregator bound to a Phase 3 config.
func New(config Config) *Aggregator {
	return &Aggregator{config: config}
}

// Aggregate computes the RobustAggregate and kill reasons for one set of
// episode results, all belonging to the same strategy. A non-nil error
// is either the zero-episode error or *AllEpisodesFailedError, per spec
// §4.4's safety contract.
func (a *Aggregator) Aggregate(results []domain.EpisodeResult) (*domain.RobustAggregate, []string, error) {
	if len(results) == 0 {
		return nil, nil, fmt.Errorf("robust: cannot aggregate zero episodes")
	}

	if allFailed(results) && a.config.AbortOnAllEpisodeFailures {
		first := make([]*domain.ErrorDetails, 0, 3)
		for _, r := range results {
			if r.ErrorDetails != nil {
				first = append(first, r.ErrorDetails)
			}
			if len(first) == 3 {
				break
			}
		}
		return nil, nil, &AllEpisodesFailedError{FirstErrors: first}
	}

	fitnesses := make([]float64, len(results))
	trades := make([]int, len(results))
	var errs []*domain.ErrorDetails
	for i, r := range results {
		fitnesses[i] = r.Fitness
		trades[i] = r.NTrades
		if r.ErrorDetails != nil {
			errs = append(errs, r.ErrorDetails)
		}
	}

	median := medianOf(fitnesses)
	worst := minOf(fitnesses)
	best := maxOf(fitnesses)
	std := stddevOf(fitnesses)

	worstCasePenalty := 0.0
	if worst < -0.5 {
		worstCasePenalty = 0.5
	}
	dispersionPenalty := 0.0
	if std > 0.3 {
		dispersionPenalty = 0.25
	}
	coverage := regimeCoverage(results)
	singleRegimePenalty := 0.0
	if isSingleRegimeDominated(coverage, positiveFitnessRegimeCounts(results)) {
		singleRegimePenalty = a.config.RegimePenaltyWeight
	}

	aggregatedFitness := median - (worstCasePenalty + dispersionPenalty + singleRegimePenalty)

	agg := &domain.RobustAggregate{
		AggregatedFitness:   aggregatedFitness,
		MedianFitness:       median,
		WorstFitness:        worst,
		BestFitness:         best,
		StdFitness:          std,
		WorstCasePenalty:    worstCasePenalty,
		DispersionPenalty:   dispersionPenalty,
		SingleRegimePenalty: singleRegimePenalty,
		RegimeCoverage:      coverage,
		NTradesPerEpisode:   trades,
		EpisodeErrors:       errs,
	}

	var killReasons []string
	if aggregatedFitness < 0 {
		killReasons = append(killReasons, KillReasonNegativeAggregate)
	}
	if dispersionPenalty != 0 {
		killReasons = append(killReasons, KillReasonDispersion)
	}
	if drawdownRegimeFailureRateExceeds(results, 0.5) {
		killReasons = append(killReasons, KillReasonDrawdownRegimeFail)
	}

	return agg, killReasons, nil
}

func allFailed(results []domain.EpisodeResult) bool {
	for _, r := range results {
		if r.ErrorDetails == nil {
			return false
		}
	}
	return true
}

func medianOf(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func stddevOf(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func regimeCoverage(results []domain.EpisodeResult) domain.RegimeCoverage {
	counts := make(map[string]int)
	fitnessSums := make(map[string]float64)
	fitnessCounts := make(map[string]int)
	for _, r := range results {
		key := regimeKey(r.Spec.Tags.Regime())
		counts[key]++
		fitnessSums[key] += r.Fitness
		fitnessCounts[key]++
	}
	perRegime := make(map[string]float64, len(fitnessSums))
	for key, sum := range fitnessSums {
		perRegime[key] = sum / float64(fitnessCounts[key])
	}
	return domain.RegimeCoverage{
		UniqueRegimes:    len(counts),
		RegimeCounts:     counts,
		PerRegimeFitness: perRegime,
	}
}

func regimeKey(tuple [3]string) string {
	return tuple[0] + "/" + tuple[1] + "/" + tuple[2]
}

func positiveFitnessRegimeCounts(results []domain.EpisodeResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Fitness <= 0 {
			continue
		}
		counts[regimeKey(r.Spec.Tags.Regime())]++
	}
	return counts
}

// isSingleRegimeDominated implements the "only one unique regime OR one
// regime holds >= 80% of positive-fitness episodes" test spec §4.4 names.
func isSingleRegimeDominated(coverage domain.RegimeCoverage, positiveCounts map[string]int) bool {
	if coverage.UniqueRegimes <= 1 {
		return true
	}
	var totalPositive int
	for _, count := range positiveCounts {
		totalPositive += count
	}
	if totalPositive == 0 {
		return false
	}
	var maxShare int
	for _, count := range positiveCounts {
		if count > maxShare {
			maxShare = count
		}
	}
	return float64(maxShare)/float64(totalPositive) >= 0.8
}

func drawdownRegimeFailureRateExceeds(results []domain.EpisodeResult, threshold float64) bool {
	var drawdownTotal, drawdownFailed int
	for _, r := range results {
		if r.Spec.Tags.Trend != "down" {
			continue
		}
		drawdownTotal++
		if r.Decision == domain.DecisionKill {
			drawdownFailed++
		}
	}
	if drawdownTotal == 0 {
		return false
	}
	return float64(drawdownFailed)/float64(drawdownTotal) > threshold
}
