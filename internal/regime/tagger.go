// Package regime tags a bar window with the (trend, vol_bucket,
// chop_bucket, event_day) tuple spec §4.2 names. Adapted from a
// streaming HMM regime detector: the HMM's continuous state machine is
// replaced with a single one-shot classification over the window's own
// bars, since episodes are evaluated in isolation rather than as a
// running stream.
package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

// Thresholds configures the cut points the Tagger classifies against.
// Field names mirror RegimeConfig vocabulary (VolThreshold,
// TrendThreshold) generalized to window-level tagging.
type Thresholds struct {
	TrendThreshold     float64 // |(close_end-close_start)/open_start| above this => up/down
	HighVolThreshold   float64 // annualized realized vol above this => high_vol
	LowVolThreshold     float64 // annualized realized vol below this => low_vol
	ChopRangeThreshold float64 // |close_end-close_start|/sum(|Δclose|) above this => trending
	EventDayMoveStd    float64 // single-bar return exceeding this many std devs => event_day
}

// DefaultThresholds returns the cut points this build fixes absent
// run-specific overrides.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TrendThreshold:     0.03,
		HighVolThreshold:   0.35,
		LowVolThreshold:    0.10,
		ChopRangeThreshold: 0.4,
		EventDayMoveStd:    4.0,
	}
}

// Tagger classifies a bar window into the regime tuple spec §4.2 uses
// for stratified sampling and per-regime fitness reporting.
type Tagger struct {
	logger     *zap.Logger
	thresholds Thresholds
}

// New creates a Tagger bound to a threshold configuration.
func New(logger *zap.Logger, thresholds Thresholds) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{logger: logger, thresholds: thresholds}
}

// Tag classifies frame and returns its RegimeTags. An empty or
// single-bar frame classifies as "unknown"/"unknown" with event_day
// false, since no trend or volatility can be estimated from it.
func (t *Tagger) Tag(frame *domain.BarFrame) domain.RegimeTags {
	closes := closeSeries(frame)
	if len(closes) < 2 {
		return domain.RegimeTags{Trend: "unknown", VolBucket: "unknown", ChopBucket: "unknown"}
	}

	returns := logReturns(closes)
	vol := annualizedVol(returns)
	change := netChange(closes, openStart(frame))
	efficiency := directionalEfficiency(closes)

	tags := domain.RegimeTags{
		Trend:      classifyTrend(change, t.thresholds.TrendThreshold),
		VolBucket:  classifyVol(vol, t.thresholds.LowVolThreshold, t.thresholds.HighVolThreshold),
		ChopBucket: classifyChop(efficiency, t.thresholds.ChopRangeThreshold),
		EventDay:   hasEventMove(returns, t.thresholds.EventDayMoveStd),
	}

	t.logger.Debug("tagged window",
		zap.String("trend", tags.Trend),
		zap.String("vol_bucket", tags.VolBucket),
		zap.String("chop_bucket", tags.ChopBucket),
		zap.Bool("event_day", tags.EventDay),
	)
	return tags
}

func closeSeries(frame *domain.BarFrame) []float64 {
	bars := frame.Bars()
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

func logReturns(closes []float64) []float64 {
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// annualizedVol treats the frame as hourly bars, the default bar
// granularity; callers tagging a different timeframe should scale
// Thresholds accordingly.
func annualizedVol(returns []float64) float64 {
	const barsPerYear = 24 * 365
	return stddev(returns) * math.Sqrt(barsPerYear)
}

// openStart returns the window's first bar's open price, or 0 if the
// frame has no bars.
func openStart(frame *domain.BarFrame) float64 {
	bars := frame.Bars()
	if len(bars) == 0 {
		return 0
	}
	return bars[0].Open.InexactFloat64()
}

// netChange is (close_end - close_start) / open_start, guarded against a
// near-zero open price (spec.md §4.2: "sign and magnitude of close
// change over the window ... with a guard for near-zero open prices").
func netChange(closes []float64, openStartPrice float64) float64 {
	if len(closes) < 2 || openStartPrice == 0 {
		return 0
	}
	return (closes[len(closes)-1] - closes[0]) / openStartPrice
}

// directionalEfficiency is |close_end − close_start| / sum(|Δclose|),
// spec.md §4.2's choppiness ratio: 1.0 means every bar moved the same
// direction (pure trend), near 0 means the path thrashed back and forth
// covering little net ground (pure chop).
func directionalEfficiency(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	var pathLength float64
	for i := 1; i < len(closes); i++ {
		pathLength += math.Abs(closes[i] - closes[i-1])
	}
	if pathLength == 0 {
		return 0
	}
	netMove := math.Abs(closes[len(closes)-1] - closes[0])
	return netMove / pathLength
}

func hasEventMove(returns []float64, stdMultiple float64) bool {
	if len(returns) == 0 {
		return false
	}
	sd := stddev(returns)
	if sd == 0 {
		return false
	}
	for _, r := range returns {
		if math.Abs(r) >= stdMultiple*sd {
			return true
		}
	}
	return false
}

func classifyTrend(change, threshold float64) string {
	switch {
	case change > threshold:
		return "up"
	case change < -threshold:
		return "down"
	default:
		return "flat"
	}
}

func classifyVol(vol, low, high float64) string {
	switch {
	case vol >= high:
		return "high"
	case vol <= low:
		return "low"
	default:
		return "mid"
	}
}

func classifyChop(efficiency, threshold float64) string {
	if efficiency > threshold {
		return "trending"
	}
	return "choppy"
}
