package graphexec

import "math"

// sma computes a simple moving average over period bars, causal: sma[i]
// only ever looks at in[i-period+1..i]. Bars before the window fills are
// NaN rather than a partial average — spec §4.1 requires indicators to
// "produce time-aligned series using only causal (non-look-ahead) windows."
func sma(in []float64, period int) seriesValue {
	out := make(seriesValue, len(in))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i, v := range in {
		sum += v
		if i >= period {
			sum -= in[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// ema computes an exponential moving average, seeded by the SMA of the
// first `period` bars (the conventional warmup) and NaN before that.
func ema(in []float64, period int) seriesValue {
	out := make(seriesValue, len(in))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	alpha := 2.0 / float64(period+1)
	var sum float64
	var prev float64
	seeded := false
	for i, v := range in {
		if i < period-1 {
			sum += v
			out[i] = math.NaN()
			continue
		}
		if !seeded {
			sum += v
			prev = sum / float64(period)
			out[i] = prev
			seeded = true
			continue
		}
		prev = alpha*v + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// rsi computes Wilder's RSI over period bars, NaN until the warmup window
// has elapsed. A zero denominator (no losses at all in the window) is
// treated as RSI=100 rather than dividing by zero, per the "division by
// zero in indicator warmup" failure mode spec §4.1 calls out.
func rsi(in []float64, period int) seriesValue {
	out := make(seriesValue, len(in))
	if period <= 0 || len(in) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var avgGain, avgLoss float64
	for i := range in {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		delta := in[i] - in[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)

		if i <= period {
			avgGain += gain
			avgLoss += loss
			if i < period {
				out[i] = math.NaN()
				continue
			}
			avgGain /= float64(period)
			avgLoss /= float64(period)
		} else {
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}

		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}

// atr computes Wilder's Average True Range over period bars.
func atr(high, low, close []float64, period int) seriesValue {
	n := len(close)
	out := make(seriesValue, n)
	if period <= 0 || n == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	var avg float64
	for i := 0; i < n; i++ {
		if i < period-1 {
			avg += tr[i]
			out[i] = math.NaN()
			continue
		}
		if i == period-1 {
			avg += tr[i]
			avg /= float64(period)
			out[i] = avg
			continue
		}
		avg = (avg*float64(period-1) + tr[i]) / float64(period)
		out[i] = avg
	}
	return out
}

// crossUp reports, per bar, whether lhs crossed above rhs at that bar
// (lhs[i-1] <= rhs[i-1] && lhs[i] > rhs[i]).
func crossUp(lhs, rhs []float64) boolSeriesValue {
	out := make(boolSeriesValue, len(lhs))
	for i := range lhs {
		if i == 0 || math.IsNaN(lhs[i-1]) || math.IsNaN(rhs[i-1]) || math.IsNaN(lhs[i]) || math.IsNaN(rhs[i]) {
			out[i] = false
			continue
		}
		out[i] = lhs[i-1] <= rhs[i-1] && lhs[i] > rhs[i]
	}
	return out
}

// crossDown reports, per bar, whether lhs crossed below rhs at that bar.
func crossDown(lhs, rhs []float64) boolSeriesValue {
	out := make(boolSeriesValue, len(lhs))
	for i := range lhs {
		if i == 0 || math.IsNaN(lhs[i-1]) || math.IsNaN(rhs[i-1]) || math.IsNaN(lhs[i]) || math.IsNaN(rhs[i]) {
			out[i] = false
			continue
		}
		out[i] = lhs[i-1] >= rhs[i-1] && lhs[i] < rhs[i]
	}
	return out
}

// broadcastScalar repeats a scalar into a series of the given length, so
// Compare can treat "series op scalar" uniformly with "series op series".
func broadcastScalar(v float64, length int) seriesValue {
	out := make(seriesValue, length)
	for i := range out {
		out[i] = v
	}
	return out
}
