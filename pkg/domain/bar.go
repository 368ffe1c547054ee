// Package domain holds the shared data schemas that cross subsystem
// boundaries: bar frames, episodes, evaluation results, and LLM
// transcripts. None of these types know how to execute or evaluate
// anything — they are the wire format the other packages agree on.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV sample. Timestamp is always populated on the Bar
// itself; BarFrame additionally tolerates callers that only ever
// populated a parallel index slice (see BarFrame.TimestampOf).
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// BarFrame is a contiguous time-indexed frame of bars for one symbol.
//
// A past defect (spec §3) was traced to the executor assuming timestamps
// only ever live as a Bar field ("column form"); some upstream loaders
// instead carry timestamps in a parallel index and leave Bar.Timestamp
// zero ("index form"). BarFrame accepts both: TimestampOf resolves
// whichever form populated the frame.
type BarFrame struct {
	Symbol string
	bars   []Bar
	index  []time.Time // parallel index form; nil when column form is used
}

// NewBarFrame builds a column-form frame: every Bar already carries its
// own Timestamp.
func NewBarFrame(symbol string, bars []Bar) *BarFrame {
	return &BarFrame{Symbol: symbol, bars: bars}
}

// NewIndexedBarFrame builds an index-form frame: timestamps live in a
// parallel slice, and the Bars themselves may leave Timestamp zero.
func NewIndexedBarFrame(symbol string, bars []Bar, index []time.Time) *BarFrame {
	return &BarFrame{Symbol: symbol, bars: bars, index: index}
}

// Bars returns the frame's bars in order. Callers must use TimestampOf
// rather than Bar.Timestamp to be agnostic to column vs. index form.
func (f *BarFrame) Bars() []Bar { return f.bars }

// Len returns the number of bars in the frame.
func (f *BarFrame) Len() int { return len(f.bars) }

// TimestampOf returns the effective timestamp of bar i, resolving either
// the column form (Bar.Timestamp) or the index form (parallel slice).
func (f *BarFrame) TimestampOf(i int) time.Time {
	if f.index != nil {
		return f.index[i]
	}
	return f.bars[i].Timestamp
}

// Slice returns the contiguous sub-frame [start, end), preserving
// whichever of column/index form the parent frame used.
func (f *BarFrame) Slice(start, end int) *BarFrame {
	if f.index != nil {
		return &BarFrame{Symbol: f.Symbol, bars: f.bars[start:end], index: f.index[start:end]}
	}
	return &BarFrame{Symbol: f.Symbol, bars: f.bars[start:end]}
}

// IndexAtOrAfter returns the first bar index whose effective timestamp is
// >= t, or Len() if none qualifies. Used to locate episode window bounds.
func (f *BarFrame) IndexAtOrAfter(t time.Time) int {
	lo, hi := 0, f.Len()
	for lo < hi {
		mid := (lo + hi) / 2
		if f.TimestampOf(mid).Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
