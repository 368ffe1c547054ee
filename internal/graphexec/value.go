// Package graphexec implements the DAG Executor (spec §4.1): it takes a
// validated StrategyGraph and a BarFrame and produces one EpisodeResult,
// vectorizing indicator computation over the whole frame and then
// walking bars in order to simulate bracket-order fills.
package graphexec

// seriesValue is a causal, time-aligned numeric stream. Entries before a
// node's warmup period are NaN rather than zero, so downstream Compare
// nodes never compare against a fabricated value.
type seriesValue []float64

// boolSeriesValue is a time-aligned boolean stream (comparison results).
type boolSeriesValue []bool

// signalValue marks, per bar, whether an entry/exit condition fires, plus
// which side it implies.
type signalValue struct {
	Side   string
	Active boolSeriesValue
}

// scalarValue is a single number, constant across the episode.
type scalarValue float64

// orderBatchValue is the terminal output of a BracketOrder node: the
// simulated trades it produced plus the per-bar equity curve the
// simulator walked to get them.
type orderBatchValue struct {
	Trades []SimulatedTrade
	Equity []float64 // per-bar cumulative PnL, aligned to the frame; computeFitness adds initial capital to get absolute equity
}

// SimulatedTrade is one completed round trip (entry through stop/target/
// exit) the order simulator produced.
type SimulatedTrade struct {
	EntryIndex int
	ExitIndex  int
	Side       string
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ExitReason string // "stop", "target", "exit_signal", "end_of_frame"
}

// output is the tagged union a node's evaluation produces for one output
// port. Exactly one field is meaningful, selected by which function
// produced it — the executor never inspects a discriminant tag because
// each node type's evaluator knows exactly what kind it returns.
type output struct {
	series seriesValue
	bools  boolSeriesValue
	signal *signalValue
	scalar scalarValue
	orders *orderBatchValue
}
