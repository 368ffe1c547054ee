package evolution

import (
	"math"
	"testing"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/episode"
	"github.com/darwin-lab/strategy-evolution/internal/graphexec"
	"github.com/darwin-lab/strategy-evolution/internal/regime"
	"github.com/darwin-lab/strategy-evolution/internal/robust"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"github.com/shopspring/decimal"
)

func sawtoothFrame(n int) *domain.BarFrame {
	bars := make([]domain.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%20 < 10 {
			price += 1
		} else {
			price -= 1
		}
		d := decimal.NewFromFloat(price)
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(0.5)),
			Low:       d.Sub(decimal.NewFromFloat(0.5)),
			Close:     d,
			Volume:    decimal.NewFromFloat(1000),
		}
	}
	return domain.NewBarFrame("TEST", bars)
}

func crossoverGraph(id string) *graph.StrategyGraph {
	return &graph.StrategyGraph{
		GraphID: id,
		Nodes: []graph.Node{
			{ID: "md", Type: graph.NodeMarketData, Params: map[string]graph.Value{"symbol": graph.StringValue("TEST")}},
			{ID: "fast", Type: graph.NodeSMA, Params: map[string]graph.Value{"period": graph.NumberValue(3)},
				Inputs: map[string]graph.PortRef{"in": {NodeID: "md", Output: "close"}}},
			{ID: "slow", Type: graph.NodeSMA, Params: map[string]graph.Value{"period": graph.NumberValue(8)},
				Inputs: map[string]graph.PortRef{"in": {NodeID: "md", Output: "close"}}},
			{ID: "cmp", Type: graph.NodeCompare, Params: map[string]graph.Value{"op": graph.StringValue("cross_up")},
				Inputs: map[string]graph.PortRef{"lhs": {NodeID: "fast", Output: "out"}, "rhs": {NodeID: "slow", Output: "out"}}},
			{ID: "entry", Type: graph.NodeEntrySignal, Params: map[string]graph.Value{"side": graph.StringValue("buy")},
				Inputs: map[string]graph.PortRef{"condition": {NodeID: "cmp", Output: "out"}}},
			{ID: "stop", Type: graph.NodeStopLossFixed, Params: map[string]graph.Value{"pct": graph.NumberValue(0.05)}},
			{ID: "target", Type: graph.NodeTakeProfitFixed, Params: map[string]graph.Value{"pct": graph.NumberValue(0.05)}},
			{ID: "size", Type: graph.NodePositionSizeFixed, Params: map[string]graph.Value{"notional": graph.NumberValue(10)}},
			{ID: "bracket", Type: graph.NodeBracketOrder, Inputs: map[string]graph.PortRef{
				"entry": {NodeID: "entry", Output: "out"}, "stop": {NodeID: "stop", Output: "out"},
				"target": {NodeID: "target", Output: "out"}, "size": {NodeID: "size", Output: "out"},
			}},
		},
	}
}

func TestEvalPipeline_BaselineModeProducesFiniteFitness(t *testing.T) {
	reg := graph.DefaultRegistry()
	exec := graphexec.New(nil, reg, graphexec.DefaultConfig())
	frame := sawtoothFrame(120)

	pipeline := NewEvalPipeline(nil, exec, nil, frame, DefaultPhase3Config(), 10000)

	er, err := pipeline.Evaluate(nil, crossoverGraph("g1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.ValidationReport.BaselineTrades == 0 {
		t.Fatalf("expected baseline mode to record trades")
	}
	if math.IsNaN(er.Fitness) || math.IsInf(er.Fitness, 0) {
		t.Fatalf("expected a finite baseline fitness, got %v", er.Fitness)
	}
}

func TestEvalPipeline_EpisodesModeAggregates(t *testing.T) {
	reg := graph.DefaultRegistry()
	exec := graphexec.New(nil, reg, graphexec.DefaultConfig())
	frame := sawtoothFrame(400)
	sampler := episode.New(regime.New(nil, regime.DefaultThresholds()))
	agg := robust.New(robust.DefaultConfig())

	phase3 := DefaultPhase3Config()
	phase3.Enabled = true
	phase3.Mode = Phase3ModeEpisodes
	phase3.NEpisodes = 4
	phase3.WindowBars = 60
	phase3.Seed = 7

	pipeline := NewEvalPipeline(sampler, exec, agg, frame, phase3, 10000)

	er, err := pipeline.Evaluate(nil, crossoverGraph("g2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if er.ValidationReport.RobustAggregate == nil {
		t.Fatalf("expected episodes mode to produce a RobustAggregate")
	}
	if len(er.ValidationReport.RobustAggregate.NTradesPerEpisode) != phase3.NEpisodes {
		t.Fatalf("expected %d per-episode trade counts, got %d", phase3.NEpisodes, len(er.ValidationReport.RobustAggregate.NTradesPerEpisode))
	}
}
