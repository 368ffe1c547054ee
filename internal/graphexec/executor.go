package graphexec

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"go.uber.org/zap"
)

// Config carries the run-wide parameters the fitness formula and warmup
// checks need; the precise weights are fixed per run and persisted in
// run_config.json per spec §4.1 "Fitness".
type Config struct {
	WarmupBars          int
	MinTradesPerEpisode int
	DrawdownLambda      float64 // λ in (total_return − λ·max_drawdown)
	Commission          float64 // fraction of notional, deterministic
	SlippageBps         float64 // deterministic bps of price
}

// DefaultConfig returns the weights this build fixes absent run-specific
// overrides; callers MUST still persist whatever Config they actually use.
func DefaultConfig() Config {
	return Config{
		WarmupBars:          50,
		MinTradesPerEpisode: 3,
		DrawdownLambda:      0.5,
		Commission:          0.0005,
		SlippageBps:         1,
	}
}

// Executor evaluates a validated StrategyGraph against one BarFrame.
type Executor struct {
	logger   *zap.Logger
	registry *graph.Registry
	config   Config
}

// New creates an Executor bound to a node registry and run config.
func New(logger *zap.Logger, registry *graph.Registry, config Config) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger, registry: registry, config: config}
}

// Run executes g against frame and returns one EpisodeResult. It never
// panics on a malformed graph or missing data: every failure mode spec
// §4.1 names is captured into EpisodeResult.ErrorDetails instead, with
// fitness forced to domain.ExecutionFailureFitness and decision killed.
func (e *Executor) Run(g *graph.StrategyGraph, frame *domain.BarFrame, initialCapital float64, spec domain.EpisodeSpec) (result domain.EpisodeResult) {
	result.Spec = spec

	defer func() {
		if r := recover(); r != nil {
			result.Fitness = domain.ExecutionFailureFitness
			result.Decision = domain.DecisionKill
			result.KillReason = []string{domain.KillReasonEpisodeFailure}
			result.ErrorDetails = &domain.ErrorDetails{
				Type:    "panic",
				Message: fmt.Sprintf("%v", r),
			}
		}
	}()

	if frame.Len() < e.config.WarmupBars {
		return e.fail(spec, "insufficient_bars", fmt.Sprintf("frame has %d bars, need >= %d warmup bars", frame.Len(), e.config.WarmupBars))
	}

	order := graph.TopoOrder(g)
	if len(order) != len(g.Nodes) {
		return e.fail(spec, "unresolved_input_reference", "topological sort could not order all nodes (cycle or dangling reference)")
	}

	rng := seededRNG(g.GraphID, spec.Label)

	vals := make(map[string]map[string]output, len(g.Nodes))
	var finalOrders *orderBatchValue

	for _, id := range order {
		n, _ := g.NodeByID(id)
		spec2, ok := e.registry.Spec(n.Type)
		if !ok {
			return e.fail(spec, "unknown_node_type", fmt.Sprintf("node %s has unregistered type %q", n.ID, n.Type))
		}
		in := func(port string) (output, error) {
			ref, ok := n.Inputs[port]
			if !ok {
				return output{}, fmt.Errorf("node %s missing required input %q", n.ID, port)
			}
			srcOuts, ok := vals[ref.NodeID]
			if !ok {
				return output{}, fmt.Errorf("node %s input %q references unevaluated node %s", n.ID, port, ref.NodeID)
			}
			v, ok := srcOuts[ref.Output]
			if !ok {
				return output{}, fmt.Errorf("node %s input %q references unknown output %s.%s", n.ID, port, ref.NodeID, ref.Output)
			}
			return v, nil
		}

		outs, err := e.evalNode(n, spec2, frame, in, rng)
		if err != nil {
			return e.fail(spec, "node_evaluation_error", err.Error())
		}
		vals[n.ID] = outs

		if n.Type == graph.NodeRiskManagerDaily || n.Type == graph.NodeBracketOrder {
			if ob, ok := outs["out"]; ok && ob.orders != nil {
				finalOrders = ob.orders
			}
		}
	}

	if finalOrders == nil {
		return e.fail(spec, "no_terminal_order_output", "graph produced no order batch")
	}

	fitness, maxDD := computeFitness(initialCapital, finalOrders, e.config)
	result.NTrades = len(finalOrders.Trades)
	result.Fitness = fitness
	result.TradeReturns = tradeReturns(finalOrders.Trades, initialCapital)
	_ = maxDD

	if result.NTrades < e.config.MinTradesPerEpisode {
		result.KillReason = append(result.KillReason, domain.KillReasonTooFewTrades)
	}
	if len(result.KillReason) > 0 {
		result.Decision = domain.DecisionKill
	} else {
		result.Decision = domain.DecisionSurvive
	}
	return result
}

// tradeReturns expresses each trade's PnL as a fraction of initial
// capital, for internal/montecarlo's bootstrap resampling.
func tradeReturns(trades []SimulatedTrade, initialCapital float64) []float64 {
	if initialCapital <= 0 || len(trades) == 0 {
		return nil
	}
	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.PnL / initialCapital
	}
	return returns
}

func (e *Executor) fail(spec domain.EpisodeSpec, kind, message string) domain.EpisodeResult {
	return domain.EpisodeResult{
		Spec:       spec,
		Fitness:    domain.ExecutionFailureFitness,
		Decision:   domain.DecisionKill,
		KillReason: []string{domain.KillReasonEpisodeFailure},
		ErrorDetails: &domain.ErrorDetails{
			Type:    kind,
			Message: message,
		},
	}
}

// seededRNG derives a deterministic RNG from (graph_id, episode.label),
// per spec §4.1 Determinism: "all RNG ... is seeded from (graph_id,
// episode.label)".
func seededRNG(graphID, label string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(graphID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(label))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// computeFitness reduces the simulated trades and equity curve to the
// single scalar spec §4.1 specifies: (total_return − λ·max_drawdown)
// scaled by a trade-count adequacy factor. It also returns max drawdown
// for callers that want to report it separately.
func computeFitness(initialCapital float64, ob *orderBatchValue, cfg Config) (fitness, maxDrawdown float64) {
	if initialCapital <= 0 || len(ob.Equity) == 0 {
		return 0, 0
	}
	equity := make([]float64, len(ob.Equity))
	for i, cumPnL := range ob.Equity {
		equity[i] = initialCapital + cumPnL
	}
	finalEquity := equity[len(equity)-1]
	totalReturn := (finalEquity - initialCapital) / initialCapital

	peak := equity[0]
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	adequacy := tradeAdequacy(len(ob.Trades), cfg.MinTradesPerEpisode)
	fitness = (totalReturn - cfg.DrawdownLambda*maxDrawdown) * adequacy
	if math.IsNaN(fitness) || math.IsInf(fitness, 0) {
		fitness = domain.ExecutionFailureFitness
	}
	return fitness, maxDrawdown
}

// tradeAdequacy scales fitness down when a strategy barely trades: a
// strategy that clears the floor gets full credit, one at zero trades
// gets none, and the ramp between is linear. This keeps a near-static
// strategy from posting an inflated fitness off one lucky trade.
func tradeAdequacy(nTrades, floor int) float64 {
	if floor <= 0 {
		return 1
	}
	if nTrades >= floor {
		return 1
	}
	return float64(nTrades) / float64(floor)
}
