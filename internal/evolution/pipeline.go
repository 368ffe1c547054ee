package evolution

import (
	"context"
	"fmt"

	"github.com/darwin-lab/strategy-evolution/internal/episode"
	"github.com/darwin-lab/strategy-evolution/internal/graphexec"
	"github.com/darwin-lab/strategy-evolution/internal/montecarlo"
	"github.com/darwin-lab/strategy-evolution/internal/robust"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

// Phase3Mode selects whether a graph is judged on one baseline backtest
// or on the full multi-episode robustness evaluator.
type Phase3Mode string

const (
	Phase3ModeBaseline Phase3Mode = "baseline"
	Phase3ModeEpisodes Phase3Mode = "episodes"
)

// Phase3Config mirrors spec §6's documented Phase 3 sampling defaults.
// The Robust Aggregator's own penalty weights (internal/robust.Config)
// are configured separately, on the *robust.Aggregator passed to
// NewEvalPipeline.
type Phase3Config struct {
	Enabled      bool
	Mode         Phase3Mode
	NEpisodes    int
	SamplingMode episode.Mode

	// WindowBars is stratified_by_regime's fixed candidate window length.
	WindowBars int

	// MinWindowBars/MaxWindowBars bound random mode's per-episode window
	// length (spec §4.3's min_months/max_months, converted to bars by
	// episode.MonthsToBars); MinBars floors the draw.
	MinWindowBars int
	MaxWindowBars int
	MinBars       int

	StepBars int
	Seed     int64
}

// DefaultPhase3Config matches spec §6. MinWindowBars/MaxWindowBars/MinBars
// are left zero here -- callers (cmd/evolve) populate them from
// config.Phase3ConfigFields' MinMonths/MaxMonths/MinBars; leaving them
// unset falls back to a fixed WindowBars-length window, which is also
// the shape every existing caller that only sets WindowBars expects.
func DefaultPhase3Config() Phase3Config {
	return Phase3Config{
		Enabled:      false,
		Mode:         Phase3ModeBaseline,
		NEpisodes:    8,
		SamplingMode: episode.ModeRandom,
		WindowBars:   120,
	}
}

// EvalPipeline wires the Episode Sampler, DAG Executor, and Robust
// Aggregator into the single EvalFunc the Driver calls once per graph.
// It is the concrete realization SPEC_FULL.md §4.5 names: the Driver
// itself never imports internal/episode, internal/graphexec, or
// internal/robust directly.
type EvalPipeline struct {
	sampler    *episode.Sampler
	executor   *graphexec.Executor
	aggregator *robust.Aggregator
	frame      *domain.BarFrame
	phase3     Phase3Config
	initialCap float64
}

// NewEvalPipeline builds an EvalPipeline over one universe (BarFrame).
func NewEvalPipeline(sampler *episode.Sampler, executor *graphexec.Executor, aggregator *robust.Aggregator, frame *domain.BarFrame, phase3 Phase3Config, initialCapital float64) *EvalPipeline {
	return &EvalPipeline{
		sampler:    sampler,
		executor:   executor,
		aggregator: aggregator,
		frame:      frame,
		phase3:     phase3,
		initialCap: initialCapital,
	}
}

// Evaluate is an EvalFunc: baseline mode runs one backtest over the
// whole frame; episodes mode samples phase3.NEpisodes windows and
// aggregates per spec §4.4.
func (p *EvalPipeline) Evaluate(ctx context.Context, g *graph.StrategyGraph) (domain.EvaluationResult, error) {
	if !p.phase3.Enabled || p.phase3.Mode == Phase3ModeBaseline {
		return p.evaluateBaseline(g)
	}
	return p.evaluateEpisodes(g)
}

func (p *EvalPipeline) evaluateBaseline(g *graph.StrategyGraph) (domain.EvaluationResult, error) {
	spec := domain.EpisodeSpec{Label: "baseline"}
	er := p.executor.Run(g, p.frame, p.initialCap, spec)

	decision := domain.DecisionSurvive
	var killReasons []string
	if er.Fitness < 0 {
		decision = domain.DecisionKill
		killReasons = append(killReasons, er.KillReason...)
	}

	return domain.EvaluationResult{
		GraphID:    g.GraphID,
		Fitness:    er.Fitness,
		Decision:   decision,
		KillReason: killReasons,
		ValidationReport: domain.ValidationReport{
			BaselineFitness: er.Fitness,
			BaselineTrades:  er.NTrades,
			MonteCarlo:      montecarlo.Simulate(er.TradeReturns, montecarlo.DefaultConfig()),
		},
	}, nil
}

func (p *EvalPipeline) evaluateEpisodes(g *graph.StrategyGraph) (domain.EvaluationResult, error) {
	opts := episode.Options{
		Mode:          p.phase3.SamplingMode,
		WindowBars:    p.phase3.WindowBars,
		MinWindowBars: p.phase3.MinWindowBars,
		MaxWindowBars: p.phase3.MaxWindowBars,
		MinBars:       p.phase3.MinBars,
		Count:         p.phase3.NEpisodes,
		StepBars:      p.phase3.StepBars,
		Seed:          p.phase3.Seed,
	}
	specs, err := p.sampler.Sample(p.frame, opts)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("evolution: sample episodes for %s: %w", g.GraphID, err)
	}

	results := make([]domain.EpisodeResult, len(specs))
	for i, spec := range specs {
		start := p.frame.IndexAtOrAfter(spec.StartTS)
		end := p.frame.IndexAtOrAfter(spec.EndTS) + 1
		if end > p.frame.Len() {
			end = p.frame.Len()
		}
		results[i] = p.executor.Run(g, p.frame.Slice(start, end), p.initialCap, spec)
	}

	agg, killReasons, err := p.aggregator.Aggregate(results)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("evolution: aggregate %s: %w", g.GraphID, err)
	}

	decision := domain.DecisionSurvive
	if len(killReasons) > 0 {
		decision = domain.DecisionKill
	}

	return domain.EvaluationResult{
		GraphID:    g.GraphID,
		Fitness:    agg.AggregatedFitness,
		Decision:   decision,
		KillReason: killReasons,
		ValidationReport: domain.ValidationReport{
			RobustAggregate: agg,
		},
	}, nil
}
