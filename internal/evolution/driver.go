// Package evolution implements the Evolution Driver (spec §4.5): the
// generational loop that compiles a seed, evaluates it across sampled
// episodes, selects parents under an elitism/floor/rescue policy, and
// mutates survivors until a budget or termination condition is hit.
// Shaped as a top-level coordinator (a struct of subsystem references
// behind a mutex and an atomic running flag) running a generation loop
// (evaluate population, pick survivors, produce the next population),
// generalized from a fixed-size GA population to a graph-lineage tree
// with explicit kill/survive decisions.
package evolution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/darwin-lab/strategy-evolution/internal/events"
	"github.com/darwin-lab/strategy-evolution/internal/metrics"
	"github.com/darwin-lab/strategy-evolution/internal/workers"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"go.uber.org/zap"
)

// Compiler turns a natural-language seed into a first strategy graph.
// Satisfied by internal/llmiface.Client.
type Compiler interface {
	Compile(ctx context.Context, seedText string) (*graph.StrategyGraph, error)
}

// Mutator produces one child graph from a parent and its evaluation.
// Satisfied by internal/llmiface.Client.
type Mutator interface {
	Mutate(ctx context.Context, parent *graph.StrategyGraph, evalResult domain.EvaluationResult) (*graph.StrategyGraph, error)
}

// ArtifactSink persists the run directory spec §6 names. Satisfied by
// internal/artifacts.Writer. Kept as an interface, the same way
// Compiler/Mutator/EvalFunc are, so the generation-loop logic stays
// testable without touching a filesystem.
type ArtifactSink interface {
	WriteGraph(g *graph.StrategyGraph) error
	WriteEval(result domain.EvaluationResult) error
	WriteLineageEdge(parent, child string, generation int) error
}

// Params carries spec §4.5's evolution parameters plus the
// [EXPANSION] WorkerPoolSize field SPEC_FULL.md §5 adds.
type Params struct {
	Depth             int
	Branching         int
	SurvivorsPerLayer int
	MinSurvivorsFloor int
	RescueMode        bool
	MaxTotalEvals     int
	WorkerPoolSize    int
	InitialCapital    float64
}

// DefaultParams matches spec §6's documented evolution defaults.
func DefaultParams() Params {
	return Params{
		Depth:             3,
		Branching:         3,
		SurvivorsPerLayer: 5,
		MinSurvivorsFloor: 1,
		RescueMode:        false,
		MaxTotalEvals:     200,
		WorkerPoolSize:    0, // 0 => workers.DefaultPoolConfig sizing
		InitialCapital:    100000,
	}
}

// RunResult is the final record of one evolution run: every generation
// produced, the full lineage (graphs keyed by graph_id), and why the run
// ended.
type RunResult struct {
	Generations    []domain.Generation
	Graphs         map[string]*graph.StrategyGraph
	EvalsCompleted int
	TerminatedBy   string // "budget_exhausted" | "no_survivors" | "depth_reached" | "canceled" | "failed_compile"
}

// Driver runs the generational evolution loop described by spec §4.5's
// state machine: start -> compile_adam -> evaluate_adam -> [gen loop] ->
// finalize.
type Driver struct {
	logger *zap.Logger

	compiler  Compiler
	mutator   Mutator
	bus       *events.Bus
	pool      *workers.Pool
	artifacts ArtifactSink
	metrics   *metrics.Registry

	mu      sync.RWMutex
	running atomic.Bool

	killHistogram map[string]int
	bestFitness   float64
}

// New creates a Driver bound to its compiler and mutator. bus may be
// nil, in which case progress events are dropped (spec §5: "the Driver
// MUST continue if no consumer is attached"). The per-graph evaluation
// logic (episode sampling, backtest execution, robustness aggregation)
// is supplied per-Run as an EvalFunc — see NewEvalPipeline for the
// concrete wiring over internal/episode, internal/graphexec, and
// internal/robust.
func New(logger *zap.Logger, compiler Compiler, mutator Mutator, bus *events.Bus, poolCfg *workers.PoolConfig) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poolCfg == nil {
		poolCfg = workers.DefaultPoolConfig("evolution-episodes")
	}
	return &Driver{
		logger:        logger,
		compiler:      compiler,
		mutator:       mutator,
		bus:           bus,
		pool:          workers.NewPool(logger, poolCfg),
		killHistogram: make(map[string]int),
		bestFitness:   -1,
	}
}

// WithArtifacts attaches an ArtifactSink the Driver writes graphs,
// evaluations, and lineage edges to as the run progresses. Optional:
// a Driver with no sink attached still runs, it just doesn't persist
// anything (useful for the fake-compiler/fake-mutator unit tests).
func (d *Driver) WithArtifacts(sink ArtifactSink) *Driver {
	d.artifacts = sink
	return d
}

// WithMetrics attaches a metrics.Registry the Driver increments once per
// completed graph evaluation. Optional: a Driver with no registry
// attached still runs, it just reports nothing.
func (d *Driver) WithMetrics(reg *metrics.Registry) *Driver {
	d.metrics = reg
	return d
}

// EvalFunc evaluates one graph end-to-end: samples episodes, runs them
// through the executor, and aggregates into one domain.EvaluationResult.
// The Driver is parameterized over this rather than importing
// internal/episode and internal/graphexec directly, keeping its
// generation-loop logic decoupled from how episodes are produced or run.
type EvalFunc func(ctx context.Context, g *graph.StrategyGraph) (domain.EvaluationResult, error)

// Run executes one full evolution run from a natural-language seed.
func (d *Driver) Run(ctx context.Context, seedText string, params Params, eval EvalFunc) (*RunResult, error) {
	if d.running.Swap(true) {
		return nil, fmt.Errorf("evolution: driver already running")
	}
	defer d.running.Store(false)

	d.pool.Start()
	defer d.pool.Stop()

	d.publish(events.Event{Type: events.EventRunStarted, Message: "starting evolution run"})

	result := &RunResult{
		Graphs: make(map[string]*graph.StrategyGraph),
	}

	adam, err := d.compiler.Compile(ctx, seedText)
	if err != nil {
		d.publish(events.Event{Type: events.EventError, Err: err.Error()})
		result.TerminatedBy = "failed_compile"
		d.finish(result)
		return result, fmt.Errorf("evolution: compile seed: %w", err)
	}
	result.Graphs[adam.GraphID] = adam

	adamEval, err := d.evaluate(ctx, adam, params, eval, result)
	if err != nil {
		d.publish(events.Event{Type: events.EventError, Err: err.Error()})
		return result, fmt.Errorf("evolution: evaluate seed: %w", err)
	}

	current := []domain.EvaluationResult{adamEval}
	gen := domain.Generation{Index: 0, Results: current}
	result.Generations = append(result.Generations, gen)

	for layer := 1; layer <= params.Depth; layer++ {
		select {
		case <-ctx.Done():
			result.TerminatedBy = "canceled"
			d.finish(result)
			return result, ctx.Err()
		default:
		}

		if result.EvalsCompleted >= params.MaxTotalEvals {
			result.TerminatedBy = "budget_exhausted"
			d.finish(result)
			return result, nil
		}

		parents, floorTriggered, rescueTriggered := selectParents(current, params)
		if len(parents) == 0 {
			result.TerminatedBy = "no_survivors"
			d.finish(result)
			return result, nil
		}

		children, err := d.mutateAll(ctx, parents, result.Graphs, params)
		if err != nil {
			d.publish(events.Event{Type: events.EventError, Err: err.Error()})
			return result, fmt.Errorf("evolution: mutate generation %d: %w", layer, err)
		}

		var childResults []domain.EvaluationResult
		for _, child := range children {
			if result.EvalsCompleted >= params.MaxTotalEvals {
				break
			}
			er, err := d.evaluate(ctx, child, params, eval, result)
			if err != nil {
				d.publish(events.Event{Type: events.EventError, Err: err.Error()})
				continue
			}
			childResults = append(childResults, er)
		}

		current = childResults
		g := domain.Generation{
			Index:                        layer,
			Results:                      current,
			SurvivorFloorTriggered:       floorTriggered,
			RescueFromBestDeadTriggered:  rescueTriggered,
		}
		result.Generations = append(result.Generations, g)

		if len(current) == 0 {
			result.TerminatedBy = "no_survivors"
			d.finish(result)
			return result, nil
		}
	}

	result.TerminatedBy = "depth_reached"
	d.finish(result)
	return result, nil
}

func (d *Driver) evaluate(ctx context.Context, g *graph.StrategyGraph, params Params, eval EvalFunc, result *RunResult) (domain.EvaluationResult, error) {
	er, err := eval(ctx, g)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	er.GraphID = g.GraphID

	if d.artifacts != nil {
		if err := d.artifacts.WriteGraph(g); err != nil {
			d.logger.Warn("evolution: failed to write graph artifact", zap.String("graph_id", g.GraphID), zap.Error(err))
		}
		if err := d.artifacts.WriteEval(er); err != nil {
			d.logger.Warn("evolution: failed to write eval artifact", zap.String("graph_id", g.GraphID), zap.Error(err))
		}
	}

	if d.metrics != nil {
		d.metrics.EvalsCompleted.Inc()
	}

	d.mu.Lock()
	result.EvalsCompleted++
	result.Graphs[g.GraphID] = g
	if er.Fitness > d.bestFitness {
		d.bestFitness = er.Fitness
	}
	for _, reason := range er.KillReason {
		d.killHistogram[reason]++
	}
	evalsCompleted := result.EvalsCompleted
	killSnapshot := make(map[string]int, len(d.killHistogram))
	for k, v := range d.killHistogram {
		killSnapshot[k] = v
	}
	bestFitness := d.bestFitness
	d.mu.Unlock()

	d.publish(events.Event{
		Type: events.EventStatus,
		Progress: &events.Progress{
			EvalsCompleted: evalsCompleted,
			MaxTotalEvals:  params.MaxTotalEvals,
			BestFitness:    bestFitness,
			KillStats:      killSnapshot,
		},
	})

	return er, nil
}

// mutateAll requests branching children per parent, running the
// mutations through the bounded worker pool since each call is an
// independent LLM round trip (spec §5: the Driver itself stays
// single-threaded at the generation level — only the parallel fan-out of
// the pool crosses goroutines; episode evaluation runs inside EvalFunc,
// not on this pool).
func (d *Driver) mutateAll(ctx context.Context, parents []domain.EvaluationResult, graphs map[string]*graph.StrategyGraph, params Params) ([]*graph.StrategyGraph, error) {
	var mu sync.Mutex
	var children []*graph.StrategyGraph
	var firstErr error

	var wg sync.WaitGroup
	for _, parentEval := range parents {
		parent, ok := graphs[parentEval.GraphID]
		if !ok {
			continue
		}
		for i := 0; i < params.Branching; i++ {
			wg.Add(1)
			p := parent
			pe := parentEval
			task := workers.TaskFunc(func() error {
				defer wg.Done()
				child, err := d.mutator.Mutate(ctx, p, pe)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return err
				}
				if d.artifacts != nil {
					if err := d.artifacts.WriteLineageEdge(p.GraphID, child.GraphID, child.Generation); err != nil {
						d.logger.Warn("evolution: failed to write lineage edge", zap.String("parent", p.GraphID), zap.Error(err))
					}
				}
				mu.Lock()
				children = append(children, child)
				mu.Unlock()
				return nil
			})
			if err := d.pool.Submit(task); err != nil {
				wg.Done()
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
	}
	wg.Wait()

	if len(children) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return children, nil
}

func (d *Driver) finish(result *RunResult) {
	d.publish(events.Event{Type: events.EventRunFinished, Status: result.TerminatedBy})
}

func (d *Driver) publish(ev events.Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ev)
}

// selectParents implements spec §4.5's three-step selection policy,
// floor before rescue per the Open Question resolution in SPEC_FULL.md
// §9.
func selectParents(current []domain.EvaluationResult, params Params) (parents []domain.EvaluationResult, floorTriggered, rescueTriggered bool) {
	sorted := append([]domain.EvaluationResult(nil), current...)
	sortByFitnessThenGraphID(sorted)

	var natural []domain.EvaluationResult
	for _, r := range sorted {
		if r.Decision == domain.DecisionSurvive {
			natural = append(natural, r)
		}
		if len(natural) == params.SurvivorsPerLayer {
			break
		}
	}
	if len(natural) > 0 {
		return natural, false, false
	}

	if params.MinSurvivorsFloor > 0 {
		n := params.MinSurvivorsFloor
		if n > len(sorted) {
			n = len(sorted)
		}
		return sorted[:n], true, false
	}

	if params.RescueMode {
		n := 2
		if n > len(sorted) {
			n = len(sorted)
		}
		return sorted[:n], false, true
	}

	return nil, false, false
}

func sortByFitnessThenGraphID(results []domain.EvaluationResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Fitness != results[j].Fitness {
			return results[i].Fitness > results[j].Fitness
		}
		return results[i].GraphID < results[j].GraphID
	})
}
