// Package errs names the error taxonomy spec §7 defines as sentinel
// values, distinguished via errors.Is/errors.As rather than string
// matching, the same idiom internal/backtester/engine.go and
// internal/backtester/walkforward.go use throughout
// (fmt.Errorf("...: %w", err) wrapping a sentinel).
package errs

import "errors"

var (
	// ErrCompileFailed means natural language could not be compiled
	// into a schema-valid graph after one repair attempt.
	ErrCompileFailed = errors.New("compile_error")

	// ErrMutateFailed is the same failure mode for mutation.
	ErrMutateFailed = errors.New("mutate_error")

	// ErrGraphValidation means a graph failed invariants I1-I5.
	ErrGraphValidation = errors.New("graph_validation_error")

	// ErrExecution means the DAG executor could not complete an episode.
	ErrExecution = errors.New("execution_error")

	// ErrAggregateFailure means the Robust Aggregator could not produce
	// an aggregate (distinct from a normal kill decision).
	ErrAggregateFailure = errors.New("aggregate_failure")

	// ErrBudgetExhausted is not a failure but a termination cause: the
	// run reached max_total_evals. Recorded in summary.status, never
	// returned from an operation that otherwise succeeded.
	ErrBudgetExhausted = errors.New("budget_exhausted")

	// ErrProviderTimeout means an LLM call exceeded its per-request
	// timeout. Eligible for a single retry before surfacing as
	// ErrCompileFailed or ErrMutateFailed.
	ErrProviderTimeout = errors.New("provider_timeout")
)
