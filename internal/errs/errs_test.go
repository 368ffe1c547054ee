package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinels_SurviveWrapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"compile", ErrCompileFailed, "compile_error"},
		{"mutate", ErrMutateFailed, "mutate_error"},
		{"graph_validation", ErrGraphValidation, "graph_validation_error"},
		{"execution", ErrExecution, "execution_error"},
		{"aggregate", ErrAggregateFailure, "aggregate_failure"},
		{"budget", ErrBudgetExhausted, "budget_exhausted"},
		{"provider_timeout", ErrProviderTimeout, "provider_timeout"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.err.Error() != c.want {
				t.Fatalf("expected kind string %q, got %q", c.want, c.err.Error())
			}
			wrapped := fmt.Errorf("doing the thing: %w", c.err)
			if !errors.Is(wrapped, c.err) {
				t.Fatalf("expected errors.Is to see through wrapping for %s", c.name)
			}
		})
	}
}

func TestSentinels_AreDistinct(t *testing.T) {
	all := []error{ErrCompileFailed, ErrMutateFailed, ErrGraphValidation, ErrExecution, ErrAggregateFailure, ErrBudgetExhausted, ErrProviderTimeout}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Fatalf("expected %v and %v to be distinct sentinels", a, b)
			}
		}
	}
}
