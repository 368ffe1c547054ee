package llmiface

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

// fakeProvider returns canned responses in order, ignoring the request
// content, and records how many times Complete was called.
type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if f.calls >= len(f.responses) {
		f.calls++
		return CompletionResponse{}, errNoMoreResponses
	}
	resp := f.responses[f.calls]
	f.calls++
	return CompletionResponse{Text: resp, TokenUsage: domain.TokenUsage{TotalTokens: 42}, Cost: 0.01}, nil
}

var errNoMoreResponses = &fixedError{"fakeProvider: no more canned responses"}

type fixedError struct{ msg string }

func (e *fixedError) Error() string { return e.msg }

func mustReadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture %s: %v", name, err)
	}
	return string(data)
}

func newTestClient(t *testing.T, responses ...string) (*Client, *fakeProvider) {
	t.Helper()
	cache, err := NewCache(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	provider := &fakeProvider{responses: responses}
	reg := graph.DefaultRegistry()
	c := New(nil, provider, cache, reg, nil, Config{Provider: "fake", Model: "fake-model-1"})
	return c, provider
}

// Scenario 1 (natural-language compile): a well-formed structured
// response should compile straight through with no repair call.
func TestClient_Compile_WellFormedResponseNeedsNoRepair(t *testing.T) {
	body := mustReadFixture(t, "compile_crossover.json")
	c, provider := newTestClient(t, body)

	g, err := c.Compile(context.Background(), "buy SPY when the 3-period SMA crosses above the 8-period SMA")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", provider.calls)
	}
	if g.GraphID == "" {
		t.Fatal("expected a generated GraphID")
	}
	if g.Fingerprint == "" {
		t.Fatal("expected a computed fingerprint")
	}
	if len(g.Nodes) != 9 {
		t.Fatalf("expected 9 nodes, got %d", len(g.Nodes))
	}
}

// Scenario 6 (operator/type normalization): lowercase node types and a
// textual operator synonym should be rewritten to canonical form by the
// pipeline's Normalize step before validation, with no repair call
// needed.
func TestClient_Compile_NormalizesOperatorAndTypeSynonyms(t *testing.T) {
	body := mustReadFixture(t, "compile_needs_normalization.json")
	c, provider := newTestClient(t, body)

	g, err := c.Compile(context.Background(), "buy SPY when fast sma is greater than slow sma")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 provider call (no repair), got %d", provider.calls)
	}

	var cmp *graph.Node
	for i := range g.Nodes {
		if g.Nodes[i].ID == "cmp" {
			cmp = &g.Nodes[i]
		}
	}
	if cmp == nil {
		t.Fatal("expected a node with id cmp")
	}
	if cmp.Type != graph.NodeCompare {
		t.Fatalf("expected node type rewritten to canonical Compare, got %q", cmp.Type)
	}
	op := cmp.Params["op"]
	if op.Str != string(graph.OpGT) {
		t.Fatalf("expected op synonym rewritten to canonical %q, got %q", graph.OpGT, op.Str)
	}
}

// An invalid first response (missing a terminal BracketOrder, violating
// the required-sink invariant) should trigger exactly one repair call;
// a valid second response then succeeds.
func TestClient_Compile_RepairsAfterValidationFailure(t *testing.T) {
	broken := mustReadFixture(t, "compile_broken.json")
	fixed := mustReadFixture(t, "compile_crossover.json")
	c, provider := newTestClient(t, broken, fixed)

	g, err := c.Compile(context.Background(), "buy SPY on a crossover")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 provider calls (original + one repair), got %d", provider.calls)
	}
	if len(g.Nodes) != 9 {
		t.Fatalf("expected the repaired graph's 9 nodes, got %d", len(g.Nodes))
	}
}

// Two invalid responses in a row exhaust the single-shot repair budget
// and surface as a compile failure.
func TestClient_Compile_FailsAfterRepairAlsoInvalid(t *testing.T) {
	broken := mustReadFixture(t, "compile_broken.json")
	c, provider := newTestClient(t, broken, broken)

	_, err := c.Compile(context.Background(), "buy SPY on a crossover")
	if err == nil {
		t.Fatal("expected an error after repair also fails validation")
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 provider calls, got %d", provider.calls)
	}
}

// An identical second Compile call with the same seed text must hit the
// cache rather than invoking the provider again, per spec §4.6's caching
// contract.
func TestClient_Compile_IdenticalPromptHitsCacheOnSecondCall(t *testing.T) {
	body := mustReadFixture(t, "compile_crossover.json")
	c, provider := newTestClient(t, body)

	seed := "buy SPY when the 3-period SMA crosses above the 8-period SMA"
	if _, err := c.Compile(context.Background(), seed); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	if _, err := c.Compile(context.Background(), seed); err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected the second identical call to hit cache, provider called %d times", provider.calls)
	}
}

func TestClient_Mutate_ProducesChildWithLineage(t *testing.T) {
	body := mustReadFixture(t, "compile_crossover.json")
	c, provider := newTestClient(t, body)

	parent := &graph.StrategyGraph{GraphID: "parent-1", Generation: 2}
	evalResult := domain.EvaluationResult{Fitness: -0.5, Decision: domain.DecisionKill, KillReason: []string{"phase3_robustness_floor"}}

	child, err := c.Mutate(context.Background(), parent, evalResult)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", provider.calls)
	}
	if child.ParentGraphID != "parent-1" {
		t.Fatalf("expected ParentGraphID %q, got %q", "parent-1", child.ParentGraphID)
	}
	if child.Generation != 3 {
		t.Fatalf("expected Generation 3, got %d", child.Generation)
	}
	if child.GraphID == parent.GraphID {
		t.Fatal("expected a freshly generated GraphID distinct from the parent's")
	}
}

type transcriptRecorder struct {
	transcripts []domain.Transcript
}

func (r *transcriptRecorder) WriteTranscript(t domain.Transcript) error {
	r.transcripts = append(r.transcripts, t)
	return nil
}

func TestClient_Compile_CacheHitTranscriptHasZeroTokenUsage(t *testing.T) {
	body := mustReadFixture(t, "compile_crossover.json")
	cache, err := NewCache(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	provider := &fakeProvider{responses: []string{body}}
	reg := graph.DefaultRegistry()
	sink := &transcriptRecorder{}
	c := New(nil, provider, cache, reg, sink, Config{Provider: "fake", Model: "fake-model-1"})

	seed := "buy SPY when the 3-period SMA crosses above the 8-period SMA"
	if _, err := c.Compile(context.Background(), seed); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	if _, err := c.Compile(context.Background(), seed); err != nil {
		t.Fatalf("second Compile: %v", err)
	}

	if len(sink.transcripts) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(sink.transcripts))
	}
	first, second := sink.transcripts[0], sink.transcripts[1]
	if first.Cached {
		t.Fatal("expected the first transcript to be a cache miss")
	}
	if first.TokenUsage.TotalTokens == 0 {
		t.Fatal("expected the first (uncached) transcript to report nonzero token usage")
	}
	if !second.Cached {
		t.Fatal("expected the second transcript to be a cache hit")
	}
	if second.TokenUsage.TotalTokens != 0 {
		t.Fatalf("expected cache-hit transcript to report zero token usage, got %d", second.TokenUsage.TotalTokens)
	}
}
