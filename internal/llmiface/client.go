package llmiface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/errs"
	"github.com/darwin-lab/strategy-evolution/internal/metrics"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TranscriptSink persists every LLM call transcript, tagged by stage.
// Satisfied by internal/artifacts.Writer.
type TranscriptSink interface {
	WriteTranscript(t domain.Transcript) error
}

// Config carries the Client's run-wide settings.
type Config struct {
	Provider string // free-form provider name, part of the cache key
	Model    string
}

// Client implements spec §4.6's Compile/Mutate contract: structured JSON
// production over a pluggable Provider, content-addressed caching, the
// three-step normalization pipeline, and a single-shot repair loop.
type Client struct {
	logger    *zap.Logger
	provider  Provider
	cache     *Cache
	registry  *graph.Registry
	sink      TranscriptSink
	config    Config
	metrics   *metrics.Registry
}

// New creates a Client. sink may be nil, in which case transcripts are
// dropped (useful for tests exercising only the compile/repair logic).
func New(logger *zap.Logger, provider Provider, cache *Cache, registry *graph.Registry, sink TranscriptSink, config Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger, provider: provider, cache: cache, registry: registry, sink: sink, config: config}
}

// WithMetrics attaches a metrics.Registry the Client records cache
// hit/miss counts and provider call latency against. Optional: a Client
// with no registry attached still runs, it just reports nothing.
func (c *Client) WithMetrics(reg *metrics.Registry) *Client {
	c.metrics = reg
	return c
}

// Compile turns natural-language seed text into a validated, normalized
// StrategyGraph, per spec §4.6.
func (c *Client) Compile(ctx context.Context, seedText string) (*graph.StrategyGraph, error) {
	prompt := compilePrompt(seedText)
	g, transcripts, err := c.completeAndNormalize(ctx, prompt, domain.StageCompile, domain.StageCompileRepair)
	if err != nil {
		c.flushTranscripts(transcripts, "failed")
		return nil, fmt.Errorf("llmiface: compile: %w", err)
	}
	g.GraphID = uuid.NewString()
	g.Generation = 0
	g.Fingerprint = graph.Fingerprint(g)
	g.CreatedAt = timeNow()
	c.flushTranscripts(transcripts, g.GraphID)
	return g, nil
}

// Mutate produces one child graph from parent plus its evaluation, per
// spec §4.6.
func (c *Client) Mutate(ctx context.Context, parent *graph.StrategyGraph, evalResult domain.EvaluationResult) (*graph.StrategyGraph, error) {
	prompt := mutatePrompt(parent, evalResult)
	g, transcripts, err := c.completeAndNormalize(ctx, prompt, domain.StageMutate, domain.StageMutateRepair)
	if err != nil {
		c.flushTranscripts(transcripts, "failed")
		return nil, fmt.Errorf("llmiface: mutate: %w", err)
	}
	g.GraphID = uuid.NewString()
	g.ParentGraphID = parent.GraphID
	g.Generation = parent.Generation + 1
	g.Fingerprint = graph.Fingerprint(g)
	g.CreatedAt = timeNow()
	c.flushTranscripts(transcripts, g.GraphID)
	return g, nil
}

// completeAndNormalize runs one call through the cache, normalizes and
// validates the result, and on failure runs the single-shot repair loop
// before giving up. stage/repairStage tag the transcripts this call and
// its possible repair produce. Transcripts are buffered rather than
// written immediately because the graph they belong to has no GraphID
// until its caller assigns one after a successful parse. On every
// failure path past the first call, the transcripts gathered so far are
// still returned alongside the error so the caller can flush them --
// spec §6 requires a transcript for every call, including ones that end
// in compile_error/mutate_error after repair exhaustion. A provider call
// that times out is retried once; a provider error that remains is
// returned wrapped as ErrCompileFailed/ErrMutateFailed.
func (c *Client) completeAndNormalize(ctx context.Context, prompt string, stage, repairStage domain.Stage) (*graph.StrategyGraph, []domain.Transcript, error) {
	callWithRetry := func(p string, st domain.Stage) (string, domain.Transcript, error) {
		resp, t, err := c.call(ctx, p, st)
		var netErr net.Error
		if errors.Is(err, errs.ErrProviderTimeout) || (errors.As(err, &netErr) && netErr.Timeout()) {
			resp, t, err = c.call(ctx, p, st)
		}
		return resp, t, err
	}

	resp, t, err := callWithRetry(prompt, stage)
	if err != nil {
		return nil, nil, errorForStage(stage, err)
	}
	transcripts := []domain.Transcript{t}

	g, verr := c.parseNormalizeValidate(resp)
	if verr == nil {
		return g, transcripts, nil
	}

	// Single-shot repair: re-submit with the validator's error, passing
	// the full normalization pipeline again (spec §4.6: "omitting the
	// rewrite step at repair time was a past defect").
	repairPrompt := repairPromptFor(prompt, resp, verr)
	repairResp, repairT, rerr := callWithRetry(repairPrompt, repairStage)
	if rerr != nil {
		return nil, transcripts, errorForStage(stage, rerr)
	}
	transcripts = append(transcripts, repairT)

	g, verr = c.parseNormalizeValidate(repairResp)
	if verr != nil {
		return nil, transcripts, errorForStage(stage, fmt.Errorf("repair still invalid: %w", verr))
	}
	return g, transcripts, nil
}

func errorForStage(stage domain.Stage, err error) error {
	if stage == domain.StageCompile {
		return fmt.Errorf("%w: %v", errs.ErrCompileFailed, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrMutateFailed, err)
}

// call is the single point where caching and the provider meet. It
// returns the response text plus the Transcript describing this call,
// left for the caller to tag with a GraphID and flush.
func (c *Client) call(ctx context.Context, prompt string, stage domain.Stage) (string, domain.Transcript, error) {
	key := Key(c.config.Provider, c.config.Model, prompt, nil)

	wg, owner := c.cache.singleflightGroup(key)
	if !owner {
		wg.Wait()
	} else {
		defer c.cache.releaseGroup(key, wg)
	}

	if entry, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return entry.Response, c.transcriptFor(stage, prompt, entry.Response, true, domain.TokenUsage{}, entry.Cost), nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	callStart := timeNow()
	resp, err := c.provider.Complete(ctx, CompletionRequest{Model: c.config.Model, Prompt: prompt})
	if c.metrics != nil {
		c.metrics.LLMLatency.Observe(timeNow().Sub(callStart).Seconds())
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", domain.Transcript{}, fmt.Errorf("%w: %v", errs.ErrProviderTimeout, err)
		}
		return "", domain.Transcript{}, fmt.Errorf("llmiface: provider call failed: %w", err)
	}

	entry := &CacheEntry{Response: resp.Text, TokenUsage: resp.TokenUsage, Cost: resp.Cost}
	if err := c.cache.Put(key, entry); err != nil {
		c.logger.Warn("llmiface: failed to persist cache entry", zap.String("key", key), zap.Error(err))
	}

	return resp.Text, c.transcriptFor(stage, prompt, resp.Text, false, resp.TokenUsage, resp.Cost), nil
}

func (c *Client) transcriptFor(stage domain.Stage, request, response string, cached bool, usage domain.TokenUsage, cost float64) domain.Transcript {
	return domain.Transcript{
		Stage:             stage,
		Provider:          c.config.Provider,
		Model:             c.config.Model,
		PromptFingerprint: Key(c.config.Provider, c.config.Model, request, nil),
		Request:           request,
		Response:          response,
		Cached:            cached,
		TokenUsage:        usage,
		Cost:              cost,
		Timestamp:         timeNow(),
	}
}

// flushTranscripts tags every buffered transcript with graphID and
// writes it to the sink, if one is configured.
func (c *Client) flushTranscripts(transcripts []domain.Transcript, graphID string) {
	if c.sink == nil {
		return
	}
	for _, t := range transcripts {
		t.GraphID = graphID
		if err := c.sink.WriteTranscript(t); err != nil {
			c.logger.Warn("llmiface: failed to write transcript", zap.Error(err))
		}
	}
}

// parseNormalizeValidate decodes the LLM's JSON response into a
// StrategyGraph, applies pkg/graph.Normalize, and runs pkg/graph.Validate.
func (c *Client) parseNormalizeValidate(response string) (*graph.StrategyGraph, error) {
	var g graph.StrategyGraph
	if err := json.Unmarshal([]byte(response), &g); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", errs.ErrGraphValidation, err)
	}

	if unresolved := graph.Normalize(&g, c.registry); len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: unrecognized node type(s) on nodes %v", errs.ErrGraphValidation, unresolved)
	}

	if violations := graph.Validate(&g, c.registry); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Error()
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrGraphValidation, strings.Join(msgs, "; "))
	}

	return &g, nil
}

func compilePrompt(seedText string) string {
	return fmt.Sprintf(
		"Compile the following trading idea into a StrategyGraph JSON document matching the schema. "+
			"Idea:\n%s\n", seedText)
}

func mutatePrompt(parent *graph.StrategyGraph, evalResult domain.EvaluationResult) string {
	parentJSON, _ := json.Marshal(parent)
	return fmt.Sprintf(
		"Given this parent StrategyGraph and its evaluation, produce one mutated child StrategyGraph JSON "+
			"document that addresses the kill reasons if any.\nParent:\n%s\nFitness: %v\nDecision: %s\nKillReason: %v\n",
		string(parentJSON), evalResult.Fitness, evalResult.Decision, evalResult.KillReason)
}

func repairPromptFor(originalPrompt, badResponse string, verr error) string {
	return fmt.Sprintf(
		"%s\nThe previous response failed schema validation:\n%s\nError: %v\nReturn a corrected StrategyGraph JSON document.",
		originalPrompt, badResponse, verr)
}

// timeNow exists so tests can be written without depending on wall
// clock ordering across a single test run; production callers get
// real time.
func timeNow() time.Time { return time.Now() }
