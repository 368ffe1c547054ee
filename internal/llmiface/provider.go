package llmiface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

// CompletionRequest is what a Provider receives for one call.
type CompletionRequest struct {
	Model  string
	Prompt string
}

// CompletionResponse is what a Provider returns for one call.
type CompletionResponse struct {
	Text       string
	TokenUsage domain.TokenUsage
	Cost       float64
}

// Provider speaks whatever protocol a concrete LLM backend requires.
// The core neither assumes nor exposes any specific vendor (spec §6):
// model identifiers are plain configuration strings, and this repo
// ships exactly one reference implementation, HTTPProvider, built on a
// generic structured-completion protocol.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// HTTPProvider is the reference Provider: a generic JSON-over-HTTP
// structured completion protocol using only net/http and encoding/json.
// No vendor SDK is imported here — see DESIGN.md for why none of the
// example repos offered one worth grounding on, and why the spec itself
// forbids assuming a concrete provider.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider creates a reference provider against endpoint,
// authenticating with apiKey via a bearer header when non-empty.
func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type httpRequestBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type httpResponseBody struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Cost float64 `json:"cost"`
}

// Complete sends req as a JSON body and parses the structured response.
func (p *HTTPProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	body, err := json.Marshal(httpRequestBody{Model: req.Model, Prompt: req.Prompt})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmiface: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmiface: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmiface: provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmiface: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("llmiface: provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed httpResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CompletionResponse{}, fmt.Errorf("llmiface: parse response: %w", err)
	}

	return CompletionResponse{
		Text: parsed.Text,
		TokenUsage: domain.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Cost: parsed.Cost,
	}, nil
}
