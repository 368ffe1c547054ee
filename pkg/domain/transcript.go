package domain

import "time"

// Stage names which LLM operation produced a transcript.
type Stage string

const (
	StageCompile       Stage = "compile"
	StageCompileRepair Stage = "compile_repair"
	StageMutate        Stage = "mutate"
	StageMutateRepair  Stage = "mutate_repair"
)

// TokenUsage records provider-reported token consumption for one call.
// Cache hits MUST report a zero-valued TokenUsage (spec §4.6 caching
// contract: "cache hits ... MUST NOT increment token-usage counters").
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Transcript is the persisted record of a single LLM call, cached or not.
type Transcript struct {
	Stage            Stage      `json:"stage"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	PromptFingerprint string    `json:"prompt_fingerprint"`
	Request          string     `json:"request"`
	Response         string     `json:"response"`
	Cached           bool       `json:"cached"`
	TokenUsage       TokenUsage `json:"token_usage"`
	Cost             float64    `json:"cost"`
	GraphID          string     `json:"graph_id,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}
