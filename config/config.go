// Package config models the run configuration record spec §6 names:
// a single decoded-once RunConfig, unknown fields rejected at decode
// time, defaults applied exactly once at construction (spec §9's
// "Config objects" design note). The nesting mirrors a
// BacktestConfig/ValidationConfig sub-struct shape. Secrets and
// deployment overrides (provider API key, run directory root) load from
// the environment via viper, layered on top of the strictly-decoded
// file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/episode"
	"github.com/spf13/viper"
)

// EvolutionConfig holds the Evolution Driver's generational parameters,
// spec.md §6's first config group.
type EvolutionConfig struct {
	Depth             int  `json:"depth"`
	Branching         int  `json:"branching"`
	SurvivorsPerLayer int  `json:"survivors_per_layer"`
	MinSurvivorsFloor int  `json:"min_survivors_floor"`
	RescueMode        bool `json:"rescue_mode"`
	MaxTotalEvals     int  `json:"max_total_evals"`

	// WorkerPoolSize is this repo's addition (SPEC_FULL.md §5
	// expansion): size of the bounded internal/workers.Pool the Driver
	// runs mutation requests on. Zero means apply workers.DefaultPoolConfig's
	// own runtime.NumCPU() default.
	WorkerPoolSize int `json:"worker_pool_size"`
}

// Phase3ConfigFields holds the Multi-Episode Robustness Evaluator's
// parameters, spec.md §6's second config group.
type Phase3ConfigFields struct {
	Enabled                   bool    `json:"enabled"`
	Mode                      string  `json:"mode"` // "baseline" | "episodes"
	NEpisodes                 int     `json:"n_episodes"`
	MinMonths                 int     `json:"min_months"`
	MaxMonths                 int     `json:"max_months"`
	MinBars                   int     `json:"min_bars"`
	Seed                      *int64  `json:"seed"`
	SamplingMode              string  `json:"sampling_mode"` // "random" | "stratified_by_regime"
	MinTradesPerEpisode       int     `json:"min_trades_per_episode"`
	RegimePenaltyWeight       float64 `json:"regime_penalty_weight"`
	AbortOnAllEpisodeFailures bool    `json:"abort_on_all_episode_failures"`
}

// FitnessConfig records the chosen per-bar fitness formula verbatim, per
// spec.md §9's first Open Question resolution ("implementers MUST fix
// it at configuration time and persist the chosen form in
// run_config.json").
type FitnessConfig struct {
	Formula string  `json:"formula"`
	Lambda  float64 `json:"lambda"`
}

// LLMConfig names the provider endpoint and model as plain configuration
// strings (spec.md §6: "The core neither assumes nor exposes any
// specific provider"). APIKey is never read from the config file; it is
// populated only from the environment by Load.
type LLMConfig struct {
	Provider        string        `json:"provider"`
	Endpoint        string        `json:"endpoint"`
	Model           string        `json:"model"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	APIKey          string        `json:"-"`
	CacheDir        string        `json:"cache_dir"`
}

// RunConfig is the single record a run is configured from.
type RunConfig struct {
	SeedText       string              `json:"seed_text"`
	Universe       []string            `json:"universe"`
	Timeframe      string              `json:"timeframe"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	InitialCapital float64             `json:"initial_capital"`
	RunDir         string              `json:"run_dir"`
	Evolution      EvolutionConfig     `json:"evolution"`
	Phase3         Phase3ConfigFields  `json:"phase3"`
	Fitness        FitnessConfig       `json:"fitness"`
	LLM            LLMConfig           `json:"llm"`
}

// Default returns a RunConfig populated with every spec.md §6 default,
// applied exactly once here rather than scattered across call sites.
func Default() RunConfig {
	return RunConfig{
		Timeframe:      "5m",
		InitialCapital: 100000,
		RunDir:         "./runs",
		Evolution: EvolutionConfig{
			Depth:             3,
			Branching:         3,
			SurvivorsPerLayer: 5,
			MinSurvivorsFloor: 1,
			RescueMode:        false,
			MaxTotalEvals:     200,
			WorkerPoolSize:    runtime.NumCPU() * 2,
		},
		Phase3: Phase3ConfigFields{
			Enabled:                   false,
			Mode:                      "baseline",
			NEpisodes:                 8,
			MinMonths:                 6,
			MaxMonths:                 12,
			MinBars:                   120,
			Seed:                      nil,
			SamplingMode:              string(episode.ModeRandom),
			MinTradesPerEpisode:       3,
			RegimePenaltyWeight:       0.3,
			AbortOnAllEpisodeFailures: true,
		},
		Fitness: FitnessConfig{
			Formula: "(total_return - lambda*max_drawdown) * tradeAdequacy(n_trades)",
			Lambda:  0.5,
		},
		LLM: LLMConfig{
			Provider:       "reference-http",
			RequestTimeout: 60 * time.Second,
			CacheDir:       "./llm_cache",
		},
	}
}

// Load reads a JSON config file at path on top of Default(), rejecting
// unknown fields (spec.md §9's "Config objects" design note), then
// layers environment overrides via viper for deployment-time secrets
// and paths that must never live in a checked-in config file.
func Load(path string) (*RunConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers STRATEGY_EVOLUTION_-prefixed environment
// variables over the decoded config, using viper purely as an env
// reader -- the file itself is decoded strictly above, so viper never
// gets a chance to silently accept a field the schema doesn't know.
func applyEnvOverrides(cfg *RunConfig) {
	v := viper.New()
	v.SetEnvPrefix("STRATEGY_EVOLUTION")
	v.AutomaticEnv()

	if key := v.GetString("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if endpoint := v.GetString("LLM_ENDPOINT"); endpoint != "" {
		cfg.LLM.Endpoint = endpoint
	}
	if runDir := v.GetString("RUN_DIR"); runDir != "" {
		cfg.RunDir = runDir
	}
}

func validate(cfg *RunConfig) error {
	if cfg.Evolution.Depth < 0 {
		return fmt.Errorf("evolution.depth must be >= 0, got %d", cfg.Evolution.Depth)
	}
	if cfg.Evolution.Branching < 1 {
		return fmt.Errorf("evolution.branching must be >= 1, got %d", cfg.Evolution.Branching)
	}
	if cfg.Phase3.Enabled {
		switch cfg.Phase3.Mode {
		case "baseline", "episodes":
		default:
			return fmt.Errorf("phase3.mode must be \"baseline\" or \"episodes\", got %q", cfg.Phase3.Mode)
		}
		switch cfg.Phase3.SamplingMode {
		case string(episode.ModeRandom), string(episode.ModeStratifiedByRegime):
		default:
			return fmt.Errorf("phase3.sampling_mode must be %q or %q, got %q",
				episode.ModeRandom, episode.ModeStratifiedByRegime, cfg.Phase3.SamplingMode)
		}
	}
	if cfg.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set")
	}
	return nil
}
