package domain

// RobustAggregate is Phase 3's aggregation of a set of EpisodeResults
// into one composite picture: central tendency, dispersion, penalties,
// and regime coverage (spec §3 RobustAggregate).
type RobustAggregate struct {
	AggregatedFitness   float64        `json:"aggregated_fitness"`
	MedianFitness       float64        `json:"median_fitness"`
	WorstFitness        float64        `json:"worst_fitness"`
	BestFitness         float64        `json:"best_fitness"`
	StdFitness          float64        `json:"std_fitness"`
	WorstCasePenalty    float64        `json:"worst_case_penalty"`
	DispersionPenalty   float64        `json:"dispersion_penalty"`
	SingleRegimePenalty float64        `json:"single_regime_penalty"`
	RegimeCoverage      RegimeCoverage `json:"regime_coverage"`
	NTradesPerEpisode   []int          `json:"n_trades_per_episode"`
	EpisodeErrors       []*ErrorDetails `json:"episode_errors,omitempty"`
}

// RegimeCoverage summarizes how many distinct regimes the sampled
// episodes touched and how fitness distributed across them.
type RegimeCoverage struct {
	UniqueRegimes    int                `json:"unique_regimes"`
	RegimeCounts     map[string]int     `json:"regime_counts"`
	PerRegimeFitness map[string]float64 `json:"per_regime_fitness"`
}

// ValidationReport wraps Phase 3's RobustAggregate when Phase 3 is active;
// when Phase 3 is disabled, BaselineFitness/BaselineTrades are set, plus
// MonteCarlo when the baseline run closed any trades (spec §4.4's
// "baseline" mode).
type ValidationReport struct {
	RobustAggregate *RobustAggregate `json:"robust_aggregate,omitempty"`
	BaselineFitness float64          `json:"baseline_fitness,omitempty"`
	BaselineTrades  int              `json:"baseline_trades,omitempty"`
	MonteCarlo      *MonteCarloReport `json:"monte_carlo,omitempty"`
}

// MonteCarloReport is an optional diagnostic attached to baseline-mode
// validation reports: trade-resampling confidence bounds on the single
// backtest's equity curve (see internal/montecarlo).
type MonteCarloReport struct {
	Iterations      int     `json:"iterations"`
	MedianReturn    float64 `json:"median_return"`
	P05Return       float64 `json:"p05_return"`
	P95Return       float64 `json:"p95_return"`
	ProbabilityOfLoss float64 `json:"probability_of_loss"`
}

// EvaluationResult is the top-level per-graph evaluation record spec §3
// names: fitness, decision, kill reasons, and the validation report.
type EvaluationResult struct {
	GraphID          string            `json:"graph_id"`
	Fitness          float64           `json:"fitness"`
	Decision         Decision          `json:"decision"`
	KillReason       []string          `json:"kill_reason"`
	ValidationReport ValidationReport  `json:"validation_report"`
}

// Generation is an ordered list of EvaluationResults for one evolutionary
// step, augmented with the two selection-override flags spec §3/§4.5 name.
type Generation struct {
	Index                          int                 `json:"index"`
	Results                        []EvaluationResult  `json:"results"`
	SurvivorFloorTriggered         bool                `json:"survivor_floor_triggered"`
	RescueFromBestDeadTriggered    bool                `json:"rescue_from_best_dead_triggered"`
}
