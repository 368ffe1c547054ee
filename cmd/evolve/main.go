// Package main is the entry point for a strategy-evolution run: it
// loads a RunConfig, wires the Compiler/Mutator (backed by an LLM
// Provider), the bar data source, and the evaluation pipeline into an
// Evolution Driver, then runs it to completion and writes the run
// directory spec.md §6 names.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/darwin-lab/strategy-evolution/config"
	"github.com/darwin-lab/strategy-evolution/internal/api"
	"github.com/darwin-lab/strategy-evolution/internal/artifacts"
	"github.com/darwin-lab/strategy-evolution/internal/data"
	"github.com/darwin-lab/strategy-evolution/internal/episode"
	"github.com/darwin-lab/strategy-evolution/internal/evolution"
	"github.com/darwin-lab/strategy-evolution/internal/events"
	"github.com/darwin-lab/strategy-evolution/internal/graphexec"
	"github.com/darwin-lab/strategy-evolution/internal/llmiface"
	"github.com/darwin-lab/strategy-evolution/internal/metrics"
	"github.com/darwin-lab/strategy-evolution/internal/regime"
	"github.com/darwin-lab/strategy-evolution/internal/robust"
	"github.com/darwin-lab/strategy-evolution/internal/workers"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to a run config JSON file (defaults applied when omitted)")
	dataDir := flag.String("data", "./data", "Bar fixture directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	seedTextOverride := flag.String("seed-text", "", "Override the config's seed_text")
	withAPI := flag.Bool("with-api", false, "Start the reference progress API alongside the run")
	apiPort := flag.Int("api-port", 8080, "Port for the reference progress API, when enabled")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load run config", zap.Error(err))
	}
	if *seedTextOverride != "" {
		cfg.SeedText = *seedTextOverride
	}
	if cfg.SeedText == "" {
		logger.Fatal("seed_text must be set, via config file or -seed-text")
	}
	if len(cfg.Universe) == 0 {
		logger.Fatal("universe must name at least one symbol")
	}
	if len(cfg.Universe) > 1 {
		logger.Warn("portfolio evaluation across symbols is out of scope; evaluating against the first symbol only",
			zap.Strings("universe", cfg.Universe))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting strategy evolution run",
		zap.String("symbol", cfg.Universe[0]),
		zap.String("timeframe", cfg.Timeframe),
		zap.Time("start_date", cfg.StartDate),
		zap.Time("end_date", cfg.EndDate),
	)

	writer, err := artifacts.New(logger, cfg.RunDir, cfg.Phase3.Enabled)
	if err != nil {
		logger.Fatal("failed to initialize artifact writer", zap.Error(err))
	}
	defer writer.Close()
	if err := writer.WriteRunConfig(cfg); err != nil {
		logger.Warn("failed to write run_config.json", zap.Error(err))
	}

	barStore, err := data.NewStore(logger, *dataDir)
	if err != nil {
		logger.Fatal("failed to initialize bar store", zap.Error(err))
	}
	frame, err := barStore.GetBars(ctx, cfg.Universe[0], cfg.Timeframe, cfg.StartDate, cfg.EndDate)
	if err != nil {
		logger.Fatal("failed to load bars", zap.Error(err))
	}
	if frame.Len() == 0 {
		logger.Fatal("bar frame is empty over the requested window")
	}

	registry := graph.DefaultRegistry()

	cache, err := llmiface.NewCache(logger, cfg.LLM.CacheDir)
	if err != nil {
		logger.Fatal("failed to initialize LLM response cache", zap.Error(err))
	}
	provider := llmiface.NewHTTPProvider(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.RequestTimeout)
	metricsRegistry := metrics.New()
	llmClient := llmiface.New(logger, provider, cache, registry, writer, llmiface.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
	}).WithMetrics(metricsRegistry)

	executor := graphexec.New(logger, registry, graphexec.Config{
		WarmupBars:          50,
		MinTradesPerEpisode: cfg.Phase3.MinTradesPerEpisode,
		DrawdownLambda:      cfg.Fitness.Lambda,
		Commission:          0.0005,
		SlippageBps:         1,
	})
	tagger := regime.New(logger, regime.DefaultThresholds())
	sampler := episode.New(tagger)
	aggregator := robust.New(robust.Config{
		RegimePenaltyWeight:       cfg.Phase3.RegimePenaltyWeight,
		AbortOnAllEpisodeFailures: cfg.Phase3.AbortOnAllEpisodeFailures,
	})

	phase3 := evolution.DefaultPhase3Config()
	phase3.Enabled = cfg.Phase3.Enabled
	if cfg.Phase3.Mode == string(evolution.Phase3ModeEpisodes) {
		phase3.Mode = evolution.Phase3ModeEpisodes
	}
	phase3.NEpisodes = cfg.Phase3.NEpisodes
	phase3.SamplingMode = episode.Mode(cfg.Phase3.SamplingMode)
	phase3.WindowBars = cfg.Phase3.MinBars
	phase3.MinBars = cfg.Phase3.MinBars
	phase3.MinWindowBars = episode.MonthsToBars(frame, cfg.Phase3.MinMonths)
	phase3.MaxWindowBars = episode.MonthsToBars(frame, cfg.Phase3.MaxMonths)
	if phase3.MinWindowBars <= 0 {
		phase3.MinWindowBars = cfg.Phase3.MinBars
	}
	if phase3.MaxWindowBars < phase3.MinWindowBars {
		phase3.MaxWindowBars = phase3.MinWindowBars
	}
	if cfg.Phase3.Seed != nil {
		phase3.Seed = *cfg.Phase3.Seed
	}

	pipeline := evolution.NewEvalPipeline(sampler, executor, aggregator, frame, phase3, cfg.InitialCapital)

	bus := events.NewBus(logger, events.DefaultConfig())
	defer bus.Stop(5 * time.Second)

	poolCfg := workers.DefaultPoolConfig("evolution-episodes")
	if cfg.Evolution.WorkerPoolSize > 0 {
		poolCfg.NumWorkers = cfg.Evolution.WorkerPoolSize
	}

	driver := evolution.New(logger, llmClient, llmClient, bus, poolCfg).
		WithArtifacts(writer).
		WithMetrics(metricsRegistry)

	var server *api.Server
	if *withAPI {
		server = startReferenceAPI(logger, bus, *apiPort, metricsRegistry)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, canceling run")
		cancel()
	}()

	params := evolution.Params{
		Depth:             cfg.Evolution.Depth,
		Branching:         cfg.Evolution.Branching,
		SurvivorsPerLayer: cfg.Evolution.SurvivorsPerLayer,
		MinSurvivorsFloor: cfg.Evolution.MinSurvivorsFloor,
		RescueMode:        cfg.Evolution.RescueMode,
		MaxTotalEvals:     cfg.Evolution.MaxTotalEvals,
		WorkerPoolSize:    cfg.Evolution.WorkerPoolSize,
		InitialCapital:    cfg.InitialCapital,
	}

	startedAt := time.Now()
	result, err := driver.Run(ctx, cfg.SeedText, params, pipeline.Evaluate)
	if err != nil {
		logger.Error("evolution run failed", zap.Error(err))
	}

	if result != nil {
		summary := artifacts.Summary{
			TerminatedBy:   result.TerminatedBy,
			EvalsCompleted: result.EvalsCompleted,
			MaxTotalEvals:  params.MaxTotalEvals,
			Generations:    result.Generations,
			StartedAt:      startedAt,
			FinishedAt:     time.Now(),
		}
		summary.BestFitness = bestFitnessOf(result.Generations)
		if werr := writer.WriteSummary(summary); werr != nil {
			logger.Warn("failed to write summary.json", zap.Error(werr))
		}
		logger.Info("evolution run finished",
			zap.String("terminated_by", result.TerminatedBy),
			zap.Int("evals_completed", result.EvalsCompleted),
			zap.Int("generations", len(result.Generations)),
		)
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping reference API server", zap.Error(err))
		}
	}

	if err != nil {
		os.Exit(1)
	}
}

func bestFitnessOf(generations []domain.Generation) float64 {
	best := -1.0
	for _, g := range generations {
		for _, r := range g.Results {
			if r.Fitness > best {
				best = r.Fitness
			}
		}
	}
	return best
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func startReferenceAPI(logger *zap.Logger, bus *events.Bus, port int, metricsRegistry *metrics.Registry) *api.Server {
	server := api.NewProgressServer(logger, bus, port).WithMetrics(metricsRegistry)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("reference API server error", zap.Error(err))
		}
	}()
	logger.Info("reference progress API started", zap.String("http", fmt.Sprintf("http://localhost:%d", port)))
	return server
}
