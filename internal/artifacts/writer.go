// Package artifacts writes the run directory layout spec.md §6 names as
// contractual to external readers: run_config.json, summary.json,
// per-strategy graphs/<graph_id>.json and evals/<graph_id>.json,
// lineage.jsonl, llm_transcripts/<timestamp>_<stage>_<graph_id>.json,
// and phase3_reports/<graph_id>.json when Phase 3 is enabled.
//
// Grounded on internal/data/store.go's directory-based JSON persistence
// (create-dir-if-absent, MarshalIndent, os.WriteFile), generalized from
// one store keyed by symbol/timeframe to several sibling directories
// keyed by graph id and stage.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/darwin-lab/strategy-evolution/config"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
	"go.uber.org/zap"
)

// LineageEdge is one line of lineage.jsonl.
type LineageEdge struct {
	Parent     string `json:"parent"`
	Child      string `json:"child"`
	Generation int    `json:"generation"`
}

// Summary is the top-level summary.json record: termination cause,
// budget accounting, and the per-generation statistics spec.md §5's
// ordering guarantee promises ("the final generation_stats list is
// ordered by generation index").
type Summary struct {
	TerminatedBy   string             `json:"terminated_by"`
	EvalsCompleted int                `json:"evals_completed"`
	MaxTotalEvals  int                `json:"max_total_evals"`
	BestFitness    float64            `json:"best_fitness"`
	Generations    []domain.Generation `json:"generations"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}

// Writer persists one run's artifacts under RunDir. The Driver is the
// only writer (spec.md §5: "the run directory is written by the Driver
// only; workers return in-memory results"), so the mutex here guards
// against lineage.jsonl's append-only writes racing across the worker
// goroutines that report mutation results back to it, not against
// concurrent runs.
type Writer struct {
	logger *zap.Logger
	runDir string

	lineageMu   sync.Mutex
	lineageFile *os.File
}

// New creates a Writer rooted at runDir, creating every subdirectory the
// layout requires up front.
func New(logger *zap.Logger, runDir string, phase3Enabled bool) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dirs := []string{runDir,
		filepath.Join(runDir, "graphs"),
		filepath.Join(runDir, "evals"),
		filepath.Join(runDir, "llm_transcripts"),
	}
	if phase3Enabled {
		dirs = append(dirs, filepath.Join(runDir, "phase3_reports"))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("artifacts: create %s: %w", d, err)
		}
	}

	f, err := os.OpenFile(filepath.Join(runDir, "lineage.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open lineage.jsonl: %w", err)
	}

	return &Writer{logger: logger, runDir: runDir, lineageFile: f}, nil
}

// WriteRunConfig persists run_config.json once, at run start.
func (w *Writer) WriteRunConfig(cfg *config.RunConfig) error {
	return writeJSON(filepath.Join(w.runDir, "run_config.json"), cfg)
}

// WriteSummary persists summary.json, overwritten on every call so a
// crash mid-run still leaves the latest snapshot on disk.
func (w *Writer) WriteSummary(s Summary) error {
	return writeJSON(filepath.Join(w.runDir, "summary.json"), s)
}

// WriteGraph persists graphs/<graph_id>.json.
func (w *Writer) WriteGraph(g *graph.StrategyGraph) error {
	if g.GraphID == "" {
		return fmt.Errorf("artifacts: graph has no GraphID")
	}
	return writeJSON(filepath.Join(w.runDir, "graphs", g.GraphID+".json"), g)
}

// WriteEval persists evals/<graph_id>.json.
func (w *Writer) WriteEval(result domain.EvaluationResult) error {
	if result.GraphID == "" {
		return fmt.Errorf("artifacts: evaluation result has no GraphID")
	}
	return writeJSON(filepath.Join(w.runDir, "evals", result.GraphID+".json"), result)
}

// WritePhase3Report persists phase3_reports/<graph_id>.json. Callers
// should only call this when Phase 3 is enabled; New only creates the
// phase3_reports directory in that case.
func (w *Writer) WritePhase3Report(graphID string, report *domain.RobustAggregate) error {
	if graphID == "" {
		return fmt.Errorf("artifacts: phase3 report has no GraphID")
	}
	return writeJSON(filepath.Join(w.runDir, "phase3_reports", graphID+".json"), report)
}

// WriteLineageEdge appends one line to lineage.jsonl. Safe for
// concurrent callers. Satisfies evolution.ArtifactSink.
func (w *Writer) WriteLineageEdge(parent, child string, generation int) error {
	edge := LineageEdge{Parent: parent, Child: child, Generation: generation}
	line, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("artifacts: marshal lineage edge: %w", err)
	}
	line = append(line, '\n')

	w.lineageMu.Lock()
	defer w.lineageMu.Unlock()
	if _, err := w.lineageFile.Write(line); err != nil {
		return fmt.Errorf("artifacts: write lineage edge: %w", err)
	}
	return nil
}

// WriteTranscript implements llmiface.TranscriptSink: one file per
// call, named llm_transcripts/<timestamp>_<stage>_<graph_id>.json.
func (w *Writer) WriteTranscript(t domain.Transcript) error {
	name := fmt.Sprintf("%s_%s_%s.json", t.Timestamp.UTC().Format("20060102T150405.000000000"), t.Stage, t.GraphID)
	return writeJSON(filepath.Join(w.runDir, "llm_transcripts", name), t)
}

// Close releases the lineage file handle.
func (w *Writer) Close() error {
	return w.lineageFile.Close()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", path, err)
	}
	return nil
}
