package artifacts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darwin-lab/strategy-evolution/config"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

func TestNew_CreatesDirectoryLayout(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run1")
	w, err := New(nil, runDir, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	for _, d := range []string{"graphs", "evals", "llm_transcripts", "phase3_reports"} {
		if info, err := os.Stat(filepath.Join(runDir, d)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "lineage.jsonl")); err != nil {
		t.Fatalf("expected lineage.jsonl to exist: %v", err)
	}
}

func TestNew_SkipsPhase3DirWhenDisabled(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run1")
	w, err := New(nil, runDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(filepath.Join(runDir, "phase3_reports")); !os.IsNotExist(err) {
		t.Fatalf("expected phase3_reports to be absent when phase3 disabled, stat err = %v", err)
	}
}

func TestWriter_WriteGraphAndEval(t *testing.T) {
	runDir := t.TempDir()
	w, err := New(nil, runDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	g := &graph.StrategyGraph{GraphID: "g1", Generation: 0}
	if err := w.WriteGraph(g); err != nil {
		t.Fatalf("WriteGraph: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(runDir, "graphs", "g1.json"))
	if err != nil {
		t.Fatalf("reading graphs/g1.json: %v", err)
	}
	var loaded graph.StrategyGraph
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.GraphID != "g1" {
		t.Fatalf("expected GraphID g1, got %q", loaded.GraphID)
	}

	result := domain.EvaluationResult{GraphID: "g1", Fitness: 0.42, Decision: domain.DecisionSurvive}
	if err := w.WriteEval(result); err != nil {
		t.Fatalf("WriteEval: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "evals", "g1.json")); err != nil {
		t.Fatalf("expected evals/g1.json to exist: %v", err)
	}
}

func TestWriter_WriteLineageEdgeAppendsJSONL(t *testing.T) {
	runDir := t.TempDir()
	w, err := New(nil, runDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.WriteLineageEdge("adam", "c1", 1); err != nil {
		t.Fatalf("WriteLineageEdge: %v", err)
	}
	if err := w.WriteLineageEdge("adam", "c2", 1); err != nil {
		t.Fatalf("WriteLineageEdge: %v", err)
	}

	f, err := os.Open(filepath.Join(runDir, "lineage.jsonl"))
	if err != nil {
		t.Fatalf("open lineage.jsonl: %v", err)
	}
	defer f.Close()

	var lines []LineageEdge
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LineageEdge
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lineage lines, got %d", len(lines))
	}
	if lines[0].Child != "c1" || lines[1].Child != "c2" {
		t.Fatalf("unexpected lineage order: %+v", lines)
	}
}

func TestWriter_WriteTranscriptNamesFileByStageAndGraphID(t *testing.T) {
	runDir := t.TempDir()
	w, err := New(nil, runDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	tr := domain.Transcript{
		Stage:     domain.StageCompile,
		GraphID:   "g1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := w.WriteTranscript(tr); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(runDir, "llm_transcripts", "*_compile_g1.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one matching transcript file, got %v", matches)
	}
}

func TestWriter_WriteRunConfigAndSummary(t *testing.T) {
	runDir := t.TempDir()
	w, err := New(nil, runDir, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	cfg := config.Default()
	if err := w.WriteRunConfig(&cfg); err != nil {
		t.Fatalf("WriteRunConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "run_config.json")); err != nil {
		t.Fatalf("expected run_config.json: %v", err)
	}

	summary := Summary{TerminatedBy: "depth_reached", EvalsCompleted: 12, MaxTotalEvals: 200}
	if err := w.WriteSummary(summary); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	if err != nil {
		t.Fatalf("reading summary.json: %v", err)
	}
	var loaded Summary
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if loaded.TerminatedBy != "depth_reached" {
		t.Fatalf("expected terminated_by depth_reached, got %q", loaded.TerminatedBy)
	}
}
