package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Evolution.Depth != 3 || cfg.Evolution.Branching != 3 {
		t.Fatalf("unexpected evolution defaults: %+v", cfg.Evolution)
	}
	if cfg.Evolution.MaxTotalEvals != 200 {
		t.Fatalf("expected max_total_evals 200, got %d", cfg.Evolution.MaxTotalEvals)
	}
	if cfg.Phase3.Enabled {
		t.Fatal("expected phase3 disabled by default")
	}
	if cfg.Phase3.NEpisodes != 8 {
		t.Fatalf("expected n_episodes 8, got %d", cfg.Phase3.NEpisodes)
	}
	if cfg.Evolution.WorkerPoolSize <= 0 {
		t.Fatal("expected a positive default worker pool size")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{"llm": {"endpoint": "http://localhost:9999"}, "not_a_real_field": true}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an unknown top-level field")
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	body := `{
		"seed_text": "buy SPY on momentum",
		"llm": {"endpoint": "http://localhost:9999", "model": "test-model"},
		"evolution": {"depth": 5, "branching": 3, "survivors_per_layer": 5, "min_survivors_floor": 1, "max_total_evals": 200}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SeedText != "buy SPY on momentum" {
		t.Fatalf("expected seed_text to be overlaid, got %q", cfg.SeedText)
	}
	if cfg.Evolution.Depth != 5 {
		t.Fatalf("expected depth overlaid to 5, got %d", cfg.Evolution.Depth)
	}
	if cfg.Phase3.NEpisodes != 8 {
		t.Fatalf("expected untouched phase3 defaults to survive, got %d", cfg.Phase3.NEpisodes)
	}
}

func TestLoad_RejectsMissingEndpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config with no llm.endpoint")
	}
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{"llm": {"endpoint": "http://localhost:9999"}}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("STRATEGY_EVOLUTION_LLM_API_KEY", "secret-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "secret-123" {
		t.Fatalf("expected env-sourced API key, got %q", cfg.LLM.APIKey)
	}
}
