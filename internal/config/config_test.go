package config_test

import (
	"testing"

	"github.com/signalnine/gauntlet/internal/config"
)

func TestLoadMinimal(t *testing.T) {
	cfg, err := config.Load("../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ExperimentID != "exp-minimal" {
		t.Errorf("expected experiment id 'exp-minimal', got %q", cfg.ExperimentID)
	}
	if cfg.RunsPerSub != 3 {
		t.Errorf("expected default runs_per_subtest 3, got %d", cfg.RunsPerSub)
	}
	if cfg.MaxSubTests != 8 {
		t.Errorf("expected default max_subtests_per_tier 8, got %d", cfg.MaxSubTests)
	}
	if cfg.Judge.TieThreshold != 0.05 {
		t.Errorf("expected default tie threshold 0.05, got %f", cfg.Judge.TieThreshold)
	}
	if len(cfg.Judge.Models) != 1 {
		t.Errorf("expected 1 default judge model, got %d", len(cfg.Judge.Models))
	}
	if cfg.Parallelism.Low != 16 || cfg.Parallelism.Medium != 4 || cfg.Parallelism.High != 2 {
		t.Errorf("expected default parallelism 16/4/2, got %+v", cfg.Parallelism)
	}
	if cfg.Results.Dir != "results" {
		t.Errorf("expected default results dir, got %q", cfg.Results.Dir)
	}
	if cfg.Executor.TimeoutMinutes != 30 {
		t.Errorf("expected default timeout 30, got %d", cfg.Executor.TimeoutMinutes)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load("../../testdata/full.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Tiers) != 5 {
		t.Errorf("expected 5 tiers, got %d", len(cfg.Tiers))
	}
	if cfg.RunsPerSub != 5 {
		t.Errorf("expected 5 runs per subtest, got %d", cfg.RunsPerSub)
	}
	if !cfg.SkipTeamSubs {
		t.Error("expected skip_team_subtests true")
	}
	if len(cfg.Judge.Models) != 2 {
		t.Errorf("expected 2 judge models, got %d", len(cfg.Judge.Models))
	}
	if cfg.Judge.TieThreshold != 0.03 {
		t.Errorf("expected tie threshold 0.03, got %f", cfg.Judge.TieThreshold)
	}
	if cfg.Parallelism.High != 3 {
		t.Errorf("expected high parallelism 3, got %d", cfg.Parallelism.High)
	}
	if cfg.Executor.Env["AGENT_PROFILE"] != "benchmark" {
		t.Errorf("expected executor env to carry AGENT_PROFILE, got %v", cfg.Executor.Env)
	}
	if cfg.UntilTierState != "BEST_SELECTED" {
		t.Errorf("expected until_tier_state BEST_SELECTED, got %q", cfg.UntilTierState)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	if err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestHashChangesWithConfig(t *testing.T) {
	a, err := config.Load("../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, err := config.Load("../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.Hash() != b.Hash() {
		t.Error("expected identical configs to hash identically")
	}
	b.RunsPerSub = 7
	if a.Hash() == b.Hash() {
		t.Error("expected edited config to hash differently")
	}
}
