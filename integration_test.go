//go:build integration

package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/gauntlet/internal/checkpoint"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/executor"
	"github.com/signalnine/gauntlet/internal/experiment"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/tiers"
)

// createFixtureRepo creates a minimal git repo for integration testing.
func createFixtureRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	runGit := func(args ...string) string {
		t.Helper()
		c := exec.Command("git", args...)
		c.Dir = dir
		out, err := c.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}
	runGit("init")
	runGit("config", "user.email", "test@test.com")
	runGit("config", "user.name", "Test")
	os.WriteFile(filepath.Join(dir, "TASK.md"), []byte("Make the widget spin"), 0o644)
	runGit("add", ".")
	runGit("commit", "-m", "initial")
	return dir, runGit("rev-parse", "HEAD")
}

// TestShellExecutorIntegration drives a whole experiment through the real
// shell-command executors: the task records usage and succeeds, the judge
// emits a fixed score.
func TestShellExecutorIntegration(t *testing.T) {
	if os.Getenv("GAUNTLET_INTEGRATION_TESTS") == "" {
		t.Skip("set GAUNTLET_INTEGRATION_TESTS=1 to run integration tests")
	}

	repo, commit := createFixtureRepo(t)
	cfg := &config.Config{
		ExperimentID: "exp-integration",
		Repo:         config.Repo{URL: repo, Commit: commit},
		TaskFile:     "TASK.md",
		Tiers:        []string{"t0-bare", "t1-skills"},
		RunsPerSub:   2,
		MaxSubTests:  8,
		Judge:        config.Judge{Models: []string{"claude-sonnet-4"}, TieThreshold: 0.05},
		Parallelism:  config.Parallelism{Low: 4, Medium: 2, High: 2},
		Executor:     config.Executor{RunCmd: "unused", JudgeCmd: "unused", TimeoutMinutes: 1},
		Results:      config.Results{Dir: t.TempDir()},
	}

	task := &executor.ExecTask{
		Command: `test -f TASK.md && echo '{"provider":"anthropic","model":"claude-sonnet-4","input_tokens":1000,"output_tokens":200}' >> "$GAUNTLET_USAGE_LOG"`,
		Timeout: time.Minute,
		Pricing: pricing.Default(),
	}
	judge := &executor.ExecJudge{
		Command: "echo 0.75",
		Timeout: time.Minute,
		Models:  cfg.Judge.Models,
	}

	m, err := experiment.New(cfg, tiers.Builtin(), experiment.Options{Task: task, Judge: judge})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cp, err := checkpoint.NewStore(filepath.Join(m.ExperimentDir(), "checkpoint.json")).Load()
	if err != nil {
		t.Fatalf("loading checkpoint: %v", err)
	}
	if cp.Status != checkpoint.StatusCompleted {
		t.Errorf("status = %q", cp.Status)
	}

	for _, tierID := range cfg.Tiers {
		tr, err := result.ReadTierResult(m.ExperimentDir(), tierID)
		if err != nil {
			t.Fatalf("ReadTierResult %s: %v", tierID, err)
		}
		if tr.WinnerID == "" {
			t.Errorf("tier %s has no winner", tierID)
		}
		if tr.TotalTokens == 0 {
			t.Errorf("tier %s recorded no token usage", tierID)
		}
		winner := tr.Winner()
		if winner == nil || winner.MedianScore != 0.75 {
			t.Errorf("tier %s winner score = %+v", tierID, winner)
		}
	}
	if _, err := os.Stat(filepath.Join(m.ExperimentDir(), "tier_comparison.json")); err != nil {
		t.Errorf("missing tier comparison: %v", err)
	}
}
