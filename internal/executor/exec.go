package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/usage"
)

// ExecTask runs the configured task command via sh -c in the leased
// workspace. The command receives the attempt's context through GAUNTLET_*
// environment variables and reports token usage by appending JSONL records
// to $GAUNTLET_USAGE_LOG.
type ExecTask struct {
	Command string
	Timeout time.Duration
	Env     map[string]string
	Pricing *pricing.Table
}

func (e *ExecTask) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	if err := os.MkdirAll(req.RunDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	logPath := filepath.Join(req.RunDir, "task.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating task log: %w", err)
	}
	defer logFile.Close()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	usageLog := filepath.Join(req.RunDir, "usage.jsonl")
	cmd := exec.CommandContext(runCtx, "sh", "-c", e.Command)
	cmd.Dir = req.WorkspacePath
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), envForRequest(req, usageLog)...)
	for k, v := range e.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	out := &Outcome{
		DurationS: int(duration.Seconds()),
		LogPath:   logPath,
	}
	out.TimedOut = runCtx.Err() == context.DeadlineExceeded
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else if !out.TimedOut {
			return nil, fmt.Errorf("running task command: %w", runErr)
		} else {
			out.ExitCode = -1
		}
	}

	if out.ExitCode == RateLimitExitCode && !out.TimedOut {
		return nil, readRateLimit(req.RunDir)
	}

	records, err := usage.ParseLogs(usageLog)
	if err == nil {
		out.InputTokens, out.OutputTokens = usage.Totals(records)
		out.CostUSD = usage.EstimateCost(records, e.Pricing)
	}
	return out, nil
}

// readRateLimit loads the rate_limit.json a rate-limited command leaves
// behind, falling back to a short default wait when it wrote none.
func readRateLimit(runDir string) *RateLimitError {
	rle := &RateLimitError{Source: "executor", Until: time.Now().Add(time.Minute)}
	data, err := os.ReadFile(filepath.Join(runDir, "rate_limit.json"))
	if err != nil {
		return rle
	}
	var parsed RateLimitError
	if err := json.Unmarshal(data, &parsed); err != nil {
		return rle
	}
	if parsed.Source != "" {
		rle.Source = parsed.Source
	}
	if !parsed.Until.IsZero() {
		rle.Until = parsed.Until
	}
	return rle
}

// ExecJudge scores an attempt by running the configured judge command in the
// workspace. The command's last stdout line must be a float in [0, 1].
type ExecJudge struct {
	Command string
	Timeout time.Duration
	Env     map[string]string
	Models  []string
}

func (e *ExecJudge) Score(ctx context.Context, workspacePath string, outcome *Outcome) (float64, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", e.Command)
	cmd.Dir = workspacePath
	cmd.Env = append(os.Environ(),
		"GAUNTLET_EXIT_REASON="+outcome.ExitReason(),
		"GAUNTLET_TASK_LOG="+outcome.LogPath,
		"GAUNTLET_JUDGE_MODELS="+strings.Join(e.Models, ","),
	)
	for k, v := range e.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("running judge command: %w", err)
	}
	return parseScore(string(stdout))
}

func parseScore(stdout string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	score, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("judge output %q is not a score: %w", last, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("judge score %v outside [0, 1]", score)
	}
	return score, nil
}

func envForRequest(req *Request, usageLog string) []string {
	return []string{
		"GAUNTLET_TASK_FILE=" + req.TaskFile,
		"GAUNTLET_RUN_DIR=" + req.RunDir,
		"GAUNTLET_RUN_NUM=" + strconv.Itoa(req.RunNum),
		"GAUNTLET_TIER=" + req.Config.TierID,
		"GAUNTLET_SUBTEST=" + req.Config.SubTestID,
		"GAUNTLET_CONFIG=" + req.ManifestPath,
		"GAUNTLET_USAGE_LOG=" + usageLog,
	}
}
