// Package executor defines the collaborator contracts for the two black-box
// subprocesses the orchestrator drives: running one sub-test attempt in a
// workspace, and scoring a completed attempt. Default implementations shell
// out to configured commands; anything honoring the environment contract can
// stand in.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/signalnine/gauntlet/internal/tiers"
)

// RateLimitExitCode is the contract exit code (EX_TEMPFAIL) a task command
// uses to signal it was rate limited. It may leave a rate_limit.json with the
// source and reset time in the run directory.
const RateLimitExitCode = 75

// RateLimitError reports that an attempt hit a provider rate limit and when
// it is worth retrying.
type RateLimitError struct {
	Source string    `json:"source"`
	Until  time.Time `json:"until"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s until %s", e.Source, e.Until.Format(time.RFC3339))
}

// Request describes one attempt: where to work, what to do, and where to
// leave artifacts.
type Request struct {
	WorkspacePath string
	TaskFile      string
	RunDir        string
	RunNum        int
	Config        tiers.SubTestConfig
	ManifestPath  string
}

// Outcome is what a task executor reports back for one attempt.
type Outcome struct {
	ExitCode     int     `json:"exit_code"`
	TimedOut     bool    `json:"timed_out"`
	DurationS    int     `json:"duration_s"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	LogPath      string  `json:"log_path,omitempty"`
}

// Passed reports whether the attempt completed the task.
func (o *Outcome) Passed() bool { return o.ExitCode == 0 && !o.TimedOut }

// ExitReason maps an outcome to the reason string recorded per run.
func (o *Outcome) ExitReason() string {
	if o.TimedOut {
		return "timeout"
	}
	switch o.ExitCode {
	case 0:
		return "completed"
	case 2:
		return "gave_up"
	default:
		return "crashed"
	}
}

// TaskExecutor runs one sub-test attempt against a leased workspace.
type TaskExecutor interface {
	Execute(ctx context.Context, req *Request) (*Outcome, error)
}

// JudgeEvaluator scores a completed attempt in [0, 1].
type JudgeEvaluator interface {
	Score(ctx context.Context, workspacePath string, outcome *Outcome) (float64, error)
}
