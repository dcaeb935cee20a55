package checkpoint

import (
	"os"
	"syscall"
	"time"
)

// DefaultStaleAfter is how long a heartbeat may be silent before a checkpoint
// whose owning pid is dead counts as a zombie (3 missed 30s heartbeats).
const DefaultStaleAfter = 90 * time.Second

// IsZombie reports whether a non-completed checkpoint belongs to a dead
// process. Both signals must agree: a live pid is never a zombie, and a dead
// pid with a fresh heartbeat is given the benefit of the doubt (pid reuse,
// clock skew).
func IsZombie(c *Checkpoint, staleAfter time.Duration) bool {
	if c.Status == StatusCompleted {
		return false
	}
	if pidAlive(c.PID) {
		return false
	}
	return time.Since(c.LastUpdatedAt) > staleAfter
}

// ResetInProgress clears every non-terminal unit so a resume retries it
// rather than assuming it finished: "running" run entries are removed and
// tier states recorded mid-execution stay where they are (their actions are
// idempotent and replay from the checkpoint).
func ResetInProgress(c *Checkpoint) (resetRuns int) {
	for _, subs := range c.CompletedRuns {
		for _, runs := range subs {
			for n, status := range runs {
				if status == RunRunning {
					delete(runs, n)
					resetRuns++
				}
			}
		}
	}
	if c.Status == StatusRunning {
		c.Status = StatusInterrupted
	}
	return resetRuns
}

// StillOwned reports whether a non-completed checkpoint belongs to a live
// process other than this one. Resuming over a live owner would double-run
// the experiment.
func StillOwned(c *Checkpoint) bool {
	if c.Status == StatusCompleted {
		return false
	}
	return c.PID != os.Getpid() && pidAlive(c.PID)
}

// pidAlive probes a process with signal 0, the same liveness check used for
// stale lock files.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
