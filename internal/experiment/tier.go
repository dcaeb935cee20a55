package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalnine/gauntlet/internal/checkpoint"
	"github.com/signalnine/gauntlet/internal/executor"
	"github.com/signalnine/gauntlet/internal/fsm"
	"github.com/signalnine/gauntlet/internal/judge"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/sched"
	"github.com/signalnine/gauntlet/internal/tiers"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// tierRun carries the mutable per-tier context between state actions. All of
// it is reconstructible from the checkpoint plus static configuration, which
// is what makes resuming past skipped states safe.
type tierRun struct {
	m         *Machine
	tierID    string
	inherited []tiers.Baseline
	cfgs      []tiers.SubTestConfig
	selection *judge.Selection
	tierRes   *result.TierResult
	started   time.Time
}

// runTier drives one tier from its checkpointed state to COMPLETE (or the
// configured early-stop tier state).
func (m *Machine) runTier(ctx context.Context, tierID string) error {
	t := &tierRun{m: m, tierID: tierID, inherited: m.baselinesFor(tierID), started: time.Now()}

	cp := m.store.Snapshot()
	cur := fsm.State(cp.TierStates[tierID])
	if cur == "" {
		cur = TierPending
	}
	machine, err := fsm.New("tier "+tierID, TierStates(), cur, func(next fsm.State) error {
		return m.store.Update(func(cp *checkpoint.Checkpoint) {
			cp.TierStates[tierID] = string(next)
		})
	})
	if err != nil {
		return err
	}

	// Rehydration: states after PENDING rely on composed configs that the
	// skipped loadConfig action would have produced, and states after
	// SUBTESTS_COMPLETE rely on its selection. Both actions replay cleanly
	// from persisted inputs.
	if cur != TierPending && cur != TierComplete {
		if err := t.ensureConfigs(); err != nil {
			return err
		}
	}
	if cur == TierBestSelected || cur == TierReportsGenerated {
		if err := t.actSelectBest(ctx); err != nil {
			return err
		}
	}

	actions := map[fsm.State]fsm.Action{
		TierPending:          t.actLoadConfig,
		TierConfigLoaded:     t.actMarkRunning,
		TierSubTestsRunning:  t.actRunSubTests,
		TierSubTestsComplete: t.actSelectBest,
		TierBestSelected:     t.actWriteReports,
		TierReportsGenerated: t.actFinalize,
	}
	if err := machine.AdvanceToCompletion(ctx, actions, fsm.State(m.cfg.UntilTierState)); err != nil {
		return err
	}
	if machine.Done() {
		m.recordTier(t)
	}
	return nil
}

// baselinesFor resolves the baselines a tier inherits: its declared
// contributors when present (skipping any that failed to produce one),
// otherwise the rolling baseline from the previous group.
func (m *Machine) baselinesFor(tierID string) []tiers.Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, err := m.reg.Get(tierID)
	if err != nil {
		return nil
	}
	if len(def.InheritFrom) > 0 {
		var out []tiers.Baseline
		for _, src := range def.InheritFrom {
			if b, ok := m.baselines[src]; ok {
				out = append(out, b)
			} else {
				log.Printf("warning: tier %s: no baseline from %s, composing without it", tierID, src)
			}
		}
		return out
	}
	if len(def.DependsOn) > 0 && m.rolling != nil {
		return []tiers.Baseline{*m.rolling}
	}
	return nil
}

func (m *Machine) recordTier(t *tierRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.tierRes != nil {
		m.results[t.tierID] = t.tierRes
		if winner := t.tierRes.Winner(); winner != nil {
			for _, cfg := range t.cfgs {
				if cfg.SubTestID == winner.SubTestID {
					m.baselines[t.tierID] = tiers.Baseline{
						TierID:    t.tierID,
						SubTestID: winner.SubTestID,
						Resources: cfg.Resources,
					}
					break
				}
			}
		}
	}
}

func (t *tierRun) ensureConfigs() error {
	if t.cfgs != nil {
		return nil
	}
	composer := tiers.NewComposer(t.m.reg, t.m.cfg.MaxSubTests, t.m.cfg.SkipTeamSubs)
	cfgs, err := composer.Compose(t.tierID, t.inherited)
	if err != nil {
		return err
	}
	t.cfgs = cfgs
	return nil
}

// actLoadConfig composes every sub-test configuration and records a manifest
// per sub-test for reproducibility auditing.
func (t *tierRun) actLoadConfig(ctx context.Context) error {
	if err := t.ensureConfigs(); err != nil {
		return err
	}
	return t.m.sched.With(ctx, sched.ClassLow, func() error {
		for _, cfg := range t.cfgs {
			path := t.manifestPath(cfg.SubTestID)
			if err := result.WriteJSON(path, cfg.Manifest()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tierRun) actMarkRunning(context.Context) error {
	log.Printf("tier %s: %d subtests x %d runs", t.tierID, len(t.cfgs), t.m.cfg.RunsPerSub)
	return nil
}

// actRunSubTests fans every remaining (sub-test, run) pair out through the
// scheduler. Runs already committed to the checkpoint are never re-executed;
// a single failed run is recorded and excluded, its siblings proceed.
func (t *tierRun) actRunSubTests(ctx context.Context) error {
	cloneDir, err := t.m.ensureClone(ctx)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	cp := t.m.store.Snapshot()
	for _, cfg := range t.cfgs {
		for run := 1; run <= t.m.cfg.RunsPerSub; run++ {
			switch cp.Run(t.tierID, cfg.SubTestID, run) {
			case checkpoint.RunPassed, checkpoint.RunFailed:
				continue
			}
			cfg, run := cfg, run
			g.Go(func() error {
				return t.executeRun(ctx, cloneDir, cfg, run)
			})
		}
	}
	return g.Wait()
}

// executeRun performs one attempt end to end: lease a worktree, execute the
// task, score it, persist the outcome, then commit the run status to the
// checkpoint. Commit order matters: the outcome file lands on disk before
// the checkpoint marks the run terminal, so a crash between the two replays
// the run instead of losing its result.
func (t *tierRun) executeRun(ctx context.Context, cloneDir string, cfg tiers.SubTestConfig, run int) error {
	if err := t.m.sched.Acquire(ctx, sched.ClassHigh); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("tier %s subtest %s run %d: %w", t.tierID, cfg.SubTestID, run, err)
	}
	defer t.m.sched.Release(sched.ClassHigh)

	if err := t.m.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.SetRun(t.tierID, cfg.SubTestID, run, checkpoint.RunRunning)
	}); err != nil {
		return err
	}

	// Worktree add and remove shell out to git, so both count against the
	// medium memory class even while the high-class run slot is held.
	runID := fmt.Sprintf("%s-%s-r%d", t.tierID, cfg.SubTestID, run)
	var lease *workspace.Lease
	err := t.m.sched.With(ctx, sched.ClassMedium, func() error {
		var err error
		lease, err = t.m.ws.Acquire(ctx, cloneDir, t.m.cfg.Repo.Commit, runID)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("leasing workspace for %s: %w", runID, err)
	}
	defer func() {
		t.m.sched.With(context.Background(), sched.ClassMedium, func() error {
			lease.Release()
			return nil
		})
	}()

	req := &executor.Request{
		WorkspacePath: lease.Path,
		TaskFile:      t.m.cfg.TaskFile,
		RunDir:        result.RunDir(t.m.expDir, t.tierID, cfg.SubTestID, run),
		RunNum:        run,
		Config:        cfg,
		ManifestPath:  t.manifestPath(cfg.SubTestID),
	}

	outcome, err := t.executeWithRateLimitRetry(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Partial execution failure: record it as a failed run so siblings
		// and later tiers are unaffected.
		log.Printf("warning: %s failed: %v", runID, err)
		outcome = &executor.Outcome{ExitCode: -1}
	}

	score := 0.0
	if outcome.Passed() {
		score, err = t.m.judge.Score(t.m.hardCtx, lease.Path, outcome)
		if err != nil {
			log.Printf("warning: judging %s: %v", runID, err)
			score = 0
		}
	}

	ro := result.RunOutcome{
		RunNum:       run,
		Passed:       outcome.Passed(),
		Score:        score,
		CostUSD:      outcome.CostUSD,
		InputTokens:  outcome.InputTokens,
		OutputTokens: outcome.OutputTokens,
		DurationS:    outcome.DurationS,
		ExitReason:   outcome.ExitReason(),
	}
	err = t.m.sched.With(ctx, sched.ClassLow, func() error {
		return result.WriteRunOutcome(t.m.expDir, t.tierID, cfg.SubTestID, &ro)
	})
	if err != nil {
		return err
	}

	status := checkpoint.RunFailed
	if ro.Passed {
		status = checkpoint.RunPassed
	}
	return t.m.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.SetRun(t.tierID, cfg.SubTestID, run, status)
	})
}

// executeWithRateLimitRetry runs the task, and when the executor reports a
// rate limit, records it in the checkpoint, waits until the reset time, and
// retries once. The subprocess itself runs under the hard-shutdown context
// so a forced interrupt kills it.
func (t *tierRun) executeWithRateLimitRetry(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
	outcome, err := t.m.task.Execute(t.m.hardCtx, req)
	var rle *executor.RateLimitError
	if !errors.As(err, &rle) {
		return outcome, err
	}

	if err := t.m.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.RateLimitSource = rle.Source
		until := rle.Until
		cp.RateLimitUntil = &until
		cp.PauseCount++
	}); err != nil {
		return nil, err
	}
	log.Printf("rate limited by %s, waiting until %s", rle.Source, rle.Until.Format(time.RFC3339))

	select {
	case <-time.After(time.Until(rle.Until)):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := t.m.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.RateLimitSource = ""
		cp.RateLimitUntil = nil
	}); err != nil {
		return nil, err
	}
	return t.m.task.Execute(t.m.hardCtx, req)
}

// actSelectBest aggregates every sub-test's persisted run outcomes and asks
// the judge selector for a winner. Reading from disk instead of memory keeps
// the action idempotent across resumes.
func (t *tierRun) actSelectBest(context.Context) error {
	tr := &result.TierResult{
		TierID:   t.tierID,
		SubTests: map[string]*result.SubTestResult{},
	}
	var candidates []judge.Candidate
	for _, cfg := range t.cfgs {
		runs, err := result.ReadRunOutcomes(t.m.expDir, t.tierID, cfg.SubTestID)
		if err != nil {
			return err
		}
		str := &result.SubTestResult{SubTestID: cfg.SubTestID, TierID: t.tierID, Runs: runs}
		str.Aggregate()
		tr.SubTests[cfg.SubTestID] = str
		tr.TotalCostUSD += str.TotalCostUSD
		tr.TotalTokens += str.TotalTokens
		for _, run := range runs {
			tr.DurationS += run.DurationS
		}
		if len(runs) > 0 {
			candidates = append(candidates, judge.Candidate{
				SubTestID:   cfg.SubTestID,
				MedianScore: str.MedianScore,
				PassRate:    str.PassRate,
				Consistency: str.Consistency,
				TotalTokens: str.TotalTokens,
			})
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("tier %s: no subtest produced any runs", t.tierID)
	}

	sel, err := judge.Select(candidates, t.m.cfg.Judge.TieThreshold)
	if err != nil {
		return fmt.Errorf("tier %s: %w", t.tierID, err)
	}
	t.selection = sel

	tr.WinnerID = sel.WinnerID
	tr.WinnerScore = sel.WinnerScore
	tr.TiebreakerFired = sel.TiebreakerNeeded
	for _, vote := range sel.Votes {
		if str, ok := tr.SubTests[vote.SubTestID]; ok {
			str.Selected = vote.Selected
			str.SelectionReason = vote.Reason
		}
	}
	for _, cfg := range t.cfgs {
		if len(cfg.BaselineFrom) > 0 {
			tr.BaselineFrom = cfg.BaselineFrom
			break
		}
	}
	t.tierRes = tr
	return nil
}

// actWriteReports persists the tier summary, the judge selection, and the
// winner's baseline.
func (t *tierRun) actWriteReports(ctx context.Context) error {
	return t.m.sched.With(ctx, sched.ClassLow, func() error {
		if err := result.WriteTierResult(t.m.expDir, t.tierRes); err != nil {
			return err
		}
		tierDir := result.TierDir(t.m.expDir, t.tierID)
		if err := result.WriteJSON(filepath.Join(tierDir, "best_subtest.json"), t.selection); err != nil {
			return err
		}
		for _, cfg := range t.cfgs {
			if cfg.SubTestID == t.tierRes.WinnerID {
				baseline := tiers.Baseline{TierID: t.tierID, SubTestID: cfg.SubTestID, Resources: cfg.Resources}
				return result.WriteJSON(filepath.Join(tierDir, "baseline.json"), baseline)
			}
		}
		return nil
	})
}

func (t *tierRun) actFinalize(context.Context) error {
	log.Printf("tier %s: winner %s (score %.3f)", t.tierID, t.tierRes.WinnerID, t.tierRes.WinnerScore)
	return nil
}

func (t *tierRun) manifestPath(subTestID string) string {
	return filepath.Join(result.SubTestDir(t.m.expDir, t.tierID, subTestID), "config_manifest.json")
}
