// Package experiment drives a whole run: the experiment-level state machine,
// one tier-level state machine per tier, and the parallel tier runner that
// executes dependency groups in order. Both machines checkpoint after every
// transition so a killed process resumes exactly where it stopped.
package experiment

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/signalnine/gauntlet/internal/checkpoint"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/depgraph"
	"github.com/signalnine/gauntlet/internal/executor"
	"github.com/signalnine/gauntlet/internal/fsm"
	"github.com/signalnine/gauntlet/internal/report"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/sched"
	"github.com/signalnine/gauntlet/internal/tiers"
	"github.com/signalnine/gauntlet/internal/workspace"
)

const heartbeatInterval = 30 * time.Second

// Scheduler bounds concurrent work by memory class: agent and judge
// subprocesses run high, git subprocesses medium, result-file writes low.
type Scheduler interface {
	Acquire(ctx context.Context, class sched.Class) error
	Release(class sched.Class)
	With(ctx context.Context, class sched.Class, fn func() error) error
}

// Options are the collaborators a Machine drives. Task and Judge default to
// the exec-backed implementations wired by the CLI; tests inject fakes.
type Options struct {
	Store      *checkpoint.Store
	Scheduler  Scheduler
	Workspaces *workspace.Manager
	Task       executor.TaskExecutor
	Judge      executor.JudgeEvaluator

	// HardCtx cancels in-flight subprocesses on forced shutdown. The context
	// passed to Run only stops new work from being submitted.
	HardCtx context.Context
}

type Machine struct {
	cfg     *config.Config
	reg     *tiers.Registry
	store   *checkpoint.Store
	sched   Scheduler
	ws      *workspace.Manager
	task    executor.TaskExecutor
	judge   executor.JudgeEvaluator
	hardCtx context.Context
	expDir  string
	groups  [][]string

	cloneMu  sync.Mutex
	cloneDir string

	mu        sync.Mutex
	baselines map[string]tiers.Baseline
	rolling   *tiers.Baseline
	results   map[string]*result.TierResult
}

func New(cfg *config.Config, reg *tiers.Registry, opts Options) (*Machine, error) {
	if err := checkTierSelection(cfg, reg); err != nil {
		return nil, err
	}
	groups, err := depgraph.Groups(cfg.Tiers, reg.Dependencies())
	if err != nil {
		return nil, err
	}
	expDir, err := filepath.Abs(filepath.Join(cfg.Results.Dir, cfg.ExperimentID))
	if err != nil {
		return nil, fmt.Errorf("resolving experiment dir: %w", err)
	}
	if opts.Store == nil {
		opts.Store = checkpoint.NewStore(filepath.Join(expDir, "checkpoint.json"))
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.New(cfg.Parallelism.Low, cfg.Parallelism.Medium, cfg.Parallelism.High)
	}
	if opts.Workspaces == nil {
		opts.Workspaces = workspace.NewManager(filepath.Join(expDir, ".workspaces"))
	}
	if opts.Task == nil || opts.Judge == nil {
		return nil, fmt.Errorf("task executor and judge evaluator are required")
	}
	if opts.HardCtx == nil {
		opts.HardCtx = context.Background()
	}
	return &Machine{
		cfg:       cfg,
		reg:       reg,
		store:     opts.Store,
		sched:     opts.Scheduler,
		ws:        opts.Workspaces,
		task:      opts.Task,
		judge:     opts.Judge,
		hardCtx:   opts.HardCtx,
		expDir:    expDir,
		groups:    groups,
		baselines: map[string]tiers.Baseline{},
		results:   map[string]*result.TierResult{},
	}, nil
}

func checkTierSelection(cfg *config.Config, reg *tiers.Registry) error {
	for _, id := range cfg.Tiers {
		if _, err := reg.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// ExperimentDir returns the root directory this experiment writes under.
func (m *Machine) ExperimentDir() string { return m.expDir }

// Groups exposes the computed tier grouping, mainly for the CLI plan output.
func (m *Machine) Groups() [][]string { return m.groups }

// Run executes (or resumes) the experiment to COMPLETE or to the configured
// early-stop state. ctx is the cooperative-shutdown context: cancelling it
// stops new work but lets in-flight work checkpoint.
func (m *Machine) Run(ctx context.Context) error {
	cur, err := m.loadOrCreateCheckpoint()
	if err != nil {
		return err
	}

	stopHeartbeat := m.store.StartHeartbeat(heartbeatInterval)
	defer stopHeartbeat()

	if err := m.rehydrate(); err != nil {
		return err
	}

	machine, err := fsm.New("experiment", ExperimentStates(), cur, func(next fsm.State) error {
		return m.store.Update(func(cp *checkpoint.Checkpoint) {
			cp.ExperimentState = string(next)
			if next == ExpComplete {
				cp.Status = checkpoint.StatusCompleted
			}
		})
	})
	if err != nil {
		return err
	}

	actions := map[fsm.State]fsm.Action{
		ExpInitializing:     m.actCreateDirs,
		ExpDirCreated:       m.actCloneRepo,
		ExpRepoCloned:       m.actAnnouncePlan,
		ExpTiersRunning:     m.runTierGroups,
		ExpTiersComplete:    m.actWriteReports,
		ExpReportsGenerated: m.actFinalize,
	}

	runErr := machine.AdvanceToCompletion(ctx, actions, fsm.State(m.cfg.UntilExperimentState))
	if runErr != nil {
		if err := m.store.Update(func(cp *checkpoint.Checkpoint) {
			cp.Status = checkpoint.StatusInterrupted
		}); err != nil {
			log.Printf("warning: marking checkpoint interrupted: %v", err)
		}
		return runErr
	}
	return nil
}

// loadOrCreateCheckpoint resumes from an existing checkpoint (validating the
// config hash and resetting zombie state) or creates a fresh one.
func (m *Machine) loadOrCreateCheckpoint() (fsm.State, error) {
	if !m.store.Exists() {
		if err := os.MkdirAll(m.expDir, 0o755); err != nil {
			return "", fmt.Errorf("creating experiment dir: %w", err)
		}
		cp := checkpoint.New(m.cfg.ExperimentID, m.expDir, m.cfg.Hash(), string(ExpInitializing))
		if err := m.store.Create(cp); err != nil {
			return "", err
		}
		return ExpInitializing, nil
	}

	cp, err := m.store.Load()
	if err != nil {
		return "", err
	}
	if err := cp.Validate(m.cfg.Hash()); err != nil {
		return "", err
	}
	if cp.Status == checkpoint.StatusCompleted {
		return fsm.State(cp.ExperimentState), nil
	}
	if checkpoint.IsZombie(cp, checkpoint.DefaultStaleAfter) {
		if err := m.store.Update(func(cp *checkpoint.Checkpoint) {
			n := checkpoint.ResetInProgress(cp)
			if n > 0 {
				log.Printf("zombie checkpoint: reset %d in-progress runs for retry", n)
			}
		}); err != nil {
			return "", err
		}
	} else if checkpoint.StillOwned(cp) {
		return "", fmt.Errorf("experiment %s is owned by live process %d", cp.ExperimentID, cp.PID)
	}
	if err := m.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.Status = checkpoint.StatusRunning
		cp.PauseCount++
	}); err != nil {
		return "", err
	}
	color.Yellow("Resuming experiment %s at %s", m.cfg.ExperimentID, cp.ExperimentState)
	return fsm.State(cp.ExperimentState), nil
}

// rehydrate reconstructs the in-memory context that skipped states would
// have populated: completed tier results and their baselines are reloaded
// from disk so reports and baseline inheritance work after a resume.
func (m *Machine) rehydrate() error {
	cp := m.store.Snapshot()
	for tierID, state := range cp.TierStates {
		if fsm.State(state) != TierComplete {
			continue
		}
		tr, err := result.ReadTierResult(m.expDir, tierID)
		if err != nil {
			return fmt.Errorf("rehydrating tier %s: %w", tierID, err)
		}
		var baseline tiers.Baseline
		if err := result.ReadJSON(filepath.Join(result.TierDir(m.expDir, tierID), "baseline.json"), &baseline); err == nil {
			m.baselines[tierID] = baseline
		}
		m.results[tierID] = tr
	}
	// Replay baseline forwarding over already-finished groups so the rolling
	// baseline matches what a fresh run would carry at this point.
	for _, group := range m.groups {
		done := true
		for _, tierID := range group {
			if _, ok := m.results[tierID]; !ok {
				done = false
				break
			}
		}
		if !done {
			break
		}
		m.forwardBaseline(group)
	}
	return nil
}

func (m *Machine) actCreateDirs(context.Context) error {
	if err := os.MkdirAll(m.expDir, 0o755); err != nil {
		return fmt.Errorf("creating experiment dir: %w", err)
	}
	if err := result.WritePIDFile(m.expDir); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

func (m *Machine) actCloneRepo(ctx context.Context) error {
	_, err := m.ensureClone(ctx)
	return err
}

func (m *Machine) actAnnouncePlan(context.Context) error {
	for i, group := range m.groups {
		log.Printf("tier group %d: %v", i+1, group)
	}
	return nil
}

func (m *Machine) actWriteReports(context.Context) error {
	return report.WriteFiles(m.expDir, m.cfg.ExperimentID)
}

func (m *Machine) actFinalize(context.Context) error {
	result.RemovePIDFile(m.expDir)
	color.Green("Experiment %s complete", m.cfg.ExperimentID)
	return nil
}

// ensureClone rehydrates the clone directory when the DIR_CREATED action was
// skipped on resume. EnsureClone is idempotent and cheap once cloned. Clone
// and fetch subprocesses count against the medium memory class.
func (m *Machine) ensureClone(ctx context.Context) (string, error) {
	m.cloneMu.Lock()
	defer m.cloneMu.Unlock()
	if m.cloneDir != "" {
		return m.cloneDir, nil
	}
	err := m.sched.With(ctx, sched.ClassMedium, func() error {
		dir, err := m.ws.EnsureClone(ctx, m.cfg.Repo.URL, m.cfg.Repo.Commit)
		if err != nil {
			return err
		}
		m.cloneDir = dir
		return nil
	})
	if err != nil {
		return "", err
	}
	return m.cloneDir, nil
}

// Results returns the per-tier results recorded so far.
func (m *Machine) Results() map[string]*result.TierResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*result.TierResult, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}
