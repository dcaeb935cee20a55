package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
)

// RunStatus values recorded per individual run in CompletedRuns. Only
// "passed" and "failed" are terminal; a "running" entry left behind by a dead
// process is reset so the run is retried instead of assumed complete.
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

// Checkpoint is the single source of truth for experiment progress. It is
// only ever rewritten whole, atomically, never edited in place.
type Checkpoint struct {
	ExperimentID    string                               `json:"experiment_id"`
	ExperimentDir   string                               `json:"experiment_dir"`
	ConfigHash      string                               `json:"config_hash"`
	CompletedRuns   map[string]map[string]map[int]string `json:"completed_runs"`
	ExperimentState string                               `json:"experiment_state"`
	TierStates      map[string]string                    `json:"tier_states"`
	Status          Status                               `json:"status"`
	RateLimitSource string                               `json:"rate_limit_source,omitempty"`
	RateLimitUntil  *time.Time                           `json:"rate_limit_until,omitempty"`
	PauseCount      int                                  `json:"pause_count"`
	PID             int                                  `json:"pid"`
	StartedAt       time.Time                            `json:"started_at"`
	LastUpdatedAt   time.Time                            `json:"last_updated_at"`
}

// New returns a fresh checkpoint for an experiment starting now.
func New(experimentID, experimentDir, configHash, initialState string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		ExperimentID:    experimentID,
		ExperimentDir:   experimentDir,
		ConfigHash:      configHash,
		CompletedRuns:   map[string]map[string]map[int]string{},
		ExperimentState: initialState,
		TierStates:      map[string]string{},
		Status:          StatusRunning,
		PID:             os.Getpid(),
		StartedAt:       now,
		LastUpdatedAt:   now,
	}
}

// SetRun records the status of one run. Nested maps are created on demand.
func (c *Checkpoint) SetRun(tierID, subTestID string, runNum int, status string) {
	if c.CompletedRuns == nil {
		c.CompletedRuns = map[string]map[string]map[int]string{}
	}
	if c.CompletedRuns[tierID] == nil {
		c.CompletedRuns[tierID] = map[string]map[int]string{}
	}
	if c.CompletedRuns[tierID][subTestID] == nil {
		c.CompletedRuns[tierID][subTestID] = map[int]string{}
	}
	c.CompletedRuns[tierID][subTestID][runNum] = status
}

// Run returns the recorded status for one run, or "" if none.
func (c *Checkpoint) Run(tierID, subTestID string, runNum int) string {
	return c.CompletedRuns[tierID][subTestID][runNum]
}

// Store owns the checkpoint file for one experiment. All mutation goes
// through Update so the heartbeat goroutine and worker threads never race.
type Store struct {
	path string

	mu sync.Mutex
	cp *Checkpoint
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Create writes the initial checkpoint and adopts it as the store's state.
func (s *Store) Create(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = cp
	return s.writeLocked()
}

// Load reads the checkpoint file and adopts it as the store's state.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.cp = &cp
	s.mu.Unlock()
	return &cp, nil
}

// Update applies mutate under the store lock and rewrites the file
// atomically. The checkpoint is never partially visible on disk.
func (s *Store) Update(mutate func(*Checkpoint)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		return fmt.Errorf("checkpoint store has no loaded checkpoint")
	}
	mutate(s.cp)
	return s.writeLocked()
}

// Snapshot returns a deep copy of the current checkpoint.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cp
	cp.CompletedRuns = map[string]map[string]map[int]string{}
	for tier, subs := range s.cp.CompletedRuns {
		cp.CompletedRuns[tier] = map[string]map[int]string{}
		for sub, runs := range subs {
			cp.CompletedRuns[tier][sub] = map[int]string{}
			for n, st := range runs {
				cp.CompletedRuns[tier][sub][n] = st
			}
		}
	}
	cp.TierStates = map[string]string{}
	for k, v := range s.cp.TierStates {
		cp.TierStates[k] = v
	}
	return cp
}

func (s *Store) writeLocked() error {
	s.cp.LastUpdatedAt = time.Now().UTC()
	s.cp.PID = os.Getpid()
	data, err := json.MarshalIndent(s.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Validate fails a resume when the stored config hash does not match the
// current configuration. The caller must reuse the saved config or start
// fresh; silently continuing would mix two experiment definitions.
func (c *Checkpoint) Validate(configHash string) error {
	if c.ConfigHash != configHash {
		return fmt.Errorf("checkpoint config hash %.12s does not match current config %.12s; reuse the original config or delete the experiment directory",
			c.ConfigHash, configHash)
	}
	return nil
}

// StartHeartbeat refreshes pid and last_updated_at every interval until the
// returned stop function is called. A resumer uses the pair to distinguish a
// live sibling process from a zombie checkpoint.
func (s *Store) StartHeartbeat(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// Touch-only update; writeLocked refreshes the timestamp.
				if err := s.Update(func(*Checkpoint) {}); err != nil {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
