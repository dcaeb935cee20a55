package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/gauntlet/internal/checkpoint"
)

func newStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	return checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
}

func TestCreateLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	if store.Exists() {
		t.Fatal("store should not exist before Create")
	}
	cp := checkpoint.New("exp-1", "/tmp/exp-1", "hash-a", "INITIALIZING")
	cp.SetRun("t0", "sub-a", 1, checkpoint.RunPassed)
	if err := store.Create(cp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !store.Exists() {
		t.Fatal("store should exist after Create")
	}

	reload := checkpoint.NewStore(store.Path())
	got, err := reload.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ExperimentID != "exp-1" {
		t.Errorf("experiment id: got %q", got.ExperimentID)
	}
	if got.ExperimentState != "INITIALIZING" {
		t.Errorf("experiment state: got %q", got.ExperimentState)
	}
	if got.Run("t0", "sub-a", 1) != checkpoint.RunPassed {
		t.Errorf("run status: got %q", got.Run("t0", "sub-a", 1))
	}
	if got.Status != checkpoint.StatusRunning {
		t.Errorf("status: got %q", got.Status)
	}
}

func TestUpdatePersists(t *testing.T) {
	store := newStore(t)
	if err := store.Create(checkpoint.New("exp-1", "/tmp/exp-1", "h", "INITIALIZING")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Update(func(cp *checkpoint.Checkpoint) {
		cp.ExperimentState = "DIR_CREATED"
		cp.TierStates["t0"] = "PENDING"
		cp.SetRun("t0", "sub-a", 2, checkpoint.RunRunning)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := checkpoint.NewStore(store.Path()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ExperimentState != "DIR_CREATED" {
		t.Errorf("state: got %q", got.ExperimentState)
	}
	if got.TierStates["t0"] != "PENDING" {
		t.Errorf("tier state: got %q", got.TierStates["t0"])
	}
	if got.Run("t0", "sub-a", 2) != checkpoint.RunRunning {
		t.Errorf("run status: got %q", got.Run("t0", "sub-a", 2))
	}
}

func TestUpdateLeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	if err := store.Create(checkpoint.New("exp-1", "/tmp/exp-1", "h", "INITIALIZING")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Update(func(cp *checkpoint.Checkpoint) { cp.PauseCount++ }); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only checkpoint.json, found %v", names)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store := newStore(t)
	cp := checkpoint.New("exp-1", "/tmp/exp-1", "h", "INITIALIZING")
	cp.SetRun("t0", "sub-a", 1, checkpoint.RunPassed)
	if err := store.Create(cp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap := store.Snapshot()
	snap.SetRun("t0", "sub-a", 1, checkpoint.RunFailed)
	snap.TierStates["t9"] = "PENDING"

	again := store.Snapshot()
	if again.Run("t0", "sub-a", 1) != checkpoint.RunPassed {
		t.Error("mutating a snapshot leaked into the store")
	}
	if _, ok := again.TierStates["t9"]; ok {
		t.Error("mutating snapshot tier states leaked into the store")
	}
}

func TestValidateHashMismatch(t *testing.T) {
	cp := checkpoint.New("exp-1", "/tmp/exp-1", "hash-a", "INITIALIZING")
	if err := cp.Validate("hash-a"); err != nil {
		t.Errorf("matching hash should validate: %v", err)
	}
	if err := cp.Validate("hash-b"); err == nil {
		t.Error("expected error for mismatched config hash")
	}
}

func TestUpdateWithoutLoad(t *testing.T) {
	store := newStore(t)
	if err := store.Update(func(*checkpoint.Checkpoint) {}); err == nil {
		t.Error("expected error for Update before Create/Load")
	}
}

func TestHeartbeatTouchesTimestamp(t *testing.T) {
	store := newStore(t)
	if err := store.Create(checkpoint.New("exp-1", "/tmp/exp-1", "h", "INITIALIZING")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := store.Snapshot().LastUpdatedAt
	stop := store.StartHeartbeat(10 * time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Snapshot().LastUpdatedAt.After(before) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("heartbeat never refreshed last_updated_at")
}
