package experiment_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/signalnine/gauntlet/internal/experiment"
)

func waitDone(t *testing.T, ctx context.Context, name string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s context not cancelled", name)
	}
}

func TestInterruptsEscalate(t *testing.T) {
	soft, hard, stop := experiment.Interrupts(context.Background())
	defer stop()

	if soft.Err() != nil || hard.Err() != nil {
		t.Fatal("contexts cancelled before any signal")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}
	waitDone(t, soft, "soft")
	if hard.Err() != nil {
		t.Fatal("hard context cancelled after a single interrupt")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("sending second SIGINT: %v", err)
	}
	waitDone(t, hard, "hard")
}

func TestInterruptsStopCancelsBoth(t *testing.T) {
	soft, hard, stop := experiment.Interrupts(context.Background())
	stop()
	waitDone(t, soft, "soft")
	waitDone(t, hard, "hard")
}
