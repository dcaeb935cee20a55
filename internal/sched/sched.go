// Package sched bounds concurrent operations by memory-cost class. Agent and
// judge subprocesses are orders of magnitude heavier than file I/O; giving
// them one shared limit lets the heaviest stage dominate memory and invite
// OOM kills, so each class gets its own counting semaphore.
package sched

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

type Class string

const (
	// ClassLow covers result-file writes and other lightweight I/O.
	ClassLow Class = "low"
	// ClassMedium covers git subprocesses: clone, fetch, worktree add/remove.
	ClassMedium Class = "medium"
	// ClassHigh covers agent-execution and judge subprocesses.
	ClassHigh Class = "high"
)

type Scheduler struct {
	sems map[Class]*semaphore.Weighted
	caps map[Class]int
}

func New(low, medium, high int) *Scheduler {
	if low < 1 {
		low = 1
	}
	if medium < 1 {
		medium = 1
	}
	if high < 1 {
		high = 1
	}
	return &Scheduler{
		sems: map[Class]*semaphore.Weighted{
			ClassLow:    semaphore.NewWeighted(int64(low)),
			ClassMedium: semaphore.NewWeighted(int64(medium)),
			ClassHigh:   semaphore.NewWeighted(int64(high)),
		},
		caps: map[Class]int{ClassLow: low, ClassMedium: medium, ClassHigh: high},
	}
}

func (s *Scheduler) Capacity(class Class) int { return s.caps[class] }

// Acquire blocks until a slot in class is free or ctx is cancelled. Callers
// that cannot use With (the acquire and release straddle a function boundary)
// must pair it with Release themselves.
func (s *Scheduler) Acquire(ctx context.Context, class Class) error {
	sem, ok := s.sems[class]
	if !ok {
		return fmt.Errorf("unknown scheduler class %q", class)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring %s slot: %w", class, err)
	}
	return nil
}

func (s *Scheduler) Release(class Class) {
	if sem, ok := s.sems[class]; ok {
		sem.Release(1)
	}
}

// With runs fn while holding one slot of class, releasing it on every path.
func (s *Scheduler) With(ctx context.Context, class Class, fn func() error) error {
	if err := s.Acquire(ctx, class); err != nil {
		return err
	}
	defer s.Release(class)
	return fn()
}
