package experiment

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/signalnine/gauntlet/internal/fsm"
	"github.com/signalnine/gauntlet/internal/tiers"
)

// maxTierWorkers bounds how many tiers of one group run concurrently. Tier
// goroutines mostly block on the run scheduler, so a small pool suffices.
const maxTierWorkers = 4

// runTierGroups executes the computed groups strictly in dependency order.
// A single-tier group runs synchronously; a multi-tier group fans out across
// a bounded pool where each tier is independently checkpointed, one tier's
// failure is logged and excluded, and only a fully failed group aborts.
func (m *Machine) runTierGroups(ctx context.Context) error {
	for gi, group := range m.groups {
		pending := make([]string, 0, len(group))
		for _, tierID := range group {
			if _, done := m.Results()[tierID]; !done {
				pending = append(pending, tierID)
			}
		}
		if len(pending) == 0 {
			continue
		}
		color.Cyan("Tier group %d/%d: %s", gi+1, len(m.groups), strings.Join(pending, ", "))

		if len(pending) == 1 {
			if err := m.runTier(ctx, pending[0]); err != nil {
				return fmt.Errorf("tier %s: %w", pending[0], err)
			}
		} else if err := m.runTierGroup(ctx, pending); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		m.forwardBaseline(group)
	}
	return nil
}

// runTierGroup runs one multi-tier group on a bounded worker pool. Errors
// are collected per tier rather than cancelling siblings.
func (m *Machine) runTierGroup(ctx context.Context, group []string) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	slots := make(chan struct{}, maxTierWorkers)
	for _, tierID := range group {
		wg.Add(1)
		slots <- struct{}{}
		go func(tierID string) {
			defer wg.Done()
			defer func() { <-slots }()
			if err := m.runTier(ctx, tierID); err != nil {
				log.Printf("warning: tier %s failed, excluding from results: %v", tierID, err)
				mu.Lock()
				failed = append(failed, tierID)
				mu.Unlock()
			}
		}(tierID)
	}
	wg.Wait()

	if len(failed) == len(group) {
		return fmt.Errorf("every tier in group %v failed", group)
	}
	return nil
}

// forwardBaseline updates the rolling baseline after a group finishes. A
// lone tier forwards its winner directly; a parallel group forwards the
// member with the lowest cost-of-pass, excluding zero-pass-rate members so
// an always-failing winner can never seed later tiers.
func (m *Machine) forwardBaseline(group []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Skip groups that were cut short by an early-stop tier state.
	if m.cfg.UntilTierState != "" && fsm.State(m.cfg.UntilTierState) != TierComplete {
		return
	}

	best := ""
	bestCost := math.Inf(1)
	for _, tierID := range group {
		tr, ok := m.results[tierID]
		if !ok {
			continue
		}
		winner := tr.Winner()
		if winner == nil {
			continue
		}
		if _, hasBaseline := m.baselines[tierID]; !hasBaseline {
			continue
		}
		cost := winner.CostOfPass()
		if math.IsInf(cost, 1) {
			log.Printf("tier %s winner %s has zero pass rate, not forwarding as baseline", tierID, winner.SubTestID)
			continue
		}
		if cost < bestCost || (cost == bestCost && tierID < best) {
			best = tierID
			bestCost = cost
		}
	}
	if best == "" {
		log.Printf("no forwardable baseline from group %v", group)
		return
	}
	b := m.baselines[best]
	m.rolling = &b
	if len(group) > 1 {
		log.Printf("forwarding baseline from %s (cost-of-pass %.4f)", best, bestCost)
	}
}

// Rolling exposes the current rolling baseline, or nil before any tier has
// produced one.
func (m *Machine) Rolling() *tiers.Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolling == nil {
		return nil
	}
	b := *m.rolling
	return &b
}
