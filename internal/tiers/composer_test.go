package tiers_test

import (
	"reflect"
	"testing"

	"github.com/signalnine/gauntlet/internal/tiers"
)

func TestComposeNoBaseline(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 8, false)
	cfgs, err := c.Compose("t0-bare", nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 subtests, got %d", len(cfgs))
	}
	for _, cfg := range cfgs {
		if cfg.TierID != "t0-bare" {
			t.Errorf("tier id = %q", cfg.TierID)
		}
		if len(cfg.BaselineFrom) != 0 {
			t.Errorf("fresh tier should inherit nothing, got %v", cfg.BaselineFrom)
		}
		if cfg.Hash == "" {
			t.Error("expected content hash")
		}
	}
}

func TestComposeMergesBaselines(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 8, false)
	baselines := []tiers.Baseline{
		{TierID: "t1-skills", SubTestID: "skills-core", Resources: tiers.ResourceSpec{
			Skills: []string{"debugging", "refactoring"},
		}},
		{TierID: "t2-tools", SubTestID: "tools-all", Resources: tiers.ResourceSpec{
			Tools: []string{tiers.All},
		}},
		{TierID: "t3-team", SubTestID: "team-pair", Resources: tiers.ResourceSpec{
			Agents: []string{"implementer", "planner"},
		}},
	}
	cfgs, err := c.Compose("t4-combined", baselines)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	union := cfgs[0]
	if union.SubTestID != "combined-union" {
		t.Fatalf("expected combined-union first, got %q", union.SubTestID)
	}
	if !reflect.DeepEqual(union.Resources.Skills, []string{"debugging", "refactoring"}) {
		t.Errorf("skills = %v", union.Resources.Skills)
	}
	if !reflect.DeepEqual(union.Resources.Tools, []string{tiers.All}) {
		t.Errorf("tools = %v", union.Resources.Tools)
	}
	if !reflect.DeepEqual(union.BaselineFrom, []string{"t1-skills", "t2-tools", "t3-team"}) {
		t.Errorf("baseline_from = %v", union.BaselineFrom)
	}

	lean := cfgs[1]
	if lean.Resources.Instructions == "" {
		t.Error("own spec's instructions must survive the merge")
	}
}

func TestComposeOwnSpecInstructionsWin(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 8, false)
	baselines := []tiers.Baseline{
		{TierID: "t0-bare", SubTestID: "bare-guided", Resources: tiers.ResourceSpec{
			Instructions: "inherited text",
		}},
	}
	cfgs, err := c.Compose("t4-combined", baselines)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, cfg := range cfgs {
		if cfg.SubTestID == "combined-lean" && cfg.Resources.Instructions == "inherited text" {
			t.Error("sub-test's own instructions must replace the baseline's")
		}
		if cfg.SubTestID == "combined-union" && cfg.Resources.Instructions != "inherited text" {
			t.Error("sub-test without own instructions keeps the baseline's")
		}
	}
}

func TestComposeSkipsTeamSubTests(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 8, true)
	if _, err := c.Compose("t3-team", nil); err == nil {
		t.Error("expected error when every subtest is filtered out")
	}
	cfgs, err := c.Compose("t0-bare", nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(cfgs) != 2 {
		t.Errorf("non-team tier unaffected by skip flag, got %d subtests", len(cfgs))
	}
}

func TestComposeCapsSubTests(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 1, false)
	cfgs, err := c.Compose("t0-bare", nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(cfgs) != 1 {
		t.Errorf("expected cap of 1, got %d", len(cfgs))
	}
}

func TestComposeHashDeterministic(t *testing.T) {
	c := tiers.NewComposer(tiers.Builtin(), 8, false)
	a, err := c.Compose("t1-skills", nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	b, err := c.Compose("t1-skills", nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if a[0].Hash != b[0].Hash {
		t.Error("identical composition must hash identically")
	}

	withBaseline, err := c.Compose("t1-skills", []tiers.Baseline{
		{TierID: "t0-bare", SubTestID: "bare-guided", Resources: tiers.ResourceSpec{Instructions: "x"}},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if withBaseline[0].Hash == a[0].Hash {
		t.Error("different composed content must hash differently")
	}
}
