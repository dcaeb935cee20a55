package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/checkpoint"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/depgraph"
	"github.com/signalnine/gauntlet/internal/tiers"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config, tier graph, and any existing checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			reg, err := tiers.Load(cfg.TierFile)
			if err != nil {
				return err
			}
			for _, id := range cfg.Tiers {
				if _, err := reg.Get(id); err != nil {
					return err
				}
			}
			groups, err := depgraph.Groups(cfg.Tiers, reg.Dependencies())
			if err != nil {
				return err
			}

			// Dry-run composition surfaces empty tiers (e.g. every sub-test
			// skipped by skip_team_subtests) before any work starts.
			composer := tiers.NewComposer(reg, cfg.MaxSubTests, cfg.SkipTeamSubs)
			for _, id := range cfg.Tiers {
				if _, err := composer.Compose(id, nil); err != nil {
					return err
				}
			}

			fmt.Printf("config ok: %d tiers in %d groups\n", len(cfg.Tiers), len(groups))

			expDir := filepath.Join(cfg.Results.Dir, cfg.ExperimentID)
			store := checkpoint.NewStore(filepath.Join(expDir, "checkpoint.json"))
			if !store.Exists() {
				fmt.Println("no checkpoint: a run would start fresh")
				return nil
			}
			cp, err := store.Load()
			if err != nil {
				return err
			}
			if err := cp.Validate(cfg.Hash()); err != nil {
				return err
			}
			fmt.Printf("checkpoint ok: status=%s state=%s pauses=%d\n",
				cp.Status, cp.ExperimentState, cp.PauseCount)
			if checkpoint.IsZombie(cp, checkpoint.DefaultStaleAfter) {
				fmt.Println("checkpoint is a zombie: in-progress runs will be reset on resume")
			}
			return nil
		},
	}
}
