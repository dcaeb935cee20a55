package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/executor"
	"github.com/signalnine/gauntlet/internal/experiment"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/report"
	"github.com/signalnine/gauntlet/internal/tiers"
)

var (
	flagTiers     []string
	flagRuns      int
	flagUntilExp  string
	flagUntilTier string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an experiment, resuming from its checkpoint if one exists",
		RunE:  runExperiment,
	}
	cmd.Flags().StringSliceVar(&flagTiers, "tiers", nil, "override the tier selection")
	cmd.Flags().IntVar(&flagRuns, "runs", 0, "override runs per sub-test")
	cmd.Flags().StringVar(&flagUntilExp, "until-experiment-state", "", "stop after this experiment state")
	cmd.Flags().StringVar(&flagUntilTier, "until-tier-state", "", "stop each tier after this state")
	return cmd
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(flagTiers) > 0 {
		cfg.Tiers = flagTiers
	}
	if flagRuns > 0 {
		cfg.RunsPerSub = flagRuns
	}
	if flagUntilExp != "" {
		cfg.UntilExperimentState = flagUntilExp
	}
	if flagUntilTier != "" {
		cfg.UntilTierState = flagUntilTier
	}

	reg, err := tiers.Load(cfg.TierFile)
	if err != nil {
		return err
	}
	prices, err := loadPricing(cfg.PricingFile)
	if err != nil {
		return err
	}

	soft, hard, stop := experiment.Interrupts(cmd.Context())
	defer stop()

	timeout := time.Duration(cfg.Executor.TimeoutMinutes) * time.Minute
	machine, err := experiment.New(cfg, reg, experiment.Options{
		Task: &executor.ExecTask{
			Command: cfg.Executor.RunCmd,
			Timeout: timeout,
			Env:     cfg.Executor.Env,
			Pricing: prices,
		},
		Judge: &executor.ExecJudge{
			Command: cfg.Executor.JudgeCmd,
			Timeout: timeout,
			Env:     cfg.Executor.Env,
			Models:  cfg.Judge.Models,
		},
		HardCtx: hard,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Experiment directory: %s\n", machine.ExperimentDir())
	if err := machine.Run(soft); err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	if err := report.Generate(machine.ExperimentDir(), "table", os.Stdout); err != nil {
		log.Printf("warning: rendering results: %v", err)
	}
	return nil
}

func loadPricing(path string) (*pricing.Table, error) {
	if path == "" {
		return pricing.Default(), nil
	}
	return pricing.Load(path)
}
