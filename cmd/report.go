package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [experiment-dir]",
		Short: "Render the tier comparison from stored results",
		RunE: func(cmd *cobra.Command, args []string) error {
			var expDir string
			if len(args) > 0 {
				expDir = args[0]
			} else {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				expDir = filepath.Join(cfg.Results.Dir, cfg.ExperimentID)
			}
			return report.Generate(expDir, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
