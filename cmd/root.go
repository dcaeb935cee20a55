package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gauntlet",
		Short: "Tiered evaluation harness for agent configurations",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "gauntlet.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	return root
}
