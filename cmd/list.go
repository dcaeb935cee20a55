package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/depgraph"
	"github.com/signalnine/gauntlet/internal/tiers"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available tiers and their sub-tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			reg, err := tiers.Load(cfg.TierFile)
			if err != nil {
				return err
			}
			fmt.Println("Tiers:")
			for _, id := range reg.IDs() {
				def, err := reg.Get(id)
				if err != nil {
					return err
				}
				fmt.Printf("  - %s: %s\n", def.ID, def.Name)
				if len(def.DependsOn) > 0 {
					fmt.Printf("      depends on: %s\n", strings.Join(def.DependsOn, ", "))
				}
				for _, sub := range def.SubTests {
					team := ""
					if sub.AgentTeam {
						team = " [team]"
					}
					fmt.Printf("      %s (%s)%s\n", sub.ID, sub.Name, team)
				}
			}

			groups, err := depgraph.Groups(cfg.Tiers, reg.Dependencies())
			if err != nil {
				return err
			}
			fmt.Println("\nExecution plan:")
			for i, group := range groups {
				fmt.Printf("  group %d: %s\n", i+1, strings.Join(group, ", "))
			}
			return nil
		},
	}
}
