package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"finanalyst/internal/adapters/config"
	"finanalyst/internal/agents"
	"finanalyst/pkg/errors"
)

func newAgentsCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Print the agent and task configuration",
		RunE: func(*cobra.Command, []string) error {
			if dir == "" {
				if cfg, err := config.Load(); err == nil {
					dir = cfg.Crew.ConfigDir
				}
			}

			var (
				defs *agents.Definitions
				err  error
			)
			if dir != "" {
				defs, err = agents.LoadDefinitionsDir(dir)
			} else {
				defs, err = agents.DefaultDefinitions()
			}
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(defs); err != nil {
				return errors.Wrap(err, "encode definitions")
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&dir, "config-dir", "", "directory with agents.yaml and tasks.yaml (default: embedded)")
	return cmd
}
