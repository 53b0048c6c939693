package cmd

import (
	"fmt"

	"github.com/dendrascience/slashfs/internal/config"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates and returns the config subcommand group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect slashfs configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration slashfs would run with: the config file, then
SLASHFS_* environment overrides, then defaults for anything unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path, func(c *config.Config) {
				// show must work before a pool exists
				if c.Storage.Path == "" && !c.Storage.InMemory {
					c.Storage.Path = "."
				}
			})
			if err != nil {
				return err
			}
			data, err := config.YAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default configuration file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetDefaultConfigPath())
		},
	}
}
