package cmd

import (
	"github.com/dendrascience/slashfs/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewVersionCmd creates and returns the version subcommand.
func NewVersionCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asYAML {
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(version.GetInfo())
			}
			version.Fprint(cmd.OutOrStdout(), "slashfs")
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print as YAML")
	return cmd
}
