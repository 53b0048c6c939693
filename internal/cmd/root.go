package cmd

import (
	"github.com/dendrascience/slashfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the slashfs CLI.
// It sets up all subcommands, command groups, and the --config flag.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slashfs",
		Short: "slashfs - serve an object-store filesystem engine over FUSE",
		Long: `slashfs mounts a pool of the badger-backed filesystem engine through FUSE.

The engine addresses objects by id and reports errors as errno values; slashfs
adapts it to the kernel's numeric-handle protocol: it remaps the root id,
tracks open files and directories, packs directory listings and translates
flags and errors.

Use subcommands to perform different operations:
  - mkfs: Create an empty pool
  - mount: Mount a pool at a specified mountpoint
  - ls, stat, count: Inspect an unmounted pool through the adapter
  - seed, import: Populate a pool with generated files or a host tree
  - export: Write a pool tree to a zip archive
  - validate: Check a pool for consistency
  - config: Show the effective configuration`,
		Version: version.GetFullVersion(),
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/slashfs/config.yaml)")

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	for _, c := range []*cobra.Command{NewMountCmd(), NewMkfsCmd()} {
		c.GroupID = groupFilesystem
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{
		NewLsCmd(),
		NewStatCmd(),
		NewCountCmd(),
		NewSeedCmd(),
		NewImportCmd(),
		NewExportCmd(),
		NewValidateCmd(),
		NewConfigCmd(),
		NewVersionCmd(),
	} {
		c.GroupID = groupUtilities
		rootCmd.AddCommand(c)
	}

	return rootCmd
}
