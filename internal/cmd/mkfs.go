package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/dendrascience/slashfs/engine/badgerfs"
	"github.com/spf13/cobra"
)

// NewMkfsCmd creates and returns the mkfs subcommand for the slashfs CLI.
func NewMkfsCmd() *cobra.Command {
	var (
		uid uint32
		gid uint32
	)

	cmd := &cobra.Command{
		Use:   "mkfs STORAGE_PATH",
		Short: "Create an empty slashfs pool",
		Long: `Create an empty slashfs pool in STORAGE_PATH.

The pool gets a fresh GUID, from which its filesystem id is derived, and a
root directory owned by --uid and --gid. An existing pool is never
overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			opts := engineOptions(cfg)
			opts.InMemory = false
			opts.RootUID = uid
			opts.RootGID = gid
			return runMkfs(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().Uint32Var(&uid, "uid", uint32(os.Getuid()), "Owner of the root directory")
	cmd.Flags().Uint32Var(&gid, "gid", uint32(os.Getgid()), "Group of the root directory")

	return cmd
}

func runMkfs(w io.Writer, opts badgerfs.Options) error {
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	eng, err := badgerfs.Format(opts)
	if err != nil {
		return fmt.Errorf("failed to format %s: %w", opts.Path, err)
	}
	defer eng.Shutdown()

	fmt.Fprintf(w, "Created pool %s at %s\n", eng.GUID(), opts.Path)
	return nil
}
