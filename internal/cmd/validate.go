package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/dendrascience/slashfs/engine/badgerfs"
	"github.com/spf13/cobra"
)

// ErrInconsistent is returned by validate when the pool has problems.
var ErrInconsistent = errors.New("pool is inconsistent")

// NewValidateCmd creates and returns the validate subcommand for the
// slashfs CLI.
func NewValidateCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "validate STORAGE_PATH",
		Short: "Check a pool for corruption and consistency",
		Long: `Check an unmounted pool for consistency issues.

Every record is read and checked: directory entries must point at existing
objects of the recorded type, link counts must match the entries naming
each object, and directories must point back at their parent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Shutdown()
			return runValidate(cmd.OutOrStdout(), eng, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runValidate(w io.Writer, eng *badgerfs.Engine, verbose bool) error {
	if verbose {
		fmt.Fprintf(w, "Validating pool %s\n", eng.GUID())
	}
	rep, err := eng.Fsck()
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}
	if verbose {
		fmt.Fprintf(w, "Objects: %d (%d directories)\n", rep.Objects, rep.Directories)
		fmt.Fprintf(w, "Entries: %d\n", rep.Entries)
		fmt.Fprintf(w, "Blocks: %d\n", rep.Blocks)
	}
	if len(rep.Problems) == 0 {
		fmt.Fprintln(w, "Pool is consistent")
		return nil
	}
	fmt.Fprintf(w, "Found %d problems:\n", len(rep.Problems))
	for _, p := range rep.Problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	return fmt.Errorf("%w: %d problems", ErrInconsistent, len(rep.Problems))
}
