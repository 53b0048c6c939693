package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dendrascience/slashfs/slash"
	"github.com/spf13/cobra"
)

// NewCountCmd creates and returns the count subcommand for the slashfs CLI.
func NewCountCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "count STORAGE_PATH [PATH]",
		Short: "Count files in a pool directory tree",
		Long: `Count the files and directories below a path of an unmounted pool.

The tree is walked through the protocol adapter, reading every directory
in pages.`,
		Args: cobra.RangeArgs(1, 2),
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
			s := newSession(eng, cfg)
			defer s.close(cmd.Context())

			p := "/"
			if len(args) > 1 {
				p = args[1]
			}
			var progress io.Writer = io.Discard
			if showProgress {
				progress = cmd.OutOrStdout()
			}
			files, dirs, err := runCount(cmd.Context(), s, p, progress)
			if err != nil {
				return fmt.Errorf("error counting files: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total files: %d\nTotal directories: %d\n", files, dirs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show progress every 10,000 files")

	return cmd
}

func runCount(ctx context.Context, s *session, p string, progress io.Writer) (files, dirs int, err error) {
	id, _, err := s.resolve(ctx, p)
	if err != nil {
		return 0, 0, err
	}
	err = s.walk(ctx, id, p, func(_ string, ent slash.Dirent) error {
		if isDir(ent) {
			dirs++
			return nil
		}
		files++
		if files%10000 == 0 {
			fmt.Fprintf(progress, "Progress: %d files counted\n", files)
		}
		return nil
	})
	return files, dirs, err
}
