package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// NewLsCmd creates and returns the ls subcommand for the slashfs CLI.
func NewLsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ls STORAGE_PATH [PATH]",
		Short: "List a directory of a pool",
		Long: `List a directory of an unmounted pool.

The directory is read in pages through the protocol adapter and the packed
records are decoded, so the output shows exactly what a mount would return:
protocol id, cursor, type and name.`,
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
			return runLs(cmd, s, p, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include . and ..")

	return cmd
}

func runLs(cmd *cobra.Command, s *session, p string, all bool) error {
	ctx := cmd.Context()
	id, _, err := s.resolve(ctx, p)
	if err != nil {
		return err
	}
	ents, err := s.list(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INO\tOFF\tTYPE\tNAME")
	for _, ent := range ents {
		if isDot(ent.Name) && !all {
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", ent.Ino, ent.Off, typeName(ent.Type), ent.Name)
	}
	return tw.Flush()
}

func typeName(t uint32) string {
	switch t {
	case unix.DT_FIFO:
		return "fifo"
	case unix.DT_CHR:
		return "chr"
	case unix.DT_DIR:
		return "dir"
	case unix.DT_BLK:
		return "blk"
	case unix.DT_REG:
		return "file"
	case unix.DT_LNK:
		return "link"
	case unix.DT_SOCK:
		return "sock"
	}
	return "?"
}
