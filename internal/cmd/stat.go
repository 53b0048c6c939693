package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dendrascience/slashfs/fusefs"
	"github.com/dendrascience/slashfs/slash"
	"github.com/spf13/cobra"
)

// NewStatCmd creates and returns the stat subcommand for the slashfs CLI.
func NewStatCmd() *cobra.Command {
	var showFS bool

	cmd := &cobra.Command{
		Use:   "stat STORAGE_PATH [PATH]",
		Short: "Show attributes of a pool object or the pool itself",
		Args:  cobra.RangeArgs(1, 2),
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

			out := cmd.OutOrStdout()
			if showFS {
				st, err := s.m.Statfs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pool: %s\n", eng.GUID())
				printStatfs(out, st)
				return nil
			}
			p := "/"
			if len(args) > 1 {
				p = args[1]
			}
			_, attr, err := s.resolve(cmd.Context(), p)
			if err != nil {
				return err
			}
			printAttr(out, p, attr)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showFS, "file-system", "f", false, "Show pool capacity instead of object attributes")

	return cmd
}

func printAttr(w io.Writer, p string, a slash.Attributes) {
	fmt.Fprintf(w, "  File: %s\n", p)
	fmt.Fprintf(w, "  Size: %-12d Blocks: %-8d IO Block: %d\n", a.Size, a.Blocks, a.BlockSize)
	fmt.Fprintf(w, "Device: %x  Inode: %d  Links: %d\n", a.Dev, a.Ino, a.Nlink)
	fmt.Fprintf(w, "Access: (%04o/%s)  Uid: %d  Gid: %d\n", a.Mode&0o7777, fusefs.FileMode(a.Mode), a.UID, a.GID)
	fmt.Fprintf(w, "Access: %s\n", a.Atime.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Modify: %s\n", a.Mtime.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Change: %s\n", a.Ctime.Format(time.RFC3339Nano))
}

func printStatfs(w io.Writer, st slash.StatFS) {
	fmt.Fprintf(w, "ID: %x  Namelen: %d\n", st.Fsid, st.Namemax)
	fmt.Fprintf(w, "Block size: %d  Fundamental block size: %d\n", st.Bsize, st.Frsize)
	fmt.Fprintf(w, "Blocks: Total: %d  Free: %d  Available: %d\n", st.Blocks, st.Bfree, st.Bavail)
	fmt.Fprintf(w, "Inodes: Total: %d  Free: %d\n", st.Files, st.Ffree)
}
