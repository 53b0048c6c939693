package cmd

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dendrascience/slashfs/fusefs"
	"github.com/dendrascience/slashfs/slash"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// NewExportCmd creates and returns the export subcommand for the slashfs
// CLI. It writes a pool subtree to a zip archive.
func NewExportCmd() *cobra.Command {
	var (
		outputPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "export STORAGE_PATH [PATH]",
		Short: "Write a pool directory tree to a zip archive",
		Long: `Write the files below PATH of an unmounted pool to a zip archive.

Contents are read through the protocol adapter. Directory entries and
modification times are kept; symbolic links are stored with their target
as content.`,
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
			f, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			var progress io.Writer = io.Discard
			if verbose {
				progress = cmd.OutOrStdout()
			}
			n, err := runExport(cmd.Context(), s, p, f, progress)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Zip file to write (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(ctx context.Context, s *session, p string, dst io.Writer, progress io.Writer) (int, error) {
	id, _, err := s.resolve(ctx, p)
	if err != nil {
		return 0, err
	}
	w := zip.NewWriter(dst)
	count := 0
	err = s.walk(ctx, id, "", func(name string, ent slash.Dirent) error {
		attr, err := s.m.Getattr(ctx, ent.Ino, s.cred)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: attr.Mtime}
		hdr.SetMode(fusefs.FileMode(attr.Mode))
		if isDir(ent) {
			hdr.Name += "/"
			hdr.Method = zip.Store
		}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			return err
		}
		switch attr.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			if _, err := s.readFile(ctx, ent.Ino, fw); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		case unix.S_IFLNK:
			target, err := s.m.Readlink(ctx, ent.Ino, s.cred)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if _, err := io.WriteString(fw, target); err != nil {
				return err
			}
		}
		fmt.Fprintf(progress, "%s\n", hdr.Name)
		count++
		return nil
	})
	if err != nil {
		w.Close()
		return count, err
	}
	return count, w.Close()
}
