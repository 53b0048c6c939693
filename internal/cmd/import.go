package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewImportCmd creates and returns the import subcommand for the slashfs
// CLI. It copies a host directory tree into a pool.
func NewImportCmd() *cobra.Command {
	var (
		inputPath string
		dest      string
		verbose   bool
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "import STORAGE_PATH",
		Short: "Copy a directory tree into a pool",
		Long: `Copy an existing directory tree into an unmounted pool.

Directories, regular files and symbolic links are created through the
protocol adapter with their permission bits. Other file types are skipped.
Existing names in the pool are not overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(inputPath); err != nil {
				return fmt.Errorf("input directory: %w", err)
			}
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

			var out io.Writer = io.Discard
			if verbose || dryRun {
				out = cmd.OutOrStdout()
			}
			if dryRun {
				fmt.Fprintln(out, "DRY RUN - no changes will be made")
			}
			st, err := runImport(cmd.Context(), s, inputPath, dest, dryRun, out)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files, %d directories, %d links (%d bytes); skipped %d\n",
				st.files, st.dirs, st.links, st.bytes, st.skipped)
			return err
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to the directory tree to copy (required)")
	cmd.Flags().StringVarP(&dest, "dest", "d", "/", "Pool directory to copy into")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")

	cmd.MarkFlagRequired("input")

	return cmd
}

type importStats struct {
	files, dirs, links, skipped int
	bytes                       int64
}

func runImport(ctx context.Context, s *session, inputPath, dest string, dryRun bool, out io.Writer) (importStats, error) {
	var st importStats
	err := filepath.WalkDir(inputPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(inputPath, p)
		if err != nil {
			return err
		}
		target := path.Join(dest, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := uint32(info.Mode().Perm())

		switch {
		case d.IsDir():
			fmt.Fprintf(out, "mkdir %s\n", target)
			if !dryRun {
				if _, err := s.mkdirAll(ctx, target); err != nil {
					return err
				}
			}
			if rel != "." {
				st.dirs++
			}
		case info.Mode().IsRegular():
			fmt.Fprintf(out, "copy %s -> %s (%d bytes)\n", p, target, info.Size())
			if !dryRun {
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				if err := s.writeFileAt(ctx, target, data, mode); err != nil {
					return fmt.Errorf("%s: %w", target, err)
				}
			}
			st.files++
			st.bytes += info.Size()
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "symlink %s -> %s\n", target, link)
			if !dryRun {
				if err := s.symlinkAt(ctx, target, link); err != nil {
					return fmt.Errorf("%s: %w", target, err)
				}
			}
			st.links++
		default:
			fmt.Fprintf(out, "skip %s (%s)\n", p, info.Mode().Type())
			st.skipped++
		}
		return nil
	})
	return st, err
}

// writeFileAt creates the file at pool path p.
func (s *session) writeFileAt(ctx context.Context, p string, data []byte, mode uint32) error {
	dir, err := s.mkdirAll(ctx, path.Dir(p))
	if err != nil {
		return err
	}
	return s.writeFile(ctx, dir, path.Base(p), data, mode)
}

// symlinkAt creates a symbolic link at pool path p.
func (s *session) symlinkAt(ctx context.Context, p, target string) error {
	dir, err := s.mkdirAll(ctx, path.Dir(p))
	if err != nil {
		return err
	}
	_, _, err = s.m.Symlink(ctx, target, dir, path.Base(p), s.cred)
	return err
}
