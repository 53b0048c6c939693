package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// NewSeedCmd creates and returns the seed subcommand for the slashfs CLI.
// It fills a pool with generated files through the adapter.
func NewSeedCmd() *cobra.Command {
	var (
		fileCount int
		seed      uint64
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "seed STORAGE_PATH",
		Short: "Populate a pool with generated files",
		Long: `Populate a slashfs pool with generated test files.

Files are created through the protocol adapter in a YYYY/MM/DD/HH/mm
directory structure, with most files at the deepest level. Each file
contains a single UUID line drawn from a small pool, so content repeats.`,
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
			s := newSession(eng, cfg)
			defer s.close(cmd.Context())

			var out io.Writer = io.Discard
			if verbose {
				out = cmd.OutOrStdout()
			}
			n, dirs, err := runSeed(cmd.Context(), s, fileCount, seed, out)
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d files in %d directories\n", n, dirs)
			return err
		},
	}

	cmd.Flags().IntVarP(&fileCount, "count", "c", 10000, "Number of files to generate")
	cmd.Flags().Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

const (
	seedUUIDs      = 50
	seedMaxPerDir  = 1000
	seedMaxRetries = 100
)

// runSeed creates fileCount files and returns how many it made and in how
// many directories.
func runSeed(ctx context.Context, s *session, fileCount int, seed uint64, out io.Writer) (int, int, error) {
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	pool := make([]string, seedUUIDs)
	for i := range pool {
		pool[i] = uuid.New().String()
	}

	dirs := make(map[string]uint64)
	counts := make(map[string]int)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	created, misses := 0, 0
	for created < fileCount {
		if misses > seedMaxRetries {
			return created, len(counts), fmt.Errorf("gave up after %d collisions", misses)
		}
		ts := base.Add(time.Duration(rng.Int64N(int64(365 * 24 * time.Hour))))
		dir := seedDir(ts, rng.IntN(100))
		if counts[dir] >= seedMaxPerDir {
			misses++
			continue
		}

		id, ok := dirs[dir]
		if !ok {
			var err error
			id, err = s.mkdirAll(ctx, dir)
			if err != nil {
				return created, len(counts), err
			}
			dirs[dir] = id
		}

		ext := ".json"
		if rng.IntN(2) == 1 {
			ext = ".txt"
		}
		name := fmt.Sprintf("%08x%s", rng.Uint32(), ext)
		content := pool[rng.IntN(len(pool))] + "\n"

		err := s.writeFile(ctx, id, name, []byte(content), 0o644)
		if errors.Is(err, unix.EEXIST) {
			misses++
			continue
		}
		if err != nil {
			return created, len(counts), fmt.Errorf("%s: %w", path.Join(dir, name), err)
		}
		misses = 0
		counts[dir]++
		created++

		if created%1000 == 0 {
			fmt.Fprintf(out, "Created %d/%d files...\n", created, fileCount)
		}
	}
	return created, len(counts), nil
}

// seedDir picks the directory level for a file: 5% year, 5% month, 5% day,
// 15% hour, the rest minute.
func seedDir(ts time.Time, roll int) string {
	parts := []string{
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", ts.Month()),
		fmt.Sprintf("%02d", ts.Day()),
		fmt.Sprintf("%02d", ts.Hour()),
		fmt.Sprintf("%02d", ts.Minute()),
	}
	depth := 5
	switch {
	case roll < 5:
		depth = 1
	case roll < 10:
		depth = 2
	case roll < 15:
		depth = 3
	case roll < 30:
		depth = 4
	}
	return path.Join(parts[:depth]...)
}
