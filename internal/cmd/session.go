package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dendrascience/slashfs/engine"
	"github.com/dendrascience/slashfs/engine/badgerfs"
	"github.com/dendrascience/slashfs/internal/config"
	"github.com/dendrascience/slashfs/internal/logger"
	"github.com/dendrascience/slashfs/slash"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// pageSize is the directory read buffer the utilities use, the same size
// the kernel asks for.
const pageSize = 4096

// loadConfig reads the file named by --config, with storage taken from
// the command line, and points the logger at the configured output.
func loadConfig(cmd *cobra.Command, storage string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, func(c *config.Config) {
		if storage != "" {
			c.Storage.Path = storage
		}
	})
	if err != nil {
		return nil, err
	}
	err = logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func engineOptions(cfg *config.Config) badgerfs.Options {
	return badgerfs.Options{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
	}
}

// openEngine opens the configured pool. An in-memory pool is formatted
// fresh since there is nothing to open.
func openEngine(cfg *config.Config) (*badgerfs.Engine, error) {
	opts := engineOptions(cfg)
	if opts.InMemory {
		return badgerfs.Format(opts)
	}
	eng, err := badgerfs.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool at %s: %w", cfg.Storage.Path, err)
	}
	return eng, nil
}

// session drives a pool through the adapter, the way the kernel would.
type session struct {
	eng  *badgerfs.Engine
	m    *slash.Mount
	cred engine.Cred
}

func newSession(eng *badgerfs.Engine, cfg *config.Config) *session {
	return &session{
		eng: eng,
		m: slash.New(eng, slash.Options{
			MaxOpenFiles: cfg.Adapter.MaxOpenFiles,
			UnmountRetry: cfg.Adapter.UnmountRetry,
		}),
		cred: engine.RootCred,
	}
}

func (s *session) close(ctx context.Context) {
	s.m.Destroy(ctx)
}

// resolve walks p from the root.
func (s *session) resolve(ctx context.Context, p string) (uint64, slash.Attributes, error) {
	id := slash.RootID
	attr, err := s.m.Getattr(ctx, id, s.cred)
	if err != nil {
		return 0, attr, err
	}
	for _, name := range splitPath(p) {
		var fg slash.FidGen
		attr, fg, err = s.m.Lookup(ctx, id, name, s.cred)
		if err != nil {
			return 0, attr, fmt.Errorf("%s: %w", name, err)
		}
		id = fg.Fid
	}
	return id, attr, nil
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// list reads every entry of directory id, dot entries included.
func (s *session) list(ctx context.Context, id uint64) (ents []slash.Dirent, err error) {
	_, h, err := s.m.Opendir(ctx, id, s.cred)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := s.m.Release(ctx, id, h, s.cred); err == nil {
			err = rerr
		}
	}()

	var cursor int64
	for {
		buf, next, err := s.m.Readdir(ctx, id, h, pageSize, cursor, s.cred)
		if err != nil {
			return ents, err
		}
		if len(buf) == 0 {
			return ents, nil
		}
		page, err := slash.DecodeDirents(buf)
		if err != nil {
			return ents, err
		}
		ents = append(ents, page...)
		cursor = next
	}
}

func isDot(name string) bool {
	return name == "." || name == ".."
}

func isDir(ent slash.Dirent) bool {
	return ent.Type == unix.S_IFDIR>>12
}

// walk calls fn for every entry below directory id, parents first.
func (s *session) walk(ctx context.Context, id uint64, prefix string, fn func(p string, ent slash.Dirent) error) error {
	ents, err := s.list(ctx, id)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if isDot(ent.Name) {
			continue
		}
		p := path.Join(prefix, ent.Name)
		if err := fn(p, ent); err != nil {
			return err
		}
		if isDir(ent) {
			if err := s.walk(ctx, ent.Ino, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// mkdirAll creates the missing directories of p and returns the id of the
// last one.
func (s *session) mkdirAll(ctx context.Context, p string) (uint64, error) {
	id := slash.RootID
	for _, name := range splitPath(p) {
		_, fg, err := s.m.Lookup(ctx, id, name, s.cred)
		if errors.Is(err, unix.ENOENT) {
			_, fg, err = s.m.Mkdir(ctx, id, name, 0o755, s.cred)
		}
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		id = fg.Fid
	}
	return id, nil
}

// writeFile creates name in parent holding data. An existing name fails
// with EEXIST.
func (s *session) writeFile(ctx context.Context, parent uint64, name string, data []byte, mode uint32) (err error) {
	fg, _, h, err := s.m.OpenCreate(ctx, parent, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, mode, name, s.cred)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.m.Release(ctx, fg.Fid, h, s.cred); err == nil {
			err = rerr
		}
	}()
	_, err = s.m.Write(ctx, fg.Fid, h, data, 0, s.cred)
	return err
}

// readChunk is the read size used when copying file contents.
const readChunk = 128 << 10

// readFile streams the contents of file id to w.
func (s *session) readFile(ctx context.Context, id uint64, w io.Writer) (total int64, err error) {
	_, _, h, err := s.m.OpenCreate(ctx, id, unix.O_RDONLY, 0, "", s.cred)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := s.m.Release(ctx, id, h, s.cred); err == nil {
			err = rerr
		}
	}()
	buf := make([]byte, readChunk)
	for {
		n, err := s.m.Read(ctx, id, h, buf, total, s.cred)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return total, err
		}
		total += int64(n)
	}
}
