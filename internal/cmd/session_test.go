package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dendrascience/slashfs/engine/badgerfs"
	"github.com/dendrascience/slashfs/internal/config"
	"github.com/dendrascience/slashfs/slash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestSession(t *testing.T) *session {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Storage.InMemory = true
	eng, err := openEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown() })
	return newSession(eng, cfg)
}

func TestSessionFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	dir, err := s.mkdirAll(ctx, "/a/b/c")
	require.NoError(t, err)
	again, err := s.mkdirAll(ctx, "a/b/c/")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	require.NoError(t, s.writeFile(ctx, dir, "x.json", []byte(`{"x":1}`), 0o644))
	assert.ErrorIs(t, s.writeFile(ctx, dir, "x.json", nil, 0o644), unix.EEXIST)

	id, attr, err := s.resolve(ctx, "a/b/c/x.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), attr.Size)
	assert.Equal(t, uint32(unix.S_IFREG|0o644), attr.Mode)

	var data bytes.Buffer
	n, err := s.readFile(ctx, id, &data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, `{"x":1}`, data.String())

	_, _, err = s.resolve(ctx, "a/missing")
	assert.ErrorIs(t, err, unix.ENOENT)

	root, attr, err := s.resolve(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, slash.RootID, root)
	assert.Equal(t, uint32(unix.S_IFDIR|0o755), attr.Mode)

	var paths []string
	require.NoError(t, s.walk(ctx, root, "", func(p string, _ slash.Dirent) error {
		paths = append(paths, p)
		return nil
	}))
	assert.Equal(t, []string{"a", "a/b", "a/b/c", "a/b/c/x.json"}, paths)
	assert.Zero(t, s.m.OpenHandles())
}

func TestSessionListPages(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	for i := range 300 {
		name := fmt.Sprintf("%s-%03d", strings.Repeat("n", 20), i)
		require.NoError(t, s.writeFile(ctx, slash.RootID, name, nil, 0o600))
	}
	ents, err := s.list(ctx, slash.RootID)
	require.NoError(t, err)
	assert.Len(t, ents, 302)
	assert.Equal(t, ".", ents[0].Name)
	assert.Equal(t, "..", ents[1].Name)
}

func TestSeedAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	var progress bytes.Buffer
	files, dirs, err := runSeed(ctx, s, 1200, 42, &progress)
	require.NoError(t, err)
	assert.Equal(t, 1200, files)
	assert.Positive(t, dirs)
	assert.Contains(t, progress.String(), "Created 1000/1200 files...")

	counted, _, err := runCount(ctx, s, "/", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1200, counted)

	counted, _, err = runCount(ctx, s, "/2024", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1200, counted)
	assert.Zero(t, s.m.OpenHandles())
}

func TestSeedDir(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	tests := []struct {
		roll int
		want string
	}{
		{0, "2024"},
		{7, "2024/03"},
		{12, "2024/03/07"},
		{20, "2024/03/07/09"},
		{99, "2024/03/07/09/05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, seedDir(ts, tt.roll), "roll %d", tt.roll)
	}
}

func TestValidateReportsConsistentPool(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	_, _, err := runSeed(ctx, s, 20, 1, io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runValidate(&out, s.eng, true))
	assert.Contains(t, out.String(), "Pool is consistent")
	assert.Contains(t, out.String(), "Objects: ")
}

func TestOpenEngineRequiresFormattedPool(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "pool")
	_, err := openEngine(cfg)
	assert.ErrorIs(t, err, badgerfs.ErrNotFormatted)
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "2024", "01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "2024", "01", "a.json"), []byte(`{"a":1}`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), bytes.Repeat([]byte("x"), 300<<10), 0o644))
	require.NoError(t, os.Symlink("2024/01/a.json", filepath.Join(src, "latest")))

	var log bytes.Buffer
	st, err := runImport(ctx, s, src, "/in", true, &log)
	require.NoError(t, err)
	assert.Equal(t, 2, st.files)
	assert.Contains(t, log.String(), "symlink /in/latest -> 2024/01/a.json")
	_, _, err = s.resolve(ctx, "/in")
	assert.ErrorIs(t, err, unix.ENOENT, "dry run changes nothing")

	st, err = runImport(ctx, s, src, "/in", false, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, importStats{files: 2, dirs: 2, links: 1, bytes: 7 + 300<<10}, st)

	_, attr, err := s.resolve(ctx, "/in/2024/01/a.json")
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.S_IFREG|0o640), attr.Mode)

	var archive bytes.Buffer
	n, err := runExport(ctx, s, "/in", &archive, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	zr, err := zip.NewReader(bytes.NewReader(archive.Bytes()), int64(archive.Len()))
	require.NoError(t, err)
	contents := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(data)
	}
	assert.Equal(t, `{"a":1}`, contents["2024/01/a.json"])
	assert.Equal(t, "2024/01/a.json", contents["latest"])
	assert.Len(t, contents["top.txt"], 300<<10)
	assert.Contains(t, contents, "2024/")
	assert.Zero(t, s.m.OpenHandles())
}
