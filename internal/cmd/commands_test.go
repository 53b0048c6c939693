package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandsAgainstPool(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	pool := filepath.Join(t.TempDir(), "pool")

	out, err := run(t, "mkfs", pool, "--uid", "0", "--gid", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Created pool ")

	_, err = run(t, "mkfs", pool)
	assert.Error(t, err, "formatting twice")

	out, err = run(t, "seed", pool, "--count", "50", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Created 50 files")

	out, err = run(t, "count", pool)
	require.NoError(t, err)
	assert.Contains(t, out, "Total files: 50\n")

	out, err = run(t, "ls", pool)
	require.NoError(t, err)
	assert.Contains(t, out, "INO")
	assert.Contains(t, out, "dir")
	assert.Contains(t, out, "2024")
	assert.NotContains(t, out, " ..\n")

	out, err = run(t, "ls", pool, "-a")
	require.NoError(t, err)
	assert.Contains(t, out, "..")

	out, err = run(t, "stat", pool, "2024")
	require.NoError(t, err)
	assert.Contains(t, out, "File: 2024")

	out, err = run(t, "stat", pool, "-f")
	require.NoError(t, err)
	assert.Contains(t, out, "Namelen: 255")

	out, err = run(t, "validate", pool)
	require.NoError(t, err)
	assert.Contains(t, out, "Pool is consistent")

	_, err = run(t, "ls", pool, "nowhere")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SLASHFS_ADAPTER_MAX_OPEN_FILES", "12")

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_open_files: 12")
	assert.Contains(t, out, "fsname: slashfs")

	out, err = run(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join("slashfs", "config.yaml"))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Package: slashfs")

	out, err = run(t, "version", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "package: slashfs")
}
