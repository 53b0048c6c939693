package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dendrascience/slashfs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsOverlap(t *testing.T) {
	tests := []struct {
		name  string
		pool  string
		mount string
		want  bool
	}{
		{"same directory", "/srv/pool", "/srv/pool", true},
		{"mountpoint inside pool", "/srv/pool", "/srv/pool/mnt", true},
		{"pool inside mountpoint", "/srv/pool/data", "/srv/pool", true},
		{"trailing slash", "/srv/pool/", "/srv/pool", true},
		{"unclean path", "/srv/other/../pool", "/srv/pool/mnt", true},
		{"separate trees", "/srv/pool", "/mnt/slash", false},
		{"siblings", "/srv/pool", "/srv/mnt", false},
		{"shared name prefix", "/srv/pool", "/srv/pool2", false},
		{"dot-dot prefixed sibling", "/srv/pool", "/srv/pool..x", false},
		{"dot-dot prefixed child", "/srv/pool", "/srv/pool/..x", true},
		{"relative nested", "pool", "pool/mnt", true},
		{"relative separate", "pool", "mnt", false},
		{"relative dot-dot sibling", "pool", "pool..x", false},
		{"relative climbing into pool", "mnt/../pool", "pool/mnt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pathsOverlap(tt.pool, tt.mount), "pathsOverlap(%q, %q)", tt.pool, tt.mount)
			assert.Equal(t, tt.want, pathsOverlap(tt.mount, tt.pool), "pathsOverlap(%q, %q)", tt.mount, tt.pool)
		})
	}
}

func TestPathsOverlapRelativeToWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.True(t, pathsOverlap("pool", filepath.Join(wd, "pool", "mnt")))
	assert.True(t, pathsOverlap(".", filepath.Join(wd, "mnt")))
	assert.False(t, pathsOverlap("pool", filepath.Join(filepath.Dir(wd), "pool")))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/srv/pool", "/srv/pool"))
	assert.True(t, within("/srv/pool", "/srv/pool/a/b"))
	assert.True(t, within("/", "/srv"))
	assert.False(t, within("/srv/pool/a", "/srv/pool"))
	assert.False(t, within("/srv/pool", "/srv/pool..x"))
	assert.False(t, within("/srv/pool", "/srv/poolside"))
}

func TestCheckMountPaths(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Path: "/srv/pool"}}

	assert.NoError(t, checkMountPaths(cfg, "/srv/pool", "/mnt/slash"))
	err := checkMountPaths(cfg, "/srv/pool", "/srv/pool/mnt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")

	// an in-memory pool never touches its storage path
	cfg.Storage.InMemory = true
	assert.NoError(t, checkMountPaths(cfg, "/srv/pool", "/srv/pool/mnt"))
	assert.NoError(t, checkMountPaths(cfg, "/srv/pool", "/srv/pool"))
}
