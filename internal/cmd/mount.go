package cmd

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	_ "bazil.org/fuse/fs/fstestutil"
	"github.com/dendrascience/slashfs/fusefs"
	"github.com/dendrascience/slashfs/internal/config"
	"github.com/dendrascience/slashfs/internal/logger"
	"github.com/dendrascience/slashfs/metrics"
	"github.com/dendrascience/slashfs/slash"
	"github.com/dendrascience/slashfs/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand for the slashfs CLI.
func NewMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount STORAGE_PATH MOUNTPOINT",
		Short: "Mount a slashfs pool",
		Long: `Mount a slashfs pool at the specified mountpoint.

STORAGE_PATH is the directory holding a pool created with mkfs. With
storage.in_memory set in the configuration it is ignored and an empty
pool is served instead.
MOUNTPOINT is the directory where the filesystem will be mounted.`,
		Args: cobra.ExactArgs(2),
		Run:  runMount,
	}
	cmd.Flags().Bool("allow-other", false, "Let users other than the mounter access the filesystem")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics on metrics.listen")
	return cmd
}

func runMount(cmd *cobra.Command, args []string) {
	fmt.Printf("slashfs %s starting...\n", version.GetFullVersion())

	storagePath := args[0]
	mountpoint := args[1]

	cfg, err := loadConfig(cmd, storagePath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cmd.Flags().Changed("allow-other") {
		cfg.Mount.AllowOther, _ = cmd.Flags().GetBool("allow-other")
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}

	if err := checkMountPaths(cfg, storagePath, mountpoint); err != nil {
		log.Fatal(err)
	}

	eng, err := openEngine(cfg)
	if err != nil {
		log.Fatal(err)
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.New(reg)
		go serveMetrics(cfg.Metrics.Listen, reg)
	}

	filesystem := fusefs.New(slash.New(eng, slash.Options{
		MaxOpenFiles: cfg.Adapter.MaxOpenFiles,
		UnmountRetry: cfg.Adapter.UnmountRetry,
		Metrics:      rec,
	}))

	options := []fuse.MountOption{
		fuse.FSName(cfg.Mount.FSName),
		fuse.Subtype(cfg.Mount.Subtype),
	}
	if cfg.Mount.AllowOther {
		options = append(options, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, options...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		if err := fuse.Unmount(mountpoint); err != nil {
			logger.Error("unmount failed", logger.KeyError, err)
		}
	}()

	logger.Info("mounted",
		"version", version.GetVersion(),
		"mountpoint", mountpoint,
		"storage", storagePath,
		"in_memory", cfg.Storage.InMemory)
	err = fs.Serve(c, filesystem)
	filesystem.Destroy()
	if err != nil {
		log.Fatal(err)
	}
	logger.Info("shutdown complete")
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "listen", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", logger.KeyError, err)
	}
}

// checkMountPaths refuses a mountpoint that would cover the pool directory.
// An in-memory pool has no directory to cover.
func checkMountPaths(cfg *config.Config, storage, mountpoint string) error {
	if cfg.Storage.InMemory {
		return nil
	}
	if pathsOverlap(storage, mountpoint) {
		return fmt.Errorf("storage path %s and mountpoint %s overlap", storage, mountpoint)
	}
	return nil
}

// pathsOverlap reports whether one path is the other or lies inside it.
// Mounting over the pool directory would hide it from the engine.
func pathsOverlap(path1, path2 string) bool {
	abs1, err1 := filepath.Abs(path1)
	abs2, err2 := filepath.Abs(path2)
	if err1 != nil || err2 != nil {
		return filepath.Clean(path1) == filepath.Clean(path2)
	}
	return within(abs1, abs2) || within(abs2, abs1)
}

func within(parent, child string) bool {
	if parent == child {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
