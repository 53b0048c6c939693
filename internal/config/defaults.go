package config

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalid marks a configuration value that fails validation.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultFSName       = "slashfs"
	DefaultUnmountRetry = 100 * time.Millisecond
	DefaultMetricsAddr  = "127.0.0.1:9120"
)

// ApplyDefaults fills zero values and normalizes case.
func ApplyDefaults(cfg *Config) {
	if cfg.Mount.FSName == "" {
		cfg.Mount.FSName = DefaultFSName
	}
	if cfg.Mount.Subtype == "" {
		cfg.Mount.Subtype = DefaultFSName
	}
	if cfg.Adapter.UnmountRetry == 0 {
		cfg.Adapter.UnmountRetry = DefaultUnmountRetry
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsAddr
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
