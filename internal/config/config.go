// Package config loads slashfs settings from a YAML file, SLASHFS_*
// environment variables and built-in defaults, in that order of
// decreasing precedence below command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the effective slashfs configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Mount   MountConfig   `mapstructure:"mount" yaml:"mount"`
	Adapter AdapterConfig `mapstructure:"adapter" yaml:"adapter"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// StorageConfig locates the badger pool.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps the pool in memory. Path is ignored and nothing
	// survives the process.
	InMemory   bool `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// MountConfig holds FUSE mount options.
type MountConfig struct {
	FSName     string `mapstructure:"fsname" yaml:"fsname"`
	Subtype    string `mapstructure:"subtype" yaml:"subtype"`
	AllowOther bool   `mapstructure:"allow_other" yaml:"allow_other"`
}

// AdapterConfig tunes the protocol adapter.
type AdapterConfig struct {
	// MaxOpenFiles caps the open-file table. Zero means unlimited.
	MaxOpenFiles int `mapstructure:"max_open_files" yaml:"max_open_files"`

	// UnmountRetry is the pause between refused unmount attempts.
	UnmountRetry time.Duration `mapstructure:"unmount_retry" yaml:"unmount_retry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format" yaml:"format"` // text, json
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr or a file path
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Load reads configPath, or the default location when it is empty. A
// missing file is not an error. Overrides, typically from command-line
// flags, are applied before defaults and validation.
func Load(configPath string, overrides ...func(*Config)) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, override := range overrides {
		override(&cfg)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// SLASHFS_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix("SLASHFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key so environment overrides apply even
// when no file is present.
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.sync_writes", d.Storage.SyncWrites)
	v.SetDefault("mount.fsname", d.Mount.FSName)
	v.SetDefault("mount.subtype", d.Mount.Subtype)
	v.SetDefault("mount.allow_other", d.Mount.AllowOther)
	v.SetDefault("adapter.max_open_files", d.Adapter.MaxOpenFiles)
	v.SetDefault("adapter.unmount_retry", d.Adapter.UnmountRetry)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "slashfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "slashfs")
}

// GetDefaultConfigPath returns where Load looks when no path is given.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// Validate rejects settings the mount cannot start with.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalid, cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, cfg.Logging.Format)
	}
	if cfg.Adapter.MaxOpenFiles < 0 {
		return fmt.Errorf("%w: adapter.max_open_files must not be negative", ErrInvalid)
	}
	if cfg.Adapter.UnmountRetry <= 0 {
		return fmt.Errorf("%w: adapter.unmount_retry must be positive", ErrInvalid)
	}
	if !cfg.Storage.InMemory && cfg.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.in_memory is set", ErrInvalid)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", ErrInvalid)
	}
	return nil
}

// YAML renders cfg the way a config file would hold it.
func YAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Save writes cfg to path, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := YAML(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
