package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the integrityctl configuration.
//
// Precedence (highest to lowest): flags, INTEGRITYCTL_* environment
// variables, the config file, defaults.
type Config struct {
	// Root is the OS directory whose files are protected
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// Backend selects where attributes live: xattr (Linux extended
	// attributes on the files themselves) or badger (a sidecar database)
	Backend string `mapstructure:"backend" validate:"required,oneof=xattr badger" yaml:"backend"`

	// StoreDir is the badger database directory
	StoreDir string `mapstructure:"store_dir" validate:"required_if=Backend badger" yaml:"store_dir"`

	// DefaultAlgorithm applies to paths without an algorithm attribute
	DefaultAlgorithm string `mapstructure:"default_algorithm" validate:"required" yaml:"default_algorithm"`

	// AlgorithmAttr enables per-path algorithms
	AlgorithmAttr bool `mapstructure:"algorithm_attr" yaml:"algorithm_attr"`

	// Symlinks enables digests over symlink targets
	Symlinks bool `mapstructure:"symlinks" yaml:"symlinks"`

	// ChunkSize is the read size while hashing (0 means default)
	ChunkSize int `mapstructure:"chunk_size" validate:"gte=0" yaml:"chunk_size"`

	// PrivilegedUIDs may change protection attributes in addition to root
	PrivilegedUIDs []int `mapstructure:"privileged_uids" validate:"dive,gte=0" yaml:"privileged_uids"`

	Parallel ParallelConfig `mapstructure:"parallel" yaml:"parallel"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ParallelConfig controls audit concurrency
type ParallelConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Workers int  `mapstructure:"workers" validate:"gte=0,lte=1024" yaml:"workers"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("backend", "xattr")
	v.SetDefault("store_dir", "")
	v.SetDefault("default_algorithm", "md5")
	v.SetDefault("algorithm_attr", false)
	v.SetDefault("symlinks", false)
	v.SetDefault("chunk_size", 0)
	v.SetDefault("privileged_uids", []int{})
	v.SetDefault("parallel.enabled", true)
	v.SetDefault("parallel.workers", 0)
	v.SetDefault("logging.level", "WARN")
	v.SetDefault("logging.format", "text")
}

// setupViper configures environment variables and the config file location.
// Environment variables use the INTEGRITYCTL_ prefix and underscores, e.g.
// INTEGRITYCTL_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("INTEGRITYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// defaultConfigDir returns $XDG_CONFIG_HOME/integrityctl
func defaultConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "integrityctl")
}

// loadConfig reads the configuration into a validated Config. An explicit
// configPath must exist; the default location is optional.
func loadConfig(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// newLogger builds the slog logger described by cfg, writing to w
func newLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
