// Package config resolves btdebug settings.
//
// Sources are applied in order, later ones winning:
//
//  1. built-in defaults
//  2. a YAML file (--config), unknown keys rejected
//  3. a .env file
//  4. BTDEBUG_* environment variables
//  5. command-line flags (applied by the CLI, followed by Validate)
//
// The merged result is checked against a CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/store"
)

// Config holds every tunable. Durations are written as Go duration
// strings ("500ms", "5s") in YAML and the environment.
type Config struct {
	Database         string        `yaml:"database" json:"database"`
	Driver           string        `yaml:"driver" json:"driver"`
	RuntimeDir       string        `yaml:"runtime_dir" json:"runtime_dir"`
	InstanceName     string        `yaml:"instance_name" json:"instance_name"`
	Debounce         time.Duration `yaml:"debounce" json:"debounce"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	OpenRetries      int           `yaml:"open_retries" json:"open_retries"`
	OpenRetryDelay   time.Duration `yaml:"open_retry_delay" json:"open_retry_delay"`
	CleanupAttempts  int           `yaml:"cleanup_attempts" json:"cleanup_attempts"`
	CleanupDelay     time.Duration `yaml:"cleanup_delay" json:"cleanup_delay"`
	FlushInterval    time.Duration `yaml:"flush_interval" json:"flush_interval"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	LogLevel         string        `yaml:"log_level" json:"log_level"`
	ExitOnStdinClose bool          `yaml:"exit_on_stdin_close" json:"exit_on_stdin_close"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Driver:           store.DefaultDriver,
		RuntimeDir:       DefaultRuntimeDir(),
		InstanceName:     "btdebug",
		Debounce:         500 * time.Millisecond,
		ShutdownTimeout:  5 * time.Second,
		OpenRetries:      3,
		OpenRetryDelay:   200 * time.Millisecond,
		CleanupAttempts:  5,
		CleanupDelay:     200 * time.Millisecond,
		FlushInterval:    250 * time.Millisecond,
		BatchSize:        256,
		LogLevel:         "info",
		ExitOnStdinClose: true,
	}
}

// DefaultRuntimeDir is a per-user directory under the system temp dir.
func DefaultRuntimeDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("btdebug-%d", os.Getuid()))
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigPath is an optional YAML file. Missing is an error.
	ConfigPath string
	// EnvFile is an optional dotenv file. Missing is ignored.
	EnvFile string
	// Getenv reads the process environment; nil means os.Getenv.
	Getenv func(string) string
}

// Load resolves defaults, the YAML file, the .env file and the environment,
// then validates the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.ConfigPath != "" {
		if err := cfg.mergeFile(opts.ConfigPath); err != nil {
			return Config{}, err
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("no env file", "path", opts.EnvFile)
		default:
			return Config{}, fmt.Errorf("read env file %s: %w", opts.EnvFile, err)
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	// Real environment variables take precedence over the .env file.
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(apperr.CodeInvalidArgument, "parse config "+path, err)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RequireDatabase fails when no database path is configured.
func (c Config) RequireDatabase() error {
	if c.Database == "" {
		return apperr.InvalidArgument("no database configured: pass --database or set BTDEBUG_DATABASE")
	}
	return nil
}
