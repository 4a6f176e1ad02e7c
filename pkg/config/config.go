// Package config loads the engine configuration from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// Config holds all engine configuration
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Budget   BudgetConfig   `toml:"budget"`
}

// DatabaseConfig locates the SQLite store
type DatabaseConfig struct {
	Path string `toml:"path" env:"AFFECT_DB_PATH"`
}

// LogConfig selects the log level and format (text or json)
type LogConfig struct {
	Level  string `toml:"level" env:"AFFECT_LOG_LEVEL"`
	Format string `toml:"format" env:"AFFECT_LOG_FORMAT"`
}

// BudgetConfig holds budget distribution defaults
type BudgetConfig struct {
	// Precision is the number of decimals kept when a category has none
	Precision      int32 `toml:"precision" env:"AFFECT_BUDGET_PRECISION"`
	AutoDistribute bool  `toml:"auto_distribute"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: filepath.Join(DataDir(), "affect.db")},
		Log:      LogConfig{Level: "info", Format: "text"},
		Budget:   BudgetConfig{Precision: 2},
	}
}

// DataDir returns the XDG-compliant data directory
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "affect")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "affect")
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the values a file or the environment may have broken
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Budget.Precision < 0 || c.Budget.Precision > entities.MaxScale {
		return fmt.Errorf("budget precision must be between 0 and %d, got %d", entities.MaxScale, c.Budget.Precision)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Save writes the config to path
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
