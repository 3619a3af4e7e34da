// Package config loads recordkit settings from an optional file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "RECORDKIT"

// Config holds every tunable of the record-access core.
type Config struct {
	Database Database `mapstructure:"database"`

	// InMax bounds the number of parameters in a single IN (...) list.
	InMax int `mapstructure:"in_max"`

	Prefetch Prefetch `mapstructure:"prefetch"`

	// Lang is the default language for translated fields.
	Lang string `mapstructure:"lang"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Database selects the SQL backend.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite3" | "pgx"
	DSN    string `mapstructure:"dsn"`
}

// Prefetch configures the browse-record prefetch policy.
type Prefetch struct {
	Mode     string  `mapstructure:"mode"` // all | single | auto
	TopK     int     `mapstructure:"top_k"`
	Fraction float64 `mapstructure:"fraction"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Driver: "sqlite3", DSN: "recordkit.db"},
		InMax:    1000,
		Prefetch: Prefetch{Mode: "auto", TopK: 4, Fraction: 0.25},
		Lang:     "en_US",
		LogLevel: "info",
	}
}

// Load reads configuration from path (optional, any format viper knows) and
// from RECORDKIT_* environment variables. Environment wins over the file.
//
// RECORDKIT_DATABASE_DSN -> database.dsn
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("database.driver", def.Database.Driver)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("in_max", def.InMax)
	v.SetDefault("prefetch.mode", def.Prefetch.Mode)
	v.SetDefault("prefetch.top_k", def.Prefetch.TopK)
	v.SetDefault("prefetch.fraction", def.Prefetch.Fraction)
	v.SetDefault("lang", def.Lang)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("invalid database.driver %q: must be sqlite3 or pgx", c.Database.Driver)
	}
	if c.InMax <= 0 {
		return fmt.Errorf("in_max must be positive, got %d", c.InMax)
	}
	switch c.Prefetch.Mode {
	case "all", "single", "auto":
	default:
		return fmt.Errorf("invalid prefetch.mode %q", c.Prefetch.Mode)
	}
	if c.Prefetch.TopK <= 0 {
		return fmt.Errorf("prefetch.top_k must be positive, got %d", c.Prefetch.TopK)
	}
	return nil
}
