package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the matching engine.
// Values come from config.yaml with environment variable overrides;
// secrets (PGPASSWORD) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8085"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Matching MatchingConfig `yaml:"matching"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"aedregistry"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"matching_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// MatchingConfig holds the operational tuning knobs of the matcher.
// The threshold values are advisory constants from registry operations,
// not derivable from first principles, so they are configuration rather
// than code.
type MatchingConfig struct {
	// AutoThreshold is the combined score at and above which a match is
	// recorded with method "exact". The match is still only suggested;
	// confirmation is always an explicit action.
	AutoThreshold int `yaml:"auto_threshold" env:"MATCHING_AUTO_THRESHOLD" env-default:"95"`

	// SuggestThreshold is the combined score below which a target is
	// left unmatched rather than suggested.
	SuggestThreshold int `yaml:"suggest_threshold" env:"MATCHING_SUGGEST_THRESHOLD" env-default:"70"`

	// Workers is the number of targets scored in parallel during a
	// batch run.
	Workers int `yaml:"workers" env:"MATCHING_WORKERS" env-default:"8"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	m := c.Matching
	if m.AutoThreshold < 0 || m.AutoThreshold > 100 {
		return fmt.Errorf("matching.auto_threshold must be within 0-100, got %d", m.AutoThreshold)
	}
	if m.SuggestThreshold < 0 || m.SuggestThreshold > 100 {
		return fmt.Errorf("matching.suggest_threshold must be within 0-100, got %d", m.SuggestThreshold)
	}
	if m.SuggestThreshold > m.AutoThreshold {
		return fmt.Errorf("matching.suggest_threshold (%d) must not exceed matching.auto_threshold (%d)",
			m.SuggestThreshold, m.AutoThreshold)
	}
	if m.Workers < 1 {
		return fmt.Errorf("matching.workers must be at least 1, got %d", m.Workers)
	}
	if c.Database.MigrationsPath != "" {
		if _, err := os.Stat(c.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migrations path does not exist: %w", err)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
