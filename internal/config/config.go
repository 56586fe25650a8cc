package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the brokerage API.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Margin  Margin  `yaml:"margin"`
	Logging Logging `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Storage holds the sqlite database path.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Auth holds the JWT signing secret.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Margin controls the periodic margin sweep: how often accounts are
// re-evaluated and how many consecutive breached evaluations are
// tolerated before escalating to auto square-off.
type Margin struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	GraceEvaluations     int `yaml:"grace_evaluations"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server:  Server{Port: "8080"},
		Storage: Storage{SQLitePath: "brokerage.db"},
		Auth:    Auth{JWTSecret: "brokerage-secret-key"},
		Margin:  Margin{SweepIntervalSeconds: 60, GraceEvaluations: 3},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML configuration file at the given path and applies
// environment variable overrides. An empty path returns the defaults
// with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and
// overrides the corresponding configuration fields when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("MARGIN_SWEEP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Margin.SweepIntervalSeconds = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// SweepInterval returns the margin sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Margin.SweepIntervalSeconds) * time.Second
}
