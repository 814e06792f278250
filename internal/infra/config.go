package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Secrets may come from the file but
// environment variables always win, so keys never have to live on disk.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode    string   `yaml:"mode"` // "PAPER" or "REAL"
		Symbols []string `yaml:"symbols"`
		// StrictSequencing marks the delta transport as gap-free; any jump is
		// then an error instead of a counted event.
		StrictSequencing bool `yaml:"strict_sequencing"`
		// DriftTolerance is the absolute position-size mismatch against venue
		// snapshots below which no drift alert is raised. Empty means exact.
		DriftTolerance string `yaml:"drift_tolerance"`
	} `yaml:"trading"`

	Venue struct {
		Bitget struct {
			RestURL    string `yaml:"rest_url"`
			WSURL      string `yaml:"ws_url"`
			AccessKey  string `yaml:"access_key"`
			SecretKey  string `yaml:"secret_key"`
			Passphrase string `yaml:"passphrase"`
		} `yaml:"bitget"`
	} `yaml:"venue"`

	Limits struct {
		Order  RateLimitConfig `yaml:"order"`
		Market RateLimitConfig `yaml:"market"`
	} `yaml:"limits"`

	Supervisor struct {
		BackoffBaseMS int     `yaml:"backoff_base_ms"`
		BackoffMaxMS  int     `yaml:"backoff_max_ms"`
		Jitter        float64 `yaml:"jitter"`
		MaxAttempts   int     `yaml:"max_attempts"`
	} `yaml:"supervisor"`

	Reconcile struct {
		IntervalSec int `yaml:"interval_sec"`
	} `yaml:"reconcile"`

	MarkPrice struct {
		URL             string `yaml:"url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"mark_price"`

	Storage struct {
		Dir string `yaml:"dir"`
	} `yaml:"storage"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// RateLimitConfig configures one token bucket.
type RateLimitConfig struct {
	Capacity  int     `yaml:"capacity"`
	PerSecond float64 `yaml:"per_second"`
}

// LoadConfig reads and parses the config file, applies environment overrides
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	mode := strings.ToUpper(c.Trading.Mode)
	if mode != "PAPER" && mode != "REAL" {
		return fmt.Errorf("unknown trading mode: %q", c.Trading.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	if mode == "REAL" {
		ws := c.Venue.Bitget.WSURL
		if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
			return fmt.Errorf("invalid venue WS URL: %q", ws)
		}
		if c.Venue.Bitget.RestURL == "" {
			return fmt.Errorf("venue REST URL is required in REAL mode")
		}
	}
	if c.Limits.Order.PerSecond <= 0 || c.Limits.Market.PerSecond <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Reconcile.IntervalSec <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Limits.Order.Capacity == 0 {
		cfg.Limits.Order = RateLimitConfig{Capacity: 5, PerSecond: 10}
	}
	if cfg.Limits.Market.Capacity == 0 {
		cfg.Limits.Market = RateLimitConfig{Capacity: 10, PerSecond: 20}
	}
	if cfg.Supervisor.BackoffBaseMS == 0 {
		cfg.Supervisor.BackoffBaseMS = 1000
	}
	if cfg.Supervisor.BackoffMaxMS == 0 {
		cfg.Supervisor.BackoffMaxMS = 60000
	}
	if cfg.Supervisor.MaxAttempts == 0 {
		cfg.Supervisor.MaxAttempts = 12
	}
	if cfg.Reconcile.IntervalSec == 0 {
		cfg.Reconcile.IntervalSec = 30
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "_workspace/data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// overrideWithEnv lets environment variables take precedence over file
// contents for anything secret.
func overrideWithEnv(cfg *Config) {
	if cfg.Venue.Bitget.SecretKey != "" {
		fmt.Println("WARNING: API secrets found in config file; prefer QUANT_BITGET_KEY / QUANT_BITGET_SECRET / QUANT_BITGET_PASSPHRASE")
	}
	if key := os.Getenv("QUANT_BITGET_KEY"); key != "" {
		cfg.Venue.Bitget.AccessKey = key
	}
	if secret := os.Getenv("QUANT_BITGET_SECRET"); secret != "" {
		cfg.Venue.Bitget.SecretKey = secret
	}
	if pass := os.Getenv("QUANT_BITGET_PASSPHRASE"); pass != "" {
		cfg.Venue.Bitget.Passphrase = pass
	}
}
