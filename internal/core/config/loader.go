package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. An empty path returns the
// defaults with environment overrides applied.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv fills connection settings that were left empty from the
// well-known environment variables.
func applyEnv(cfg *AppConfig) {
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
}

func applyDefaults(cfg *AppConfig) {
	def := Default()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = def.Server.SessionTTL
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = def.Gemini.BaseURL
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = def.Gemini.Model
	}
	if cfg.Lane.QueueSize <= 0 {
		cfg.Lane.QueueSize = def.Lane.QueueSize
	}
	if cfg.Lane.AttemptTimeout == 0 {
		cfg.Lane.AttemptTimeout = def.Lane.AttemptTimeout
	}
	if cfg.Lane.Retry.BackoffMultiple == 0 {
		cfg.Lane.Retry.BackoffMultiple = def.Lane.Retry.BackoffMultiple
	}
	if cfg.Health.Window == 0 {
		cfg.Health.Window = def.Health.Window
	}
	if cfg.Health.Cooldown == 0 {
		cfg.Health.Cooldown = def.Health.Cooldown
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = def.Retention.Interval
	}
}

// Validate reports settings that cannot work.
func (c *AppConfig) Validate() error {
	if c.Lane.MinInterval < 0 {
		return fmt.Errorf("lane.min_interval must not be negative")
	}
	if c.Lane.Retry.MaxRetries < 0 {
		return fmt.Errorf("lane.retry.max_retries must not be negative")
	}
	if c.Health.WarningThreshold < 0 {
		return fmt.Errorf("health.warning_threshold must not be negative")
	}
	if c.Retention.Period > 0 && c.Retention.Period < c.Health.Window {
		return fmt.Errorf("retention.period (%s) must cover health.window (%s)", c.Retention.Period, c.Health.Window)
	}
	return nil
}
