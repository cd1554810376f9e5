package config

import (
	"time"

	redisclient "github.com/vietddude/snapquiz/internal/infra/redis"
	"github.com/vietddude/snapquiz/internal/infra/rpc/lane"
	"github.com/vietddude/snapquiz/internal/infra/rpc/provider"
	"github.com/vietddude/snapquiz/internal/infra/storage/postgres"
	"github.com/vietddude/snapquiz/internal/quiz/health"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
	Gemini    provider.GeminiConfig `yaml:"gemini"`
	Lane      lane.Config           `yaml:"lane"`
	Health    health.Config         `yaml:"health"`
	Session   session.Config        `yaml:"session"`
	Redis     redisclient.Config    `yaml:"redis"`
	Database  postgres.Config       `yaml:"database"`
	Retention RetentionConfig       `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SessionTTL     time.Duration `yaml:"session_ttl"` // idle sessions are dropped after this
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetentionConfig controls pruning of the persisted dispatch history.
type RetentionConfig struct {
	Period   time.Duration `yaml:"period"` // 0 = keep forever
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when a key is absent.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			SessionTTL:     2 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Gemini: provider.GeminiConfig{
			BaseURL: provider.DefaultBaseURL,
			Model:   provider.DefaultModel,
		},
		Lane:    lane.DefaultConfig(),
		Health:  health.DefaultConfig(),
		Session: session.DefaultConfig(),
		Retention: RetentionConfig{
			Period:   24 * time.Hour,
			Interval: 10 * time.Minute,
		},
	}
}
