package routing

import (
	"math"
	"time"
)

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// DefaultRetryConfig retries three times, waiting 2s, 4s and 8s.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:      3,
	InitialDelay:    2 * time.Second,
	MaxDelay:        60 * time.Second,
	BackoffMultiple: 2.0,
}

// Backoff returns the delay before the given retry (0 for the first retry).
func Backoff(retry int, config RetryConfig) time.Duration {
	if retry < 0 {
		retry = 0
	}
	multiple := config.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(multiple, float64(retry))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
