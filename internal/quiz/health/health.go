// Package health reports how hard the remote service is being pushed.
//
// The monitor is advisory only: it never blocks or gates a submission.
package health

import (
	"math"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
)

// State is the overall health state of the request lane.
type State string

const (
	StateOK      State = "ok"
	StateWarning State = "warning"
	StateError   State = "error"
)

// gauge value exported as the health state metric
func (s State) gauge() float64 {
	switch s {
	case StateWarning:
		return 1
	case StateError:
		return 2
	}
	return 0
}

const (
	LabelReady      = "AI ready"
	LabelThinking   = "AI thinking..."
	LabelBusy       = "High traffic"
	LabelCoolingOff = "AI is taking a break"
)

// Status is a point-in-time health report.
type Status struct {
	State            State  `json:"state"`
	Label            string `json:"label"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Busy             bool   `json:"busy"`
	RequestsInWindow int    `json:"requests_in_window"`
	Pending          int    `json:"pending"`
}

// Config holds the thresholds used to derive a Status.
type Config struct {
	Window           time.Duration `yaml:"window"`
	WarningThreshold int           `yaml:"warning_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns a 60s window, warning at 10 dispatches and a 60s
// cooldown after rate limiting. A longer server retry hint extends the
// cooldown.
func DefaultConfig() Config {
	return Config{
		Window:           60 * time.Second,
		WarningThreshold: 10,
		Cooldown:         60 * time.Second,
	}
}

// Evaluate derives a Status from a request record at the given time.
func Evaluate(rec domain.RequestRecord, now time.Time, cfg Config) Status {
	st := Status{
		State:            StateOK,
		Label:            LabelReady,
		RequestsInWindow: countSince(rec.Dispatches, now.Add(-cfg.Window)),
	}

	if !rec.LastRateLimited.IsZero() {
		cooldown := max(cfg.Cooldown, rec.RetryAfter)
		elapsed := now.Sub(rec.LastRateLimited)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed < cooldown {
			st.State = StateError
			st.Label = LabelCoolingOff
			st.RemainingSeconds = int(math.Ceil((cooldown - elapsed).Seconds()))
			return st
		}
	}

	if cfg.WarningThreshold > 0 && st.RequestsInWindow >= cfg.WarningThreshold {
		st.State = StateWarning
		st.Label = LabelBusy
	}
	return st
}

func countSince(ts []time.Time, since time.Time) int {
	n := 0
	for _, t := range ts {
		if !t.Before(since) {
			n++
		}
	}
	return n
}
