package domain

import "time"

// RequestRecord is the rolling dispatch history used for health reporting.
type RequestRecord struct {
	Dispatches      []time.Time
	LastRateLimited time.Time

	// RetryAfter is the server's suggested wait after LastRateLimited. It
	// extends the cooldown when longer. Not persisted.
	RetryAfter time.Duration
}
