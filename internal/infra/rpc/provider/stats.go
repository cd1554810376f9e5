package provider

import (
	"sync"
	"time"
)

// statsTracker implements the shared success/failure bookkeeping.
type statsTracker struct {
	mu           sync.RWMutex
	stats        Stats
	totalLatency time.Duration
	successCount int
}

func (t *statsTracker) snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *statsTracker) recordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
	t.stats.Requests++
	t.totalLatency += latency
	t.stats.LastSuccessAt = time.Now()

	t.stats.ErrorRate = float64(t.stats.Failures) / float64(t.stats.Requests)
	t.stats.AvgLatency = t.totalLatency / time.Duration(t.successCount)
}

func (t *statsTracker) recordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Failures++
	t.stats.Requests++
	t.stats.LastFailureAt = time.Now()
	t.stats.ErrorRate = float64(t.stats.Failures) / float64(t.stats.Requests)
}
