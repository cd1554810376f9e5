package health

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/storage"
	"github.com/vietddude/snapquiz/internal/quiz/metrics"
)

const persistTimeout = 2 * time.Second

// Monitor owns the RequestRecord. The request lane writes to it through the
// Record* methods; everything else only reads.
type Monitor struct {
	cfg     Config
	clock   clock.Clock
	repo    storage.RequestRecordRepository
	pending func() int
	log     *slog.Logger
	warnLog rate.Sometimes

	mu              sync.RWMutex
	dispatches      []time.Time
	lastRateLimited time.Time
	retryAfter      time.Duration
	inFlight        int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithRepository writes every record change through to repo.
func WithRepository(repo storage.RequestRecordRepository) Option {
	return func(m *Monitor) { m.repo = repo }
}

// WithPending reports the lane's queue depth in each Status.
func WithPending(fn func() int) Option {
	return func(m *Monitor) { m.pending = fn }
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = def.WarningThreshold
	}

	m := &Monitor{
		cfg:     cfg,
		clock:   clock.Real{},
		log:     slog.Default().With("component", "health"),
		warnLog: rate.Sometimes{Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the thresholds in use.
func (m *Monitor) Config() Config { return m.cfg }

// RecordDispatch notes the start of one dispatch.
func (m *Monitor) RecordDispatch(at time.Time) {
	m.mu.Lock()
	m.dispatches = append(m.dispatches, at)
	m.trimLocked(at)
	m.inFlight++
	m.mu.Unlock()

	m.persist("append dispatch", func(ctx context.Context) error {
		return m.repo.AppendDispatch(ctx, at)
	})
}

// RecordDone notes the end of a dispatch, successful or not.
func (m *Monitor) RecordDone(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight > 0 {
		m.inFlight--
	}
}

// RecordRateLimited starts the cooldown window. A retryAfter longer than the
// configured cooldown stretches it.
func (m *Monitor) RecordRateLimited(at time.Time, retryAfter time.Duration) {
	m.mu.Lock()
	switch {
	case at.After(m.lastRateLimited):
		m.lastRateLimited = at
		m.retryAfter = retryAfter
	case at.Equal(m.lastRateLimited):
		m.retryAfter = max(m.retryAfter, retryAfter)
	}
	m.mu.Unlock()

	m.log.Warn("Remote service rate limited, cooling down", "cooldown", max(m.cfg.Cooldown, retryAfter))
	m.persist("set last rate limited", func(ctx context.Context) error {
		return m.repo.SetLastRateLimited(ctx, at)
	})
}

// GetStatus reports the current health. It never fails.
func (m *Monitor) GetStatus() Status {
	now := m.clock.Now()
	rec := m.Record()

	m.mu.RLock()
	busy := m.inFlight > 0
	m.mu.RUnlock()

	st := Evaluate(rec, now, m.cfg)
	st.Busy = busy
	if st.State == StateOK && busy {
		st.Label = LabelThinking
	}
	if m.pending != nil {
		st.Pending = m.pending()
	}

	if st.State == StateWarning {
		m.warnLog.Do(func() {
			m.log.Warn("High request volume",
				"requests_in_window", st.RequestsInWindow,
				"window", m.cfg.Window)
		})
	}
	metrics.HealthState.Set(st.State.gauge())
	return st
}

// RemainingCooldown returns the whole seconds left in the cooldown, or 0.
func (m *Monitor) RemainingCooldown() int {
	st := Evaluate(m.Record(), m.clock.Now(), m.cfg)
	return st.RemainingSeconds
}

// Record returns a copy of the current request record.
func (m *Monitor) Record() domain.RequestRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]time.Time, len(m.dispatches))
	copy(out, m.dispatches)
	return domain.RequestRecord{Dispatches: out, LastRateLimited: m.lastRateLimited, RetryAfter: m.retryAfter}
}

// Restore loads the persisted record, if a repository is configured.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	now := m.clock.Now()
	rec, err := m.repo.Load(ctx, now.Add(-m.cfg.Window))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(rec.Dispatches, m.dispatches...)
	slices.SortFunc(m.dispatches, func(a, b time.Time) int { return a.Compare(b) })
	if rec.LastRateLimited.After(m.lastRateLimited) {
		m.lastRateLimited = rec.LastRateLimited
		m.retryAfter = 0
	}
	m.trimLocked(now)

	m.log.Info("Restored request record",
		"dispatches", len(m.dispatches),
		"last_rate_limited", m.lastRateLimited)
	return nil
}

// trimLocked drops dispatches that can no longer affect the window.
func (m *Monitor) trimLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for i < len(m.dispatches) && m.dispatches[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.dispatches = append(m.dispatches[:0], m.dispatches[i:]...)
	}
}

// persist runs fn against the repository. Failures are logged, never returned.
func (m *Monitor) persist(what string, fn func(ctx context.Context) error) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.log.Warn("Failed to persist request record", "op", what, "error", err)
	}
}
