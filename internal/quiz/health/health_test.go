package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/rpc/lane"
	"github.com/vietddude/snapquiz/internal/infra/storage/memory"
)

var epoch = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func dispatchesBefore(now time.Time, n int, spacing time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = now.Add(-time.Duration(n-i) * spacing)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name          string
		rec           domain.RequestRecord
		wantState     State
		wantRemaining int
		wantRequests  int
	}{
		{
			name:      "empty record is ok",
			rec:       domain.RequestRecord{},
			wantState: StateOK,
		},
		{
			name:         "nine dispatches in window",
			rec:          domain.RequestRecord{Dispatches: dispatchesBefore(epoch, 9, 5*time.Second)},
			wantState:    StateOK,
			wantRequests: 9,
		},
		{
			name:         "ten dispatches in window",
			rec:          domain.RequestRecord{Dispatches: dispatchesBefore(epoch, 10, 5*time.Second)},
			wantState:    StateWarning,
			wantRequests: 10,
		},
		{
			name:         "old dispatches fall out of window",
			rec:          domain.RequestRecord{Dispatches: dispatchesBefore(epoch, 12, 10*time.Second)},
			wantState:    StateOK,
			wantRequests: 6,
		},
		{
			name:          "just rate limited",
			rec:           domain.RequestRecord{LastRateLimited: epoch.Add(-500 * time.Millisecond)},
			wantState:     StateError,
			wantRemaining: 60,
		},
		{
			name:          "remaining rounds up",
			rec:           domain.RequestRecord{LastRateLimited: epoch.Add(-59200 * time.Millisecond)},
			wantState:     StateError,
			wantRemaining: 1,
		},
		{
			name:      "cooldown elapsed",
			rec:       domain.RequestRecord{LastRateLimited: epoch.Add(-60 * time.Second)},
			wantState: StateOK,
		},
		{
			name: "server retry hint extends cooldown",
			rec: domain.RequestRecord{
				LastRateLimited: epoch.Add(-10 * time.Second),
				RetryAfter:      90 * time.Second,
			},
			wantState:     StateError,
			wantRemaining: 80,
		},
		{
			name: "shorter retry hint keeps cooldown",
			rec: domain.RequestRecord{
				LastRateLimited: epoch.Add(-10 * time.Second),
				RetryAfter:      30 * time.Second,
			},
			wantState:     StateError,
			wantRemaining: 50,
		},
		{
			name: "error wins over warning",
			rec: domain.RequestRecord{
				Dispatches:      dispatchesBefore(epoch, 10, time.Second),
				LastRateLimited: epoch.Add(-10 * time.Second),
			},
			wantState:     StateError,
			wantRemaining: 50,
			wantRequests:  10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.rec, epoch, cfg)
			if got.State != tt.wantState {
				t.Errorf("State = %v, want %v", got.State, tt.wantState)
			}
			if got.RemainingSeconds != tt.wantRemaining {
				t.Errorf("RemainingSeconds = %d, want %d", got.RemainingSeconds, tt.wantRemaining)
			}
			if got.RequestsInWindow != tt.wantRequests {
				t.Errorf("RequestsInWindow = %d, want %d", got.RequestsInWindow, tt.wantRequests)
			}
		})
	}
}

func TestMonitor_RetryHintStretchesCooldown(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk))

	m.RecordRateLimited(clk.Now(), 2*time.Minute)
	if got := m.RemainingCooldown(); got != 120 {
		t.Errorf("RemainingCooldown() = %d, want 120", got)
	}

	clk.Advance(90 * time.Second)
	if st := m.GetStatus(); st.State != StateError || st.RemainingSeconds != 30 {
		t.Errorf("GetStatus() = %+v, want error with 30s remaining", st)
	}

	// a later rate limit without a hint falls back to the configured cooldown
	m.RecordRateLimited(clk.Now(), 0)
	if got := m.RemainingCooldown(); got != 60 {
		t.Errorf("RemainingCooldown() = %d, want 60", got)
	}
}

func TestMonitor_CooldownDecreasesMonotonically(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk))

	m.RecordRateLimited(clk.Now(), 0)

	prev := m.GetStatus()
	if prev.State != StateError || prev.RemainingSeconds <= 0 {
		t.Fatalf("GetStatus() = %+v, want error with remaining seconds", prev)
	}

	for i := 0; i < 20; i++ {
		clk.Advance(7 * time.Second)
		st := m.GetStatus()
		if st.State != StateError {
			if clk.Now().Sub(epoch) < 60*time.Second {
				t.Fatalf("left error state after %v", clk.Now().Sub(epoch))
			}
			return
		}
		if st.RemainingSeconds >= prev.RemainingSeconds {
			t.Fatalf("RemainingSeconds went from %d to %d", prev.RemainingSeconds, st.RemainingSeconds)
		}
		prev = st
	}
	t.Fatal("monitor never left error state")
}

func TestMonitor_BusyWhileDispatching(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk), WithPending(func() int { return 2 }))

	m.RecordDispatch(clk.Now())
	st := m.GetStatus()
	if !st.Busy || st.Label != LabelThinking {
		t.Errorf("GetStatus() = %+v, want busy with thinking label", st)
	}
	if st.Pending != 2 {
		t.Errorf("Pending = %d, want 2", st.Pending)
	}

	m.RecordDone(clk.Now())
	st = m.GetStatus()
	if st.Busy || st.Label != LabelReady {
		t.Errorf("GetStatus() = %+v, want idle with ready label", st)
	}
}

func TestMonitor_WarningThreshold(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk))

	for i := 0; i < 10; i++ {
		m.RecordDispatch(clk.Now())
		m.RecordDone(clk.Now())
		clk.Advance(4 * time.Second)
	}
	if st := m.GetStatus(); st.State != StateWarning {
		t.Errorf("State = %v, want %v", st.State, StateWarning)
	}

	clk.Advance(30 * time.Second)
	if st := m.GetStatus(); st.State != StateOK {
		t.Errorf("State after window = %v, want %v", st.State, StateOK)
	}
}

func TestMonitor_RestoreFromRepository(t *testing.T) {
	clk := clock.NewManual(epoch)
	repo := memory.NewRecordRepo()

	first := NewMonitor(DefaultConfig(), WithClock(clk), WithRepository(repo))
	first.RecordDispatch(clk.Now())
	first.RecordRateLimited(clk.Now(), 0)

	clk.Advance(15 * time.Second)
	second := NewMonitor(DefaultConfig(), WithClock(clk), WithRepository(repo))
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	st := second.GetStatus()
	if st.State != StateError || st.RemainingSeconds != 45 {
		t.Errorf("GetStatus() = %+v, want error with 45s remaining", st)
	}
	if st.RequestsInWindow != 1 {
		t.Errorf("RequestsInWindow = %d, want 1", st.RequestsInWindow)
	}
}

func TestMonitor_RateLimitedSubmitFlipsToError(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk))

	cfg := lane.DefaultConfig()
	cfg.MinInterval = 0
	o := lane.New(cfg, lane.WithClock(clk), lane.WithRecorder(m))
	o.Start(context.Background())
	defer o.Stop()

	calls := 0
	_, err := o.Submit(context.Background(), lane.Operation{Name: "quiz", Invoke: func(context.Context) (any, error) {
		calls++
		return nil, errors.New(`{"error":{"code":429,"message":"Quota exceeded for requests per minute"}}`)
	}})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	st := m.GetStatus()
	if st.State != StateError || st.RemainingSeconds <= 0 {
		t.Errorf("GetStatus() = %+v, want error with remaining seconds", st)
	}
	if st.Busy {
		t.Error("Busy = true after call settled")
	}
}

func TestHealthHandler(t *testing.T) {
	clk := clock.NewManual(epoch)
	m := NewMonitor(DefaultConfig(), WithClock(clk))

	rec := httptest.NewRecorder()
	m.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	m.RecordRateLimited(clk.Now(), 0)
	rec = httptest.NewRecorder()
	m.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
