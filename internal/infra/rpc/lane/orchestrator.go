package lane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/infra/rpc/routing"
	"github.com/vietddude/snapquiz/internal/quiz/metrics"
)

type result struct {
	value any
	err   error
}

type task struct {
	ctx    context.Context
	op     Operation
	result chan result
}

// Orchestrator owns the single request lane. Create one per process and
// share it between every component that talks to the remote service.
type Orchestrator struct {
	cfg      Config
	clock    clock.Clock
	recorder Recorder
	log      *slog.Logger

	tasks   chan *task
	pending atomic.Int64

	// worker goroutine only
	lastDispatch time.Time

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRecorder registers the dispatch bookkeeping sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an orchestrator. Call Start before submitting work.
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	o := &Orchestrator{
		cfg:   cfg,
		clock: clock.Real{},
		log:   slog.Default().With("component", "lane"),
		tasks: make(chan *task, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the worker goroutine. It stops when ctx is cancelled or
// Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.stopped {
		return
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.run(runCtx)
}

// Stop cancels the worker and waits for it to exit. Queued operations fail
// with ErrStopped.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.stopped = true
	started := o.started
	cancel := o.cancel
	o.mu.Unlock()

	if !started {
		o.drain()
		close(o.done)
		return
	}
	cancel()
	<-o.done
}

// Pending returns the number of operations queued or in flight.
func (o *Orchestrator) Pending() int {
	return int(o.pending.Load())
}

// Submit queues op and waits for its result.
//
// If ctx ends before op is dispatched, op never runs. Once dispatched, op
// runs to completion (including retries) even if ctx ends; the caller just
// stops waiting for it.
func (o *Orchestrator) Submit(ctx context.Context, op Operation) (any, error) {
	if op.Invoke == nil {
		return nil, fmt.Errorf("lane: operation %q has no Invoke function", op.Name)
	}
	if op.Name == "" {
		op.Name = "anonymous"
	}

	t := &task{ctx: ctx, op: op, result: make(chan result, 1)}
	if err := o.enqueue(ctx, t); err != nil {
		return nil, err
	}

	select {
	case r := <-t.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		select {
		case r := <-t.result:
			return r.value, r.err
		default:
			return nil, ErrStopped
		}
	}
}

// enqueue holds the read lock so Stop cannot slip in between the stopped
// check and the send.
func (o *Orchestrator) enqueue(ctx context.Context, t *task) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return ErrStopped
	}

	o.track(1)
	select {
	case o.tasks <- t:
		return nil
	case <-ctx.Done():
		o.track(-1)
		return ctx.Err()
	case <-o.done:
		o.track(-1)
		return ErrStopped
	}
}

func (o *Orchestrator) track(delta int64) {
	n := o.pending.Add(delta)
	metrics.QueueDepth.Set(float64(n))
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	defer o.drain()

	o.log.Debug("Request lane started",
		"min_interval", o.cfg.MinInterval,
		"max_retries", o.cfg.Retry.MaxRetries)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.tasks:
			r := o.execute(ctx, t)
			t.result <- r
			o.track(-1)
		}
	}
}

func (o *Orchestrator) drain() {
	for {
		select {
		case t := <-o.tasks:
			t.result <- result{err: ErrStopped}
			o.track(-1)
		default:
			return
		}
	}
}

// execute runs one task to settlement. Whatever happens, the lane advances
// to the next task afterwards.
func (o *Orchestrator) execute(runCtx context.Context, t *task) result {
	if err := t.ctx.Err(); err != nil {
		o.log.Debug("Dropping operation abandoned before dispatch", "operation", t.op.Name)
		return result{err: err}
	}

	// Once dispatched, the call is no longer tied to the caller.
	callCtx := context.WithoutCancel(t.ctx)
	maxRetries := o.cfg.Retry.MaxRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := routing.Backoff(attempt-1, o.cfg.Retry)
			metrics.RetriesTotal.WithLabelValues(t.op.Name).Inc()
			o.log.Warn("Retrying remote call",
				"operation", t.op.Name,
				"attempt", attempt+1,
				"backoff", delay,
				"error", lastErr)
			if err := o.clock.Sleep(runCtx, delay); err != nil {
				return result{err: fmt.Errorf("%w: %v", ErrStopped, lastErr)}
			}
		}

		if err := o.waitForSlot(runCtx); err != nil {
			return result{err: ErrStopped}
		}
		if attempt == 0 {
			if err := t.ctx.Err(); err != nil {
				o.log.Debug("Dropping operation abandoned while waiting for a slot", "operation", t.op.Name)
				return result{err: err}
			}
		}

		value, err := o.dispatch(callCtx, t.op)
		if err == nil {
			return result{value: value}
		}

		category := routing.Classify(err)
		metrics.DispatchErrorsTotal.WithLabelValues(t.op.Name, category.String()).Inc()
		lastErr = err

		callErr := &CallError{
			Operation: t.op.Name,
			Category:  category,
			Attempts:  attempt + 1,
			Err:       err,
		}

		if !routing.Retryable(category) {
			if category == routing.RateLimited {
				retryAfter := routing.RetryAfter(err)
				if o.recorder != nil {
					o.recorder.RecordRateLimited(o.clock.Now(), retryAfter)
				}
				o.log.Warn("Remote call rate limited", "operation", t.op.Name, "retry_after", retryAfter, "error", err)
			} else {
				o.log.Warn("Remote call rejected by safety filters", "operation", t.op.Name, "error", err)
			}
			return result{err: callErr}
		}

		if attempt == maxRetries {
			o.log.Error("Remote call failed, retries exhausted",
				"operation", t.op.Name,
				"attempts", attempt+1,
				"category", category.String(),
				"error", err)
			return result{err: callErr}
		}
	}

	// unreachable: the loop always returns on its last iteration
	return result{err: lastErr}
}

// waitForSlot enforces the minimum spacing since the previous dispatch.
func (o *Orchestrator) waitForSlot(ctx context.Context) error {
	if o.lastDispatch.IsZero() || o.cfg.MinInterval <= 0 {
		return nil
	}
	wait := o.cfg.MinInterval - o.clock.Now().Sub(o.lastDispatch)
	if wait <= 0 {
		return nil
	}
	o.log.Debug("Waiting for request slot", "wait", wait)
	return o.clock.Sleep(ctx, wait)
}

func (o *Orchestrator) dispatch(ctx context.Context, op Operation) (value any, err error) {
	start := o.clock.Now()
	o.lastDispatch = start
	if o.recorder != nil {
		o.recorder.RecordDispatch(start)
	}
	metrics.DispatchesTotal.WithLabelValues(op.Name).Inc()

	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			value, err = nil, fmt.Errorf("operation %s panicked: %v", op.Name, p)
		}
		end := o.clock.Now()
		metrics.DispatchLatency.WithLabelValues(op.Name).Observe(end.Sub(start).Seconds())
		if o.recorder != nil {
			o.recorder.RecordDone(end)
		}
	}()

	return op.Invoke(ctx)
}
