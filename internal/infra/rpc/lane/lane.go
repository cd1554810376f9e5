// Package lane serializes remote calls through a single execution slot.
//
// Every call submitted to an Orchestrator is dispatched strictly one at a
// time, in submission order, with a minimum spacing between dispatches.
// Transient failures are retried with exponential backoff while still
// holding the lane; rate limiting and safety rejections fail immediately.
package lane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/snapquiz/internal/infra/rpc/routing"
)

// ErrStopped is returned for operations that could not run because the
// orchestrator was stopped.
var ErrStopped = errors.New("lane: orchestrator stopped")

// Operation is one logical remote call. Invoke performs exactly one attempt
// and may be called again by the retry policy.
type Operation struct {
	Name   string
	Invoke func(ctx context.Context) (any, error)
}

// Submitter accepts operations for serialized execution.
type Submitter interface {
	Submit(ctx context.Context, op Operation) (any, error)
}

// Recorder receives dispatch bookkeeping. It is called from the lane worker.
type Recorder interface {
	RecordDispatch(at time.Time)
	RecordDone(at time.Time)
	// RecordRateLimited starts a cooldown. retryAfter is the server's
	// suggested wait, or zero.
	RecordRateLimited(at time.Time, retryAfter time.Duration)
}

// Config holds orchestrator settings.
type Config struct {
	MinInterval    time.Duration       `yaml:"min_interval"`
	AttemptTimeout time.Duration       `yaml:"attempt_timeout"`
	QueueSize      int                 `yaml:"queue_size"`
	Retry          routing.RetryConfig `yaml:"retry"`
}

// DefaultConfig returns the reference timing: 4s spacing, three retries
// starting at 2s.
func DefaultConfig() Config {
	return Config{
		MinInterval:    4 * time.Second,
		AttemptTimeout: 90 * time.Second,
		QueueSize:      32,
		Retry:          routing.DefaultRetryConfig,
	}
}

// CallError is returned when an operation fails for good.
type CallError struct {
	Operation string
	Category  routing.Category
	Attempts  int
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Operation, e.Attempts, e.Category, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// CategoryOf returns the failure category carried by err, or Unknown.
func CategoryOf(err error) routing.Category {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return routing.Classify(err)
}

// Do submits fn and converts the result back to T.
func Do[T any](ctx context.Context, s Submitter, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.Submit(ctx, Operation{
		Name: name,
		Invoke: func(ctx context.Context) (any, error) {
			return fn(ctx)
		},
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("lane: operation %s returned %T", name, v)
	}
	return out, nil
}
