package storage

import (
	"context"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
)

// RequestRecordRepository persists the rolling dispatch history that feeds
// health reporting.
type RequestRecordRepository interface {
	// AppendDispatch records one dispatch start
	AppendDispatch(ctx context.Context, at time.Time) error

	// SetLastRateLimited stores the most recent rate-limit failure time
	SetLastRateLimited(ctx context.Context, at time.Time) error

	// Load returns dispatches at or after since, oldest first, and the last
	// rate-limit time (zero if none)
	Load(ctx context.Context, since time.Time) (domain.RequestRecord, error)

	// Prune deletes dispatches older than before and returns how many were removed
	Prune(ctx context.Context, before time.Time) (int, error)

	// Close releases the underlying connection
	Close() error
}
