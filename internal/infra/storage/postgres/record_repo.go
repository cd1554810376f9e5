package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/storage"
)

const eventRateLimited = "rate_limited"

var _ storage.RequestRecordRepository = (*RecordRepo)(nil)

// RecordRepo implements storage.RequestRecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL request record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// AppendDispatch inserts one dispatch timestamp.
func (r *RecordRepo) AppendDispatch(ctx context.Context, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_dispatches (dispatched_at) VALUES ($1)`, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to append dispatch: %w", err)
	}
	return nil
}

// SetLastRateLimited upserts the rate-limit event, keeping the newest time.
func (r *RecordRepo) SetLastRateLimited(ctx context.Context, at time.Time) error {
	query := `
		INSERT INTO request_events (name, occurred_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET occurred_at = GREATEST(request_events.occurred_at, EXCLUDED.occurred_at)
	`
	if _, err := r.db.ExecContext(ctx, query, eventRateLimited, at.UTC()); err != nil {
		return fmt.Errorf("failed to set last rate limited: %w", err)
	}
	return nil
}

// Load returns dispatches since the given time plus the last rate-limit time.
func (r *RecordRepo) Load(ctx context.Context, since time.Time) (domain.RequestRecord, error) {
	var rec domain.RequestRecord

	err := r.db.SelectContext(ctx, &rec.Dispatches, `
		SELECT dispatched_at
		FROM request_dispatches
		WHERE dispatched_at >= $1
		ORDER BY dispatched_at ASC
	`, since.UTC())
	if err != nil {
		return domain.RequestRecord{}, fmt.Errorf("failed to load dispatches: %w", err)
	}

	err = r.db.GetContext(ctx, &rec.LastRateLimited,
		`SELECT occurred_at FROM request_events WHERE name = $1`, eventRateLimited)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.RequestRecord{}, fmt.Errorf("failed to load last rate limited: %w", err)
	}

	return rec, nil
}

// Prune deletes dispatches older than before.
func (r *RecordRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM request_dispatches WHERE dispatched_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune dispatches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned dispatches: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection.
func (r *RecordRepo) Close() error {
	return r.db.Close()
}
