package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/storage"
)

const defaultKeyPrefix = "snapquiz"

var _ storage.RequestRecordRepository = (*RecordRepo)(nil)

// RecordRepo implements storage.RequestRecordRepository using Redis.
//
// Dispatches live in a sorted set scored by unix milliseconds; members are
// unix nanoseconds so two dispatches in the same millisecond stay distinct.
type RecordRepo struct {
	client *Client
	prefix string
}

// NewRecordRepo creates a new Redis-backed request record repository.
func NewRecordRepo(client *Client, prefix string) *RecordRepo {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RecordRepo{client: client, prefix: prefix}
}

// Key helpers
func (r *RecordRepo) dispatchKey() string {
	return fmt.Sprintf("%s:dispatches", r.prefix)
}

func (r *RecordRepo) rateLimitedKey() string {
	return fmt.Sprintf("%s:last_rate_limited", r.prefix)
}

func dispatchMember(at time.Time) redis.Z {
	return redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	}
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}

// AppendDispatch adds a dispatch timestamp to the sorted set.
func (r *RecordRepo) AppendDispatch(ctx context.Context, at time.Time) error {
	if err := r.client.rdb.ZAdd(ctx, r.dispatchKey(), dispatchMember(at)).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// SetLastRateLimited stores the rate-limit time unless a newer one exists.
func (r *RecordRepo) SetLastRateLimited(ctx context.Context, at time.Time) error {
	current, err := r.lastRateLimited(ctx)
	if err != nil {
		return err
	}
	if !at.After(current) {
		return nil
	}
	if err := r.client.rdb.Set(ctx, r.rateLimitedKey(), strconv.FormatInt(at.UnixNano(), 10), 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (r *RecordRepo) lastRateLimited(ctx context.Context) (time.Time, error) {
	val, err := r.client.rdb.Get(ctx, r.rateLimitedKey()).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get failed: %w", err)
	}
	return parseNanos(val)
}

// Load returns dispatches at or after since plus the last rate-limit time.
func (r *RecordRepo) Load(ctx context.Context, since time.Time) (domain.RequestRecord, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.UnixMilli(), 10)
	}

	members, err := r.client.rdb.ZRangeByScore(ctx, r.dispatchKey(), &redis.ZRangeBy{
		Min: lo,
		Max: "+inf",
	}).Result()
	if err != nil {
		return domain.RequestRecord{}, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	rec := domain.RequestRecord{Dispatches: make([]time.Time, 0, len(members))}
	for _, m := range members {
		at, err := parseNanos(m)
		if err != nil {
			return domain.RequestRecord{}, err
		}
		// scores are millisecond precision
		if at.Before(since) {
			continue
		}
		rec.Dispatches = append(rec.Dispatches, at)
	}

	rec.LastRateLimited, err = r.lastRateLimited(ctx)
	if err != nil {
		return domain.RequestRecord{}, err
	}
	return rec, nil
}

// Prune removes dispatches older than before.
func (r *RecordRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	n, err := r.client.rdb.ZRemRangeByScore(ctx, r.dispatchKey(), "-inf", upper).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore failed: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (r *RecordRepo) Close() error {
	return r.client.Close()
}
