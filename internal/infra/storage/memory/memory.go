package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/storage"
)

var _ storage.RequestRecordRepository = (*RecordRepo)(nil)

// RecordRepo keeps the request record in process memory.
type RecordRepo struct {
	mu              sync.RWMutex
	dispatches      []time.Time
	lastRateLimited time.Time
}

func NewRecordRepo() *RecordRepo {
	return &RecordRepo{}
}

func (r *RecordRepo) AppendDispatch(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// keep sorted; appends are almost always in order
	i := sort.Search(len(r.dispatches), func(i int) bool { return r.dispatches[i].After(at) })
	r.dispatches = append(r.dispatches, time.Time{})
	copy(r.dispatches[i+1:], r.dispatches[i:])
	r.dispatches[i] = at
	return nil
}

func (r *RecordRepo) SetLastRateLimited(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.After(r.lastRateLimited) {
		r.lastRateLimited = at
	}
	return nil
}

func (r *RecordRepo) Load(ctx context.Context, since time.Time) (domain.RequestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.dispatches), func(i int) bool { return !r.dispatches[i].Before(since) })
	out := make([]time.Time, len(r.dispatches)-i)
	copy(out, r.dispatches[i:])

	return domain.RequestRecord{
		Dispatches:      out,
		LastRateLimited: r.lastRateLimited,
	}, nil
}

func (r *RecordRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.dispatches), func(i int) bool { return !r.dispatches[i].Before(before) })
	if i == 0 {
		return 0, nil
	}
	r.dispatches = append(r.dispatches[:0], r.dispatches[i:]...)
	return i, nil
}

func (r *RecordRepo) Close() error { return nil }
