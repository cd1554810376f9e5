package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRecordRepo_LoadAndPrune(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewRecordRepo()

	// out of order on purpose
	for _, offset := range []int{0, 30, 10, 50, 20} {
		if err := repo.AppendDispatch(ctx, base.Add(time.Duration(offset)*time.Second)); err != nil {
			t.Fatalf("AppendDispatch() error = %v", err)
		}
	}
	_ = repo.SetLastRateLimited(ctx, base.Add(40*time.Second))
	_ = repo.SetLastRateLimited(ctx, base.Add(5*time.Second)) // older, ignored

	rec, err := repo.Load(ctx, base.Add(15*time.Second))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []time.Time{base.Add(20 * time.Second), base.Add(30 * time.Second), base.Add(50 * time.Second)}
	if diff := cmp.Diff(want, rec.Dispatches); diff != "" {
		t.Errorf("Load() dispatches mismatch (-want +got):\n%s", diff)
	}
	if !rec.LastRateLimited.Equal(base.Add(40 * time.Second)) {
		t.Errorf("LastRateLimited = %v, want %v", rec.LastRateLimited, base.Add(40*time.Second))
	}

	n, err := repo.Prune(ctx, base.Add(25*time.Second))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() = %d, want 3", n)
	}

	rec, _ = repo.Load(ctx, time.Time{})
	if len(rec.Dispatches) != 2 {
		t.Errorf("dispatches after prune = %d, want 2", len(rec.Dispatches))
	}
}
