package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/core/config"
	"github.com/vietddude/snapquiz/internal/infra/storage/memory"
)

type failingRepo struct{ *memory.RecordRepo }

func (failingRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func TestPruner_Prune(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewRecordRepo()
	ctx := context.Background()

	for _, at := range []time.Time{
		now.Add(-3 * time.Hour),
		now.Add(-2 * time.Hour),
		now.Add(-30 * time.Minute),
		now.Add(-time.Second),
	} {
		if err := repo.AppendDispatch(ctx, at); err != nil {
			t.Fatal(err)
		}
	}

	p := NewPruner(config.RetentionConfig{Period: time.Hour}, repo)
	p.clock = clock.NewManual(now)

	if n := p.Prune(ctx); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	rec, err := repo.Load(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Dispatches) != 2 {
		t.Errorf("remaining dispatches = %d, want 2", len(rec.Dispatches))
	}
}

func TestPruner_PruneError(t *testing.T) {
	p := NewPruner(config.RetentionConfig{Period: time.Hour}, failingRepo{memory.NewRecordRepo()})
	if n := p.Prune(context.Background()); n != 0 {
		t.Errorf("Prune() = %d, want 0", n)
	}
}

func TestPruner_StartDisabled(t *testing.T) {
	p := NewPruner(config.RetentionConfig{}, memory.NewRecordRepo())

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return with retention disabled")
	}
}
