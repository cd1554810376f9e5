package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/snapquiz/internal/core/clock"
	"github.com/vietddude/snapquiz/internal/core/config"
	"github.com/vietddude/snapquiz/internal/infra/storage"
)

// Pruner deletes dispatch history older than the retention period.
type Pruner struct {
	cfg   config.RetentionConfig
	repo  storage.RequestRecordRepository
	clock clock.Clock
	log   *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.RetentionConfig, repo storage.RequestRecordRepository) *Pruner {
	return &Pruner{
		cfg:   cfg,
		repo:  repo,
		clock: clock.Real{},
		log:   slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.Period <= 0 {
		return // Retention disabled
	}

	interval := p.cfg.Interval
	if interval <= 0 {
		interval = min(p.cfg.Period/10, 1*time.Hour)
	}
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune removes one round of expired dispatches and returns how many were
// deleted.
func (p *Pruner) Prune(ctx context.Context) int {
	threshold := p.clock.Now().Add(-p.cfg.Period)

	n, err := p.repo.Prune(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune dispatch history", "before", threshold, "error", err)
		return 0
	}
	if n > 0 {
		p.log.Debug("Pruned dispatch history", "deleted", n, "before", threshold)
	}
	return n
}
