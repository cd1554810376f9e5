package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/snapquiz/internal/api"
	"github.com/vietddude/snapquiz/internal/core/config"
	"github.com/vietddude/snapquiz/internal/core/worker"
	redisclient "github.com/vietddude/snapquiz/internal/infra/redis"
	"github.com/vietddude/snapquiz/internal/infra/rpc/lane"
	"github.com/vietddude/snapquiz/internal/infra/rpc/provider"
	"github.com/vietddude/snapquiz/internal/infra/storage"
	"github.com/vietddude/snapquiz/internal/infra/storage/memory"
	"github.com/vietddude/snapquiz/internal/infra/storage/postgres"
	"github.com/vietddude/snapquiz/internal/quiz/generation"
	"github.com/vietddude/snapquiz/internal/quiz/health"
	"github.com/vietddude/snapquiz/internal/quiz/session"
)

// App is the main application struct that owns every long-lived component.
type App struct {
	cfg       config.AppConfig
	repo      storage.RequestRecordRepository
	db        *postgres.DB
	model     provider.Model
	monitor   *health.Monitor
	lane      *lane.Orchestrator
	generator *generation.Generator
	registry  *api.Registry
	server    *api.Server
	pruner    *worker.Pruner
	log       *slog.Logger
}

// Option configures an App.
type Option func(*options)

type options struct {
	model provider.Model
	repo  storage.RequestRecordRepository
}

// WithModel replaces the Gemini client.
func WithModel(m provider.Model) Option {
	return func(o *options) { o.model = m }
}

// WithRepository replaces the repository chosen from the config.
func WithRepository(r storage.RequestRecordRepository) Option {
	return func(o *options) { o.repo = r }
}

// NewApp creates a new App instance with all dependencies initialized.
func NewApp(ctx context.Context, cfg config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: slog.Default().With("component", "app")}

	// 1. Storage
	if o.repo != nil {
		a.repo = o.repo
	} else {
		repo, db, err := OpenRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.repo, a.db = repo, db
	}

	// 2. Model
	a.model = o.model
	if a.model == nil {
		gemini, err := provider.NewGemini(cfg.Gemini)
		if err != nil {
			_ = a.repo.Close()
			return nil, fmt.Errorf("failed to init gemini: %w", err)
		}
		a.model = gemini
	}

	// 3. Health monitor and request lane; each one observes the other
	a.monitor = health.NewMonitor(cfg.Health,
		health.WithRepository(a.repo),
		health.WithPending(func() int { return a.lane.Pending() }),
	)
	a.lane = lane.New(cfg.Lane, lane.WithRecorder(a.monitor))
	a.generator = generation.NewGenerator(a.model, a.lane)

	// 4. Sessions and HTTP
	a.registry = api.NewRegistry(a.NewSession, cfg.Server.SessionTTL)
	a.server = api.NewServer(api.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, a.registry, a.monitor)

	a.pruner = worker.NewPruner(cfg.Retention, a.repo)

	return a, nil
}

// OpenRepository picks PostgreSQL, then Redis, then process memory.
func OpenRepository(ctx context.Context, cfg config.AppConfig) (storage.RequestRecordRepository, *postgres.DB, error) {
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return postgres.NewRecordRepo(db), db, nil
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis storage")
		return redisclient.NewRecordRepo(client, cfg.Redis.KeyPrefix), nil, nil
	}

	slog.Info("Using Memory storage")
	return memory.NewRecordRepo(), nil, nil
}

// NewSession creates a session wired to the shared generator and monitor.
func (a *App) NewSession(id string) *session.Session {
	return session.New(id, a.generator,
		session.WithCooldown(a.monitor),
		session.WithConfig(a.cfg.Session),
	)
}

// Monitor returns the health monitor.
func (a *App) Monitor() *health.Monitor { return a.monitor }

// Registry returns the session registry.
func (a *App) Registry() *api.Registry { return a.registry }

// Start restores the request record and starts the background components.
// It does not start the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.monitor.Restore(ctx); err != nil {
		// a cold record only costs accuracy of the first status reports
		a.log.Warn("Failed to restore request record", "error", err)
	}

	a.lane.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go a.registry.Start(ctx)
	go a.pruner.Start(ctx)
	go a.runStatsLogger(ctx)

	return nil
}

// Serve starts the app and the HTTP server and blocks until ctx is done or
// the server fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the lane and releases storage.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping snapquiz...")

	a.lane.Stop()

	if err := a.repo.Close(); err != nil {
		a.log.Warn("Failed to close storage", "error", err)
	}
	return nil
}

func (a *App) runStatsLogger(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.model.Stats()
			if st.Requests == 0 {
				continue
			}
			a.log.Debug("Model stats",
				"model", a.model.Name(),
				"requests", st.Requests,
				"error_rate", st.ErrorRate,
				"avg_latency", st.AvgLatency,
				"sessions", a.registry.Len(),
			)
		}
	}
}
