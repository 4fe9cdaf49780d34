// Package control wires the pipeline together and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pressly/goose/v3"

	"github.com/rwalabs/chainsync/internal/core/config"
	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/core/retry"
	"github.com/rwalabs/chainsync/internal/infra/chain"
	"github.com/rwalabs/chainsync/internal/infra/chain/evm"
	redisclient "github.com/rwalabs/chainsync/internal/infra/redis"
	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/infra/storage/memory"
	"github.com/rwalabs/chainsync/internal/infra/storage/postgres"
	"github.com/rwalabs/chainsync/internal/ingest/health"
	"github.com/rwalabs/chainsync/internal/ingest/listener"
	"github.com/rwalabs/chainsync/internal/ingest/projector"
	"github.com/rwalabs/chainsync/internal/ingest/queue"
	"github.com/rwalabs/chainsync/internal/ingest/syncer"
)

// replayPollInterval is how often the replay worker drains requests.
const replayPollInterval = 5 * time.Second

// Config holds the application configuration.
type Config struct {
	Port          int
	Chain         config.ChainConfig
	Contracts     []domain.Contract
	Sync          config.SyncConfig
	Queue         config.QueueConfig
	Redis         redisclient.Config
	Database      postgres.Config
	ReplayEnabled bool
}

// App is the assembled pipeline: adapter, queue, projector, scanner, replay
// worker and health server, sharing one storage layer.
type App struct {
	cfg          Config
	adapter      chain.Adapter
	queue        *queue.Queue
	listener     *listener.Listener
	syncer       *syncer.Syncer
	replayWorker *redisclient.ReplayWorker
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *goredis.Client
	log          *slog.Logger
	cancel       context.CancelFunc
}

// memoryPinger stands in for the database health check in memory mode.
type memoryPinger struct{}

func (memoryPinger) Health(ctx context.Context) error { return nil }

// NewApp creates an App with all dependencies initialized. A configured
// database URL selects PostgreSQL with migrations applied at startup;
// otherwise everything runs in memory.
func NewApp(cfg Config) (*App, error) {
	log := slog.Default()
	ctx := context.Background()

	var (
		store   storage.Store
		jobs    storage.JobRepository
		cursors storage.CursorRepository
		db      *postgres.DB
		pinger  health.Pinger = memoryPinger{}
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		store = postgres.NewProjectionStore(db)
		jobs = postgres.NewJobRepo(db)
		cursors = postgres.NewCursorRepo(db)
		pinger = db
		log.Info("using PostgreSQL storage")
	} else {
		store = memory.NewStore()
		jobs = memory.NewJobRepo()
		cursors = memory.NewCursorRepo()
		log.Info("using memory storage")
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BaseDelay,
		Multiplier:  2,
		MaxDelay:    cfg.Queue.MaxDelay,
	}

	adapter, err := evm.NewAdapter(ctx, cfg.Chain.RPCURL, cfg.Chain.WSURL, policy, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init chain adapter: %w", err)
	}

	proj := projector.New(store, log)
	q := queue.New(jobs, proj, policy, cfg.Queue.Workers, cfg.Queue.PollInterval, log)
	lst := listener.New(adapter, q, cfg.Contracts, log)
	scan := syncer.New(adapter, cursors, proj, cfg.Contracts, syncer.Config{
		Interval:           cfg.Sync.Interval,
		WindowSize:         cfg.Sync.WindowSize,
		Lookback:           cfg.Sync.Lookback,
		ConfirmationBlocks: cfg.Chain.ConfirmationBlocks,
	}, log)

	var (
		redisClient  *goredis.Client
		replayWorker *redisclient.ReplayWorker
	)
	if cfg.Redis.URL != "" && cfg.ReplayEnabled {
		redisClient, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to redis, replay disabled", "error", err)
		} else {
			replayQueue := redisclient.NewReplayQueue(redisClient)
			replayWorker = redisclient.NewReplayWorker(replayQueue, jobs, replayPollInterval, log)
			log.Info("dead-letter replay worker initialized")
		}
	}

	monitor := health.NewMonitor(pinger, scan, jobs)
	healthServer := health.NewServer(monitor, cfg.Port)

	return &App{
		cfg:          cfg,
		adapter:      adapter,
		queue:        q,
		listener:     lst,
		syncer:       scan,
		replayWorker: replayWorker,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Start launches every component. Components run until Stop is called.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("health server failed", "error", err)
		}
	}()

	if err := a.queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	if err := a.listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	go a.syncer.Run(ctx)
	if a.replayWorker != nil {
		go a.replayWorker.Run(ctx)
	}

	a.log.Info("pipeline started", "contracts", len(a.cfg.Contracts))
	return nil
}

// Stop shuts the pipeline down: workers drain, connections close, the health
// server stops last.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping pipeline")

	if a.cancel != nil {
		a.cancel()
	}
	a.queue.Wait()
	a.listener.Wait()
	a.adapter.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}

	return a.healthServer.Stop(ctx)
}
