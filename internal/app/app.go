// Package app wires the stockgrid components together. Both binaries build
// exactly one App and pass it down; nothing below it is a package global.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockgrid/internal/adapter/changefeed"
	"github.com/rl1809/stockgrid/internal/adapter/remote"
	"github.com/rl1809/stockgrid/internal/adapter/storage"
	"github.com/rl1809/stockgrid/internal/config"
	"github.com/rl1809/stockgrid/internal/core/domain"
	"github.com/rl1809/stockgrid/internal/core/fallback"
	"github.com/rl1809/stockgrid/internal/core/service"
	"github.com/rl1809/stockgrid/internal/port"
)

const publishTimeout = 5 * time.Second

type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	State      *fallback.State
	Client     *remote.Client
	Cache      port.LocalCache
	Inventory  *service.InventoryService
	Poller     *service.Poller
	Publishers []port.SnapshotPublisher

	mu       sync.Mutex
	detach   []func()
	shutdown bool
}

// New builds every component but performs no remote call; call Init next.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	geo := domain.Geometry{Aisles: cfg.Aisles, Columns: cfg.Columns, Levels: cfg.Levels}
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	cache, err := OpenCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publishers, err := openPublishers(cfg)
	if err != nil {
		cache.Close()
		return nil, err
	}

	state := fallback.New()
	client := remote.NewClient(cfg.RemoteURL, state,
		remote.WithMinInterval(cfg.MinInterval),
		remote.WithBackoff(cfg.Backoff),
		remote.WithMaxRetries(cfg.MaxRetries),
		remote.WithLogger(logger),
	)
	inventory := service.NewInventoryService(remote.NewSheetStore(client), cache, state,
		service.WithResources(cfg.Resources...),
		service.WithGeometry(geo),
		service.WithLogger(logger),
	)
	poller := service.NewPoller(inventory, cfg.PollInterval, logger)
	inventory.SetNotifier(poller)

	return &App{
		Config:     cfg,
		Logger:     logger,
		State:      state,
		Client:     client,
		Cache:      cache,
		Inventory:  inventory,
		Poller:     poller,
		Publishers: publishers,
	}, nil
}

// Init loads the initial item set and attaches the change feed publishers.
func (a *App) Init(ctx context.Context) error {
	if err := a.Inventory.Init(ctx); err != nil {
		return fmt.Errorf("init inventory: %w", err)
	}

	for _, pub := range a.Publishers {
		detach, err := a.Poller.Subscribe(ctx, a.publishFunc(pub))
		if err != nil {
			return fmt.Errorf("attach publisher: %w", err)
		}
		a.mu.Lock()
		a.detach = append(a.detach, detach)
		a.mu.Unlock()
	}

	a.Logger.Info("stockgrid initialized",
		"resource", a.Inventory.Resource(),
		"fallback", a.State.Active(),
		"publishers", len(a.Publishers),
	)
	return nil
}

func (a *App) publishFunc(pub port.SnapshotPublisher) func([]domain.Item) {
	return func(items []domain.Item) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, items); err != nil {
			a.Logger.Warn("changefeed: publish failed", "error", err, "items", len(items))
		}
	}
}

// Shutdown stops polling and releases every connection. It is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	detach := a.detach
	a.detach = nil
	a.mu.Unlock()

	for _, d := range detach {
		d()
	}
	a.Poller.Close()

	var errs []error
	for _, pub := range a.Publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OpenCache connects the configured local cache backend.
func OpenCache(ctx context.Context, cfg *config.Config) (port.LocalCache, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory, "":
		return storage.NewMemoryAdapter(), nil

	case config.BackendSQLite:
		db, err := storage.OpenSQL(ctx, storage.SQLite, storage.SQLiteDSN(cfg.SQLitePath))
		if err != nil {
			return nil, err
		}
		// one writer; WAL still lets readers through
		db.SetMaxOpenConns(1)

		adapter := storage.NewSQLAdapter(db, storage.SQLite, cfg.CacheKey)
		if err := adapter.EnsureSchema(ctx); err != nil {
			adapter.Close()
			return nil, err
		}
		return adapter, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 10,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		return storage.NewRedisAdapter(rdb, cfg.CacheKey), nil

	case config.BackendMySQL, config.BackendPostgres:
		dialect := storage.MySQL
		if cfg.CacheBackend == config.BackendPostgres {
			dialect = storage.Postgres
		}
		db, err := storage.OpenSQL(ctx, dialect, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		adapter := storage.NewSQLAdapter(db, dialect, cfg.CacheKey)
		if err := adapter.EnsureSchema(ctx); err != nil {
			adapter.Close()
			return nil, err
		}
		return adapter, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

func openPublishers(cfg *config.Config) ([]port.SnapshotPublisher, error) {
	var pubs []port.SnapshotPublisher

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := changefeed.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, kp)
	}

	if cfg.AMQPURL != "" {
		ap, err := changefeed.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			for _, p := range pubs {
				p.Close()
			}
			return nil, err
		}
		pubs = append(pubs, ap)
	}

	return pubs, nil
}

// NewLogger builds the process logger from the log level and format settings.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
