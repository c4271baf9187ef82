// Package bootstrap opens the infrastructure shared by the server and the
// worker: the document store, its change feed and the notification path.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/config"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/pkg/changefeed"
	"github.com/campus-talks/backend/pkg/database"
	"github.com/campus-talks/backend/pkg/docstore"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
	"github.com/campus-talks/backend/pkg/docstore/pgstore"
	"github.com/campus-talks/backend/pkg/docstore/sqlitestore"
	"github.com/campus-talks/backend/pkg/queue"
	"github.com/campus-talks/backend/pkg/redis"
)

// Infra is the opened infrastructure. Redis and Queue are nil when REDIS_ADDR
// is empty.
type Infra struct {
	Store  docstore.Store
	Redis  *redis.Client
	Queue  *queue.Queue
	closer []func()
}

// Open connects the configured store. Postgres and SQLite stores need Redis
// for Watch; the memory store serves Watch itself.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	infra := &Infra{}

	var feed docstore.Feed
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, err
		}
		infra.Redis = rdb
		infra.closer = append(infra.closer, func() { _ = rdb.Close() })
		feed = changefeed.NewRedis(rdb.Client, logger)
		infra.Queue = queue.NewQueue(rdb.Client, cfg.Jobs.NotifyQueue, logger)
	} else if cfg.Store.Driver != config.StoreDriverMemory {
		logger.Warn("REDIS_ADDR is empty; live updates and the counter reconciler are disabled")
	}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		infra.closer = append(infra.closer, pool.Close)
		if err := database.Migrate(ctx, pool, logger); err != nil {
			infra.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		infra.Store = pgstore.New(pool, feed, logger)
	case config.StoreDriverSQLite:
		s, err := sqlitestore.Open(ctx, cfg.Store.SQLitePath, feed, logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.closer = append(infra.closer, func() { _ = s.Close() })
		infra.Store = s
	case config.StoreDriverMemory:
		infra.Store = memstore.New()
	default:
		infra.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	logger.Info("document store ready", zap.String("driver", cfg.Store.Driver))
	return infra, nil
}

// Notifier returns the queue notifier when Redis is configured, otherwise a
// log notifier.
func (i *Infra) Notifier(logger *zap.Logger) notify.Notifier {
	if i.Queue != nil {
		return notify.NewQueueNotifier(i.Queue)
	}
	return notify.NewLogNotifier(logger)
}

// Close releases everything Open acquired, newest first.
func (i *Infra) Close() {
	for n := len(i.closer) - 1; n >= 0; n-- {
		i.closer[n]()
	}
	i.closer = nil
}
