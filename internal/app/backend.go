// internal/app/backend.go

// Package app wires storage backends, services and the HTTP surface together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"lendingledger/internal/catalog"
	"lendingledger/internal/catalog/redisstore"
	"lendingledger/internal/catalog/sqlstore"
	"lendingledger/internal/clock"
	"lendingledger/internal/httpapi"
	"lendingledger/internal/lending"
	"lendingledger/internal/membership"
	"lendingledger/internal/platform/config"
	"lendingledger/internal/platform/storage"
)

// Backend is the book store and user directory of one storage technology.
type Backend struct {
	Name      string
	Store     catalog.Store
	Directory membership.Directory
	closeFn   func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// MemoryBackend keeps everything in process.
func MemoryBackend() *Backend {
	return &Backend{
		Name:      config.StoreMemory,
		Store:     catalog.NewMemoryStore(),
		Directory: membership.NewMemoryDirectory(),
	}
}

// OpenBackend connects to the backend cfg.Store names and applies migrations where needed.
func OpenBackend(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return MemoryBackend(), nil

	case config.StorePostgres:
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return sqlBackend(cfg.Store, db), nil

	case config.StoreSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlBackend(cfg.Store, db), nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return &Backend{
			Name:      cfg.Store,
			Store:     redisstore.New(rdb, redisstore.WithPrefix(cfg.RedisPrefix)),
			Directory: membership.NewRedisDirectory(rdb, cfg.RedisPrefix),
			closeFn:   rdb.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func sqlBackend(name string, db *storage.DB) *Backend {
	return &Backend{
		Name:      name,
		Store:     sqlstore.New(db),
		Directory: membership.NewSQLDirectory(db),
		closeFn:   db.Close,
	}
}

// Services builds the catalog, membership and lending services over b.
func (b *Backend) Services(cfg config.Config, c clock.Clock, logger *slog.Logger) (httpapi.Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	guard, err := catalog.NewGuard(b.Store,
		catalog.WithMaxAttempts(cfg.CommitMaxAttempts),
		catalog.WithBaseDelay(cfg.CommitBaseDelay),
		catalog.WithLogger(logger),
	)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("create guard: %w", err)
	}

	lendingSvc, err := lending.NewService(b.Store, guard, b.Directory, membership.NewWindow(c), logger)
	if err != nil {
		return httpapi.Services{}, err
	}

	return httpapi.Services{
		Catalog:    catalog.NewService(b.Store, guard, logger),
		Membership: membership.NewService(b.Directory, logger),
		Lending:    lendingSvc,
	}, nil
}
