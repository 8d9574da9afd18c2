package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cfd-ledger/internal/config"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/retry"
	"github.com/cfd-ledger/internal/types"
)

// connectRetryConfig retries startup connections: 1s, 2s, 4s, 8s
func connectRetryConfig() *retry.RetryConfig {
	cfg := retry.DefaultRetryConfig()
	cfg.MaxDelay = 8 * time.Second
	return cfg
}

// OpenLedger opens the configured ledger backend. The returned close function releases it.
func OpenLedger(ctx context.Context, cfg *config.Config) (Ledger, func(), error) {
	logger := logging.FromContext(ctx).WithField("store", string(cfg.Sale.Store))

	switch cfg.Sale.Store {
	case types.StoreMemory:
		logger.Warn("Using in-memory ledger; records are lost on restart")
		return NewMemoryLedger(), func() {}, nil

	case types.StorePostgres:
		var db *PostgresDB
		err := retry.Do(ctx, connectRetryConfig(), func(ctx context.Context, attempt int) error {
			var err error
			db, err = NewPostgresDB(ctx, &cfg.Database.Postgres)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		logger.Info("Connected to Postgres ledger")
		return NewPostgresLedger(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %q", cfg.Sale.Store)
	}
}

// OpenRedis connects to Redis for the status cache and the RPC budget.
// It returns nil when Redis is disabled or unreachable; the sale works without it.
func OpenRedis(ctx context.Context, cfg *config.Config) (*RedisCache, func()) {
	logger := logging.FromContext(ctx)
	if !cfg.Database.Redis.Enabled {
		logger.Info("Redis disabled; sale status is read from the ledger on every request")
		return nil, func() {}
	}

	retryConfig := connectRetryConfig()
	retryConfig.MaxAttempts = 3

	var cache *RedisCache
	err := retry.Do(ctx, retryConfig, func(ctx context.Context, attempt int) error {
		var err error
		cache, err = NewRedisCache(ctx, &cfg.Database.Redis)
		return err
	})
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable; continuing without status cache")
		return nil, func() {}
	}

	return cache, func() { cache.Close() }
}
