package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backends holds the optional stores. A nil field means the backend is not
// configured and callers fall back to process-local state.
type Backends struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// OpenBackends connects to every backend whose URL is set. Any configured
// backend that cannot be reached is an error; already opened ones are closed.
func OpenBackends(ctx context.Context, databaseURL, redisURL string, logger *slog.Logger) (Backends, error) {
	var b Backends
	var err error

	if databaseURL != "" {
		if b.DB, err = openPostgres(ctx, databaseURL); err != nil {
			return Backends{}, err
		}
	} else {
		logger.Warn("DATABASE_URL not set, journal is kept in memory")
	}

	if redisURL != "" {
		if b.Redis, err = openRedis(ctx, redisURL); err != nil {
			b.Close(logger)
			return Backends{}, err
		}
	} else {
		logger.Warn("REDIS_URL not set, idempotency is disabled and caches are process-local")
	}
	return b, nil
}

// Close releases every open backend.
func (b Backends) Close(logger *slog.Logger) {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Warn("close redis", slog.Any("error", err))
		}
	}
	if b.DB != nil {
		b.DB.Close()
	}
}

func openPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = "inferpay"
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}
	return client, nil
}
