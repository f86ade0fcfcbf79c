package infra

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sahl-financial/sahl_api/internal/config"
)

// Stores holds the optional backing stores. A nil field means the in-memory
// fallback is in use.
type Stores struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Open connects to every store that has a URL configured.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Stores, error) {
	var s Stores
	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return Stores{}, err
		}
		s.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory journal and client registry")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			s.Close(logger)
			return Stores{}, err
		}
		s.Cache = cache
	} else {
		logger.Warn("REDIS_URL not set, rate limiting in process and idempotent replay disabled")
	}
	return s, nil
}

// Close releases every open store.
func (s Stores) Close(logger *slog.Logger) {
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
