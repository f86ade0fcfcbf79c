package infra

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sahl-financial/sahl_api/internal/config"
	"github.com/sahl-financial/sahl_api/internal/logging"
)

func TestOpenWithoutURLsUsesFallbacks(t *testing.T) {
	s, err := Open(context.Background(), config.Config{}, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.DB != nil || s.Cache != nil {
		t.Fatalf("expected no stores")
	}
	s.Close(logging.Discard())
}

func TestOpenConnectsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), config.Config{RedisURL: "redis://" + mr.Addr()}, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(logging.Discard())
	if s.Cache == nil {
		t.Fatalf("expected redis client")
	}
	if err := s.Cache.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestNewRedisClientErrors(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "", 0); err == nil {
		t.Fatalf("expected missing url error")
	}
	if _, err := NewRedisClient(context.Background(), "http://not-redis", 0); err == nil {
		t.Fatalf("expected parse error")
	}
	mr := miniredis.RunT(t)
	mr.SetError("LOADING")
	if _, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(), 0); err == nil {
		t.Fatalf("expected ping error")
	}
	if _, err := NewPostgresPool(context.Background(), "", "sahl"); err == nil {
		t.Fatalf("expected missing database url error")
	}
}

func TestNewRedisClientPoolSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisClient(ctx, "redis://"+mr.Addr(), 7)
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	defer cache.Close()
	opt := cache.Options()
	if opt.PoolSize != 7 {
		t.Fatalf("expected pool size 7, got %d", opt.PoolSize)
	}
	if opt.ReadTimeout != redisCommandTimeout || opt.WriteTimeout != redisCommandTimeout {
		t.Fatalf("expected command timeouts %s, got %s/%s", redisCommandTimeout, opt.ReadTimeout, opt.WriteTimeout)
	}
	if opt.DialTimeout != pingTimeout || opt.PoolTimeout != redisPoolTimeout {
		t.Fatalf("unexpected dial/pool timeouts %s/%s", opt.DialTimeout, opt.PoolTimeout)
	}

	fromURL, err := NewRedisClient(ctx, "redis://"+mr.Addr()+"?pool_size=3&read_timeout=500ms", 7)
	if err != nil {
		t.Fatalf("new redis client with query: %v", err)
	}
	defer fromURL.Close()
	if got := fromURL.Options(); got.PoolSize != 3 || got.ReadTimeout != 500*time.Millisecond {
		t.Fatalf("expected URL options to win, got pool %d read %s", got.PoolSize, got.ReadTimeout)
	}
}
