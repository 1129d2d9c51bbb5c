package cache

import (
	"context"
	"time"

	"github.com/divelog/server/cache/local"
	cacheredis "github.com/divelog/server/cache/redis"
)

// Cache is the key/value store behind login sessions.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

var (
	_ Cache = (*local.SessionStore)(nil)
	_ Cache = (*cacheredis.SessionStore)(nil)
)

// CacheConfig selects and configures the session backend.
type CacheConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string
	LocalGCInterval time.Duration
	LocalMaxEntries int
	LocalBusBuffer  int
}

// NewCache returns a Redis-backed Cache when RedisAddr is set and an
// in-process one otherwise.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
		})
	}
	return local.NewCache(local.Config{
		GCInterval: cfg.LocalGCInterval,
		MaxEntries: cfg.LocalMaxEntries,
	})
}

// SessionKey is the cache key under which a login token is stored.
func SessionKey(token string) string {
	return "session:" + token
}

// PubSub carries payloads to every subscriber of a channel, across nodes when
// Redis backs it.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, fn func(payload string)) (stop func(), err error)
}

var (
	_ PubSub = (*local.Bus)(nil)
	_ PubSub = (*cacheredis.Bus)(nil)
)

// NewPubSub shares c's Redis connection when c is Redis-backed and otherwise
// returns an in-process bus.
func NewPubSub(c Cache, cfg CacheConfig) PubSub {
	if rs, ok := c.(*cacheredis.SessionStore); ok {
		return rs.Bus()
	}
	return local.NewBus(cfg.LocalBusBuffer)
}
