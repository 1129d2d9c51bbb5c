package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

const defaultPrefix = "divelog:"

// Config holds Redis connection settings. Prefix namespaces every key so
// several deployments can share one Redis database.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// SessionStore keeps login sessions in Redis.
type SessionStore struct {
	client *goredis.Client
	prefix string
}

// NewCache connects to Redis and pings it once before returning.
func NewCache(cfg Config) (*SessionStore, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})
	s := &SessionStore{client: client, prefix: prefix}

	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) key(k string) string { return s.prefix + k }

// Ping reports whether Redis answers.
func (s *SessionStore) Ping(ctx context.Context) error {
	return errors.Wrapf(s.client.Ping(ctx).Err(), "redis ping %s", s.client.Options().Addr)
}

// Close releases the underlying connection pool.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, errors.Wrap(err, "redis get")
}

func (s *SessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrap(s.client.Set(ctx, s.key(key), value, ttl).Err(), "redis set")
}

func (s *SessionStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return errors.Wrap(s.client.Del(ctx, full...).Err(), "redis del")
}

func (s *SessionStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

// Bus returns a pub/sub view sharing this store's connection pool and key
// prefix.
func (s *SessionStore) Bus() *Bus {
	return &Bus{client: s.client, prefix: s.prefix}
}

// Bus relays payloads between server nodes over Redis pub/sub.
type Bus struct {
	client *goredis.Client
	prefix string
}

func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	return errors.Wrap(b.client.Publish(ctx, b.prefix+channel, payload).Err(), "redis publish")
}

// Subscribe confirms the subscription with Redis before returning, then calls
// fn for each payload until stop is called.
func (b *Bus) Subscribe(ctx context.Context, channel string, fn func(payload string)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.prefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}
	msgs := ps.Channel()
	go func() {
		for m := range msgs {
			fn(m.Payload)
		}
	}()
	return func() { _ = ps.Close() }, nil
}
