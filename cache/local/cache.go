package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds SessionStore settings. MaxEntries <= 0 means unbounded.
type Config struct {
	GCInterval time.Duration
	MaxEntries int
}

// ErrFull is returned by Set when MaxEntries live keys are already stored.
var ErrFull = errors.New("cache: store is full")

type session struct {
	value    string
	deadline time.Time // zero: never expires
}

func (s session) live(now time.Time) bool {
	return s.deadline.IsZero() || now.Before(s.deadline)
}

// SessionStore keeps login sessions in process memory. It serves single-node
// deployments and tests; sessions do not survive a restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]session
	max      int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCache creates a SessionStore and starts sweeping expired sessions.
func NewCache(cfg Config) (*SessionStore, error) {
	every := cfg.GCInterval
	if every <= 0 {
		every = 30 * time.Second
	}
	s := &SessionStore{
		sessions: make(map[string]session),
		max:      cfg.MaxEntries,
		stop:     make(chan struct{}),
	}
	go s.sweepEvery(every)
	return s, nil
}

// Close stops the sweeper. Stored sessions remain readable.
func (s *SessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *SessionStore) sweepEvery(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			s.sweep(now)
		case <-s.stop:
			return
		}
	}
}

// sweep drops expired sessions and returns how many were removed.
func (s *SessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *SessionStore) sweepLocked(now time.Time) int {
	n := 0
	for k, v := range s.sessions {
		if !v.live(now) {
			delete(s.sessions, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired ones included until the
// next sweep.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) Ping(context.Context) error { return nil }

func (s *SessionStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	v, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok || !v.live(time.Now()) {
		return "", ErrNotFound
	}
	return v.value, nil
}

// Set stores value; ttl <= 0 means no expiry.
func (s *SessionStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	v := session{value: value}
	if ttl > 0 {
		v.deadline = time.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[key]; !exists && s.max > 0 && len(s.sessions) >= s.max {
		if s.sweepLocked(time.Now()) == 0 {
			return ErrFull
		}
	}
	s.sessions[key] = v
	return nil
}

func (s *SessionStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.sessions, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	return err == nil, nil
}
