package local

import (
	"context"
	"sync"
)

type listener struct {
	ch   chan string
	once sync.Once
}

// Bus is an in-process fan-out pub/sub. Each subscriber gets its own buffer;
// a subscriber that falls behind loses messages instead of stalling Publish.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]map[*listener]struct{}
	bufSize   int
}

// NewBus creates a Bus with the given per-subscriber buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{listeners: make(map[string]map[*listener]struct{}), bufSize: bufSize}
}

// Publish hands payload to every subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel, payload string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners[channel] {
		select {
		case l.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe calls fn for each payload published on channel, one at a time,
// until the returned stop function is called.
func (b *Bus) Subscribe(_ context.Context, channel string, fn func(payload string)) (func(), error) {
	l := &listener{ch: make(chan string, b.bufSize)}
	b.mu.Lock()
	set, ok := b.listeners[channel]
	if !ok {
		set = make(map[*listener]struct{})
		b.listeners[channel] = set
	}
	set[l] = struct{}{}
	b.mu.Unlock()

	go func() {
		for p := range l.ch {
			fn(p)
		}
	}()

	stop := func() {
		l.once.Do(func() {
			b.mu.Lock()
			delete(b.listeners[channel], l)
			if len(b.listeners[channel]) == 0 {
				delete(b.listeners, channel)
			}
			b.mu.Unlock()
			close(l.ch)
		})
	}
	return stop, nil
}
