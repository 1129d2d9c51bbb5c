package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/divelog/server/cache"
	"github.com/divelog/server/model"
	"go.uber.org/zap"
)

// MailChannel is the pub/sub channel mail notifications travel on.
const MailChannel = "mail"

type mailEnvelope struct {
	AccountID int64       `json:"account_id"`
	Mail      *model.Mail `json:"mail"`
}

// Relay fans mail notifications out to every node. Publish puts them on the
// bus; each node's Relay delivers what it receives to its own Hub. It
// implements mail.Publisher.
type Relay struct {
	bus    cache.PubSub
	hub    *Hub
	logger *zap.Logger

	mu   sync.Mutex
	stop func()
}

// NewRelay creates a Relay publishing on bus and delivering to hub. Call
// Start before serving.
func NewRelay(bus cache.PubSub, hub *Hub, logger *zap.Logger) *Relay {
	return &Relay{bus: bus, hub: hub, logger: logger}
}

// Start subscribes to MailChannel. Until it is called, Publish reaches no
// sessions, not even local ones.
func (r *Relay) Start(ctx context.Context) error {
	stop, err := r.bus.Subscribe(ctx, MailChannel, r.deliver)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()
	return nil
}

// Stop unsubscribes. Safe to call more than once.
func (r *Relay) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *Relay) deliver(payload string) {
	var env mailEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Mail == nil {
		r.logger.Warn("relay: dropping malformed mail envelope", zap.Error(err))
		return
	}
	r.hub.Publish(env.AccountID, env.Mail)
}

// Publish announces m to accountID's sessions on every node. If the bus is
// unreachable the local Hub is still served.
func (r *Relay) Publish(accountID int64, m *model.Mail) {
	body, err := json.Marshal(mailEnvelope{AccountID: accountID, Mail: m})
	if err != nil {
		r.logger.Warn("relay: encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, MailChannel, string(body)); err != nil {
		r.logger.Warn("relay: publish failed, delivering locally",
			zap.Int64("account_id", accountID), zap.Error(err))
		r.hub.Publish(accountID, m)
	}
}
