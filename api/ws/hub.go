package ws

import (
	"encoding/json"
	"sync"

	"github.com/divelog/server/model"
	"go.uber.org/zap"
)

// Hub tracks live sessions per account and pushes notifications to them.
// It implements mail.Publisher.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Session]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{sessions: make(map[int64]map[*Session]struct{}), logger: logger}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.AccountID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.AccountID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[s.AccountID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.AccountID)
		}
	}
}

// Online returns how many sessions accountID has open.
func (h *Hub) Online(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[accountID])
}

// Publish pushes a "mail" packet to every session of accountID. Offline
// accounts read the outbox later instead.
func (h *Hub) Publish(accountID int64, m *model.Mail) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Warn("ws publish encode failed", zap.Error(err))
		return
	}
	h.Broadcast(accountID, &Packet{Type: "mail", Payload: payload})
}

// Broadcast sends pkt to every session of accountID.
func (h *Hub) Broadcast(accountID int64, pkt *Packet) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[accountID]))
	for s := range h.sessions[accountID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.Send(pkt)
	}
}

// CloseAll closes every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.sessions {
		for s := range set {
			s.Close()
		}
		delete(h.sessions, id)
	}
}
