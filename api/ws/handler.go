// Package ws pushes account notifications over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	mw "github.com/divelog/server/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler is the gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. sec.AllowedOrigins limits the accepted
// Origin headers; an empty list accepts any origin.
func NewHandler(c cache.Cache, sec config.SecurityConfig, hub *Hub, logger *zap.Logger) *Handler {
	allowed := sec.AllowedOrigins
	return &Handler{
		cache:  c,
		sec:    sec,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowed {
					if o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, cache.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	s := newSession(claims.AccountID, conn, h.logger)
	h.hub.register(s)
	h.logger.Debug("ws connected", zap.Int64("account_id", s.AccountID))
	h.readPump(s)
}

// readPump blocks until the connection drops. Clients only send pings.
func (h *Handler) readPump(s *Session) {
	defer func() {
		h.hub.unregister(s)
		s.Close()
		h.logger.Debug("ws disconnected", zap.Int64("account_id", s.AccountID))
	}()

	s.setReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.setReadDeadline()
		return nil
	})
	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.Int64("account_id", s.AccountID), zap.Error(err))
			}
			return
		}
		s.setReadDeadline()

		var pkt Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			continue
		}
		if pkt.Type == "ping" {
			s.Send(&Packet{Type: "pong"})
		}
	}
}
