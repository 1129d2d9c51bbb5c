package rest

import (
	"net/http"

	"github.com/divelog/server/mail"
	mw "github.com/divelog/server/middleware"
	"github.com/gin-gonic/gin"
)

// MailHandler exposes the caller's notification outbox.
type MailHandler struct {
	outbox *mail.Outbox
}

// NewMailHandler creates a MailHandler.
func NewMailHandler(outbox *mail.Outbox) *MailHandler {
	return &MailHandler{outbox: outbox}
}

// List returns the caller's newest notifications.
// GET /api/mail
func (h *MailHandler) List(c *gin.Context) {
	mails, err := h.outbox.List(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mails": mails})
}

// MarkRead stamps the given notifications as delivered.
// POST /api/mail/read
func (h *MailHandler) MarkRead(c *gin.Context) {
	var req struct {
		IDs []int64 `json:"ids" binding:"required,max=200"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.outbox.MarkSent(c.Request.Context(), mw.GetAccountID(c), req.IDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
