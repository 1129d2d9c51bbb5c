package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/divelog/server/audit"
	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
)

// SocialHandler exposes the friend-request lifecycle and friend listings.
type SocialHandler struct {
	accounts social.AccountDirectory
	life     *social.Lifecycle
	eval     *social.Evaluator
	roster   *social.Roster
	audit    *audit.Service
}

// NewSocialHandler creates a SocialHandler. auditSvc may be nil.
func NewSocialHandler(
	accounts social.AccountDirectory,
	life *social.Lifecycle,
	eval *social.Evaluator,
	roster *social.Roster,
	auditSvc *audit.Service,
) *SocialHandler {
	return &SocialHandler{accounts: accounts, life: life, eval: eval, roster: roster, audit: auditSvc}
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=2048"`
}

type bulkDeleteRequest struct {
	Usernames []string `json:"usernames" binding:"required,max=500"`
}

// ListFriends handles GET /api/accounts/:username/friends?view=friends|incoming|outgoing.
// The friends view follows the owner's visibility; pending requests are only
// shown to the owner and admins.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	view, err := social.ParseFriendsView(c.Query("view"))
	if err != nil {
		respondError(c, err)
		return
	}
	owner, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}
	check := h.eval.CanRead
	if view != social.ViewFriends {
		check = h.eval.CanWrite
	}
	allowed, err := check(c.Request.Context(), mw.GetAccountID(c), owner.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !allowed {
		forbidden(c)
		return
	}
	list, err := h.roster.List(c.Request.Context(), owner.ID, view)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": view.String(), "friends": list})
}

// Request handles POST /api/friends/:username.
func (h *SocialHandler) Request(c *gin.Context) {
	start := time.Now()
	me, ok := caller(c, h.accounts)
	if !ok {
		return
	}
	target, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}
	rel, err := h.life.RequestFriendship(c.Request.Context(), me.ID, target.ID, me.Role)
	h.record(c, "friend.request", me.ID, target.ID, nil, rel, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"relationship": rel})
}

// Approve handles POST /api/friends/requests/:username/approve, where
// :username sent the request to the caller.
func (h *SocialHandler) Approve(c *gin.Context) {
	h.evaluate(c, "friend.approve", h.life.ApproveRequest)
}

// Reject handles POST /api/friends/requests/:username/reject.
func (h *SocialHandler) Reject(c *gin.Context) {
	h.evaluate(c, "friend.reject", h.life.RejectRequest)
}

type evaluateFn func(ctx context.Context, callerID int64, edge *model.Relationship, reason string) (*model.Relationship, error)

func (h *SocialHandler) evaluate(c *gin.Context, action string, fn evaluateFn) {
	start := time.Now()
	me, ok := caller(c, h.accounts)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	requester, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	edge, err := h.life.FindRequest(ctx, requester.ID, me.ID)
	var rel *model.Relationship
	if err == nil {
		rel, err = fn(ctx, me.ID, edge, req.Reason)
	}
	h.record(c, action, me.ID, requester.ID, req, rel, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

// Delete handles DELETE /api/friends/:username. Only the caller's own edge
// towards :username is removed.
func (h *SocialHandler) Delete(c *gin.Context) {
	start := time.Now()
	me, ok := caller(c, h.accounts)
	if !ok {
		return
	}
	target, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}
	err := h.life.DeleteFriendship(c.Request.Context(), me.ID, target.ID)
	h.record(c, "friend.delete", me.ID, target.ID, nil, nil, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// BulkDelete handles POST /api/friends/delete. Unknown usernames are skipped.
func (h *SocialHandler) BulkDelete(c *gin.Context) {
	start := time.Now()
	me, ok := caller(c, h.accounts)
	if !ok {
		return
	}
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	ids := make([]int64, 0, len(req.Usernames))
	for _, name := range req.Usernames {
		acc, err := h.accounts.FindAccountByUsername(ctx, name)
		if err != nil {
			respondError(c, err)
			return
		}
		if acc != nil {
			ids = append(ids, acc.ID)
		}
	}
	err := h.life.BulkDelete(ctx, me.ID, ids)
	h.record(c, "friend.bulk_delete", me.ID, 0, req, gin.H{"deleted": len(ids)}, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(ids)})
}

func (h *SocialHandler) record(c *gin.Context, action string, actorID, targetID int64, req, resp interface{}, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		ActorID:    &actorID,
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if targetID != 0 {
		entry.TargetID = &targetID
	}
	if err != nil {
		entry.Error = err.Error()
		entry.Response = nil
	}
	h.audit.Log(entry)
}
