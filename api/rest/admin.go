package rest

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/divelog/server/audit"
	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/report"
	"github.com/divelog/server/scheduler"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler handles admin-only REST endpoints.
// Routes must be protected by middleware.Auth and middleware.RequireAdmin.
type AdminHandler struct {
	db       *gorm.DB
	accounts social.AccountDirectory
	store    social.Store
	life     *social.Lifecycle
	repairer *social.Repairer
	sched    *scheduler.Scheduler
	audit    *audit.Service
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	accounts social.AccountDirectory,
	store social.Store,
	life *social.Lifecycle,
	repairer *social.Repairer,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		db:       db,
		accounts: accounts,
		store:    store,
		life:     life,
		repairer: repairer,
		sched:    sched,
		audit:    auditSvc,
		logger:   logger,
	}
}

// LinkFriends makes two accounts friends immediately, replacing any edges
// between them.
// POST /api/admin/friends/link
func (h *AdminHandler) LinkFriends(c *gin.Context) {
	var req struct {
		A      string `json:"a" binding:"required"`
		B      string `json:"b" binding:"required"`
		Reason string `json:"reason" binding:"max=2048"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	a, ok := findAccount(c, h.accounts, req.A)
	if !ok {
		return
	}
	b, ok := findAccount(c, h.accounts, req.B)
	if !ok {
		return
	}
	pair, err := h.life.LinkFriends(c.Request.Context(), a.ID, b.ID, req.Reason)
	if h.audit != nil {
		actor := mw.GetAccountID(c)
		entry := audit.Entry{
			TraceID:  mw.GetTraceID(c),
			ActorID:  &actor,
			TargetID: &a.ID,
			Action:   "admin.friends_link",
			Request:  req,
			IP:       c.ClientIP(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		h.audit.Log(entry)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": pair})
}

// Repair finishes half-applied approvals right away instead of waiting for the
// scheduled pass.
// POST /api/admin/relationships/repair
func (h *AdminHandler) Repair(c *gin.Context) {
	var fixed int
	err := h.sched.RunNow(c.Request.Context(), social.RepairTaskName, func(ctx context.Context) error {
		n, err := h.repairer.Run(ctx)
		fixed = n
		return err
	})
	if err != nil {
		h.logger.Warn("manual repair failed", zap.Int("fixed", fixed), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fixed": fixed})
}

// ExportRelationships downloads every edge as an xlsx workbook.
// GET /api/admin/relationships/export
func (h *AdminHandler) ExportRelationships(c *gin.Context) {
	ctx := c.Request.Context()
	rels, err := h.store.All(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(rels))
	for _, rel := range rels {
		for _, id := range []int64{rel.SubjectID, rel.ObjectID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	accs, err := h.accounts.FindAccountsByID(ctx, ids)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteRelationships(&buf, rels, accs); err != nil {
		h.logger.Error("relationship export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="relationships.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// BanAccount bans or unbans an account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Ban && accountID == mw.GetAccountID(c) {
		badRequest(c, "cannot ban yourself")
		return
	}

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.WithContext(c.Request.Context()).
		Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		accountNotFound(c)
		return
	}
	h.logger.Info("account status changed", zap.Int64("account_id", accountID), zap.Int("status", status))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// SetRole grants or revokes the admin role.
// PUT /api/admin/accounts/:id/role
func (h *AdminHandler) SetRole(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req struct {
		Role model.Role `json:"role" binding:"required,oneof=user admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	result := h.db.WithContext(c.Request.Context()).
		Model(&model.Account{}).Where("id = ?", accountID).Update("role", req.Role)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		accountNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "role": req.Role})
}

// ListSchedulerTasks reports every ticker task and its last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}

// ListAudit returns recent audit entries, optionally for one account.
// GET /api/admin/audit?account_id=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.AuditLog{}})
		return
	}
	accountID, _ := strconv.ParseInt(c.Query("account_id"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.audit.Recent(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}
