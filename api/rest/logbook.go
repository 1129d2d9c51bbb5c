package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/sanitize"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxNotesLen = 4000

// LogbookHandler serves an account's dive logs.
type LogbookHandler struct {
	db       *gorm.DB
	accounts social.AccountDirectory
	eval     *social.Evaluator
}

// NewLogbookHandler creates a LogbookHandler.
func NewLogbookHandler(db *gorm.DB, accounts social.AccountDirectory, eval *social.Evaluator) *LogbookHandler {
	return &LogbookHandler{db: db, accounts: accounts, eval: eval}
}

type diveLogRequest struct {
	Site        string    `json:"site" binding:"required,max=128"`
	DivedAt     time.Time `json:"dived_at" binding:"required"`
	MaxDepthM   float64   `json:"max_depth_m" binding:"gte=0,lte=350"`
	DurationMin int       `json:"duration_min" binding:"gte=0,lte=1440"`
	Notes       string    `json:"notes"`
}

func (r diveLogRequest) apply(log *model.DiveLog) {
	log.Site = sanitize.Line(r.Site, 128)
	log.DivedAt = r.DivedAt.UTC()
	log.MaxDepthM = r.MaxDepthM
	log.DurationMin = r.DurationMin
	log.Notes = sanitize.Text(r.Notes, maxNotesLen)
}

// owner resolves :username and checks the caller's access to it.
func (h *LogbookHandler) owner(c *gin.Context, write bool) (*model.Account, bool) {
	owner, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return nil, false
	}
	check := h.eval.CanRead
	if write {
		check = h.eval.CanWrite
	}
	allowed, err := check(c.Request.Context(), mw.GetAccountID(c), owner.ID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !allowed {
		forbidden(c)
		return nil, false
	}
	return owner, true
}

// List handles GET /api/accounts/:username/logs.
func (h *LogbookHandler) List(c *gin.Context) {
	owner, ok := h.owner(c, false)
	if !ok {
		return
	}
	var logs []model.DiveLog
	if err := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", owner.ID).
		Order("dived_at DESC, id DESC").
		Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Create handles POST /api/accounts/:username/logs.
func (h *LogbookHandler) Create(c *gin.Context) {
	owner, ok := h.owner(c, true)
	if !ok {
		return
	}
	var req diveLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	log := model.DiveLog{OwnerID: owner.ID}
	req.apply(&log)
	if err := h.db.WithContext(c.Request.Context()).Create(&log).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"log": log})
}

// Update handles PUT /api/accounts/:username/logs/:log_id.
func (h *LogbookHandler) Update(c *gin.Context) {
	owner, ok := h.owner(c, true)
	if !ok {
		return
	}
	log, ok := h.find(c, owner.ID)
	if !ok {
		return
	}
	var req diveLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.apply(log)
	if err := h.db.WithContext(c.Request.Context()).Save(log).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": log})
}

// Delete handles DELETE /api/accounts/:username/logs/:log_id.
func (h *LogbookHandler) Delete(c *gin.Context) {
	owner, ok := h.owner(c, true)
	if !ok {
		return
	}
	log, ok := h.find(c, owner.ID)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Delete(log).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *LogbookHandler) find(c *gin.Context, ownerID int64) (*model.DiveLog, bool) {
	id, err := strconv.ParseInt(c.Param("log_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid log id")
		return nil, false
	}
	var log model.DiveLog
	err = h.db.WithContext(c.Request.Context()).
		Where("id = ? AND owner_id = ?", id, ownerID).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "log not found", "code": social.KindNotFound.String()})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return &log, true
}
