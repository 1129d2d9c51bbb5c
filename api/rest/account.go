package rest

import (
	"net/http"

	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/sanitize"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AccountHandler serves profiles, gated by the visibility evaluator.
type AccountHandler struct {
	db       *gorm.DB
	accounts social.AccountDirectory
	eval     *social.Evaluator
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(db *gorm.DB, accounts social.AccountDirectory, eval *social.Evaluator) *AccountHandler {
	return &AccountHandler{db: db, accounts: accounts, eval: eval}
}

// Get handles GET /api/accounts/:username. Anonymous callers are allowed.
func (h *AccountHandler) Get(c *gin.Context) {
	owner, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}
	viewer := mw.GetAccountID(c)
	readable, err := h.eval.CanRead(c.Request.Context(), viewer, owner.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !readable {
		forbidden(c)
		return
	}
	writable, err := h.eval.CanWrite(c.Request.Context(), viewer, owner.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": newProfileView(owner, writable)})
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name" binding:"omitempty,max=64"`
	Email       *string `json:"email" binding:"omitempty,email,max=128"`
	Visibility  *string `json:"visibility"`
}

// Update handles PATCH /api/accounts/:username.
func (h *AccountHandler) Update(c *gin.Context) {
	owner, ok := findAccount(c, h.accounts, c.Param("username"))
	if !ok {
		return
	}
	writable, err := h.eval.CanWrite(c.Request.Context(), mw.GetAccountID(c), owner.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !writable {
		forbidden(c)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		owner.DisplayName = sanitize.Line(*req.DisplayName, 64)
		updates["display_name"] = owner.DisplayName
	}
	if req.Email != nil {
		owner.Email = *req.Email
		updates["email"] = owner.Email
	}
	if req.Visibility != nil {
		vis := model.Visibility(*req.Visibility)
		if !vis.Valid() {
			badRequest(c, "visibility must be private, friends or public")
			return
		}
		owner.Visibility = vis
		updates["visibility"] = vis
	}
	if len(updates) > 0 {
		if err := h.db.WithContext(c.Request.Context()).Model(&model.Account{}).
			Where("id = ?", owner.ID).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"account": newProfileView(owner, true)})
}
