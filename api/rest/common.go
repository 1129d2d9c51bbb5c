package rest

import (
	"errors"
	"net/http"
	"time"

	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind social.Kind) int {
	switch kind {
	case social.KindInvalidOperation:
		return http.StatusBadRequest
	case social.KindConflict:
		return http.StatusConflict
	case social.KindLimitExceeded, social.KindForbidden:
		return http.StatusForbidden
	case social.KindNotFound:
		return http.StatusNotFound
	case social.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ..., "code": ...}. Unclassified errors
// are reported as a bare 500 without their message.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := social.KindOf(err)
	msg := "internal error"
	var se *social.Error
	if kind != social.KindUnknown && errors.As(err, &se) && se.Msg != "" {
		msg = se.Msg
	}
	if kind == social.KindUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(statusFor(kind), gin.H{"error": msg, "code": kind.String()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": social.KindInvalidOperation.String()})
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": social.KindForbidden.String()})
}

func accountNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "account not found", "code": social.KindNotFound.String()})
}

// findAccount resolves a username, answering 404 itself when absent.
func findAccount(c *gin.Context, accounts social.AccountDirectory, username string) (*model.Account, bool) {
	acc, err := accounts.FindAccountByUsername(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if acc == nil {
		accountNotFound(c)
		return nil, false
	}
	return acc, true
}

// caller loads the authenticated account. Banned accounts are refused even if
// their session is still live.
func caller(c *gin.Context, accounts social.AccountDirectory) (*model.Account, bool) {
	acc, err := accounts.FindAccountByID(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if acc == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	if acc.Status == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned", "code": social.KindForbidden.String()})
		return nil, false
	}
	return acc, true
}

// profileView is the public shape of an account.
type profileView struct {
	ID          int64            `json:"id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Visibility  model.Visibility `json:"visibility"`
	Role        model.Role       `json:"role"`
	CreatedAt   time.Time        `json:"created_at"`
	Email       string           `json:"email,omitempty"`
}

func newProfileView(acc *model.Account, private bool) profileView {
	v := profileView{
		ID:          acc.ID,
		Username:    acc.Username,
		DisplayName: acc.DisplayName,
		Visibility:  acc.Visibility,
		Role:        acc.Role,
		CreatedAt:   acc.CreatedAt,
	}
	if private {
		v.Email = acc.Email
	}
	return v
}
