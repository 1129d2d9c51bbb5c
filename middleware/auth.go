package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	"github.com/divelog/server/model"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
)

const (
	AccountIDKey = "account_id"
	AccountKey   = "account"
	TokenKey     = "token"
)

type authError string

const (
	errMissingToken   authError = "missing token"
	errInvalidToken   authError = "invalid token"
	errSessionExpired authError = "session expired"
)

// authenticate resolves the Bearer token on the request. It returns the
// account ID and raw token, or an authError.
func authenticate(ctx *gin.Context, sec config.SecurityConfig, c cache.Cache) (int64, string, authError) {
	header := ctx.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return 0, "", errMissingToken
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")

	claims, err := ParseToken(tokenStr, sec.JWTSecret)
	if err != nil {
		return 0, "", errInvalidToken
	}

	cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := c.Exists(cacheCtx, cache.SessionKey(tokenStr))
	if err != nil || !exists {
		return 0, "", errSessionExpired
	}
	return claims.AccountID, tokenStr, ""
}

// Auth validates the Bearer JWT and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, token, failure := authenticate(ctx, sec, c)
		if failure != "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(failure)})
			return
		}
		ctx.Set(AccountIDKey, id)
		ctx.Set(TokenKey, token)
		ctx.Next()
	}
}

// OptionalAuth lets anonymous requests through with account ID 0. A token
// that is present but invalid or expired is still rejected.
func OptionalAuth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, token, failure := authenticate(ctx, sec, c)
		switch failure {
		case "":
			ctx.Set(AccountIDKey, id)
			ctx.Set(TokenKey, token)
		case errMissingToken:
		default:
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(failure)})
			return
		}
		ctx.Next()
	}
}

// RequireAdmin must run after Auth. It loads the caller and rejects anyone
// who is not an active admin.
func RequireAdmin(accounts social.AccountDirectory) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		acc, err := accounts.FindAccountByID(ctx.Request.Context(), GetAccountID(ctx))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "account lookup failed"})
			return
		}
		if acc == nil || acc.Status == 0 || !acc.IsAdmin() {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		ctx.Set(AccountKey, acc)
		ctx.Next()
	}
}

// GetAccountID returns the authenticated account ID, or 0 for anonymous.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken returns the raw bearer token set by Auth.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}

// GetAccount returns the account loaded by RequireAdmin, if any.
func GetAccount(c *gin.Context) *model.Account {
	if v, exists := c.Get(AccountKey); exists {
		return v.(*model.Account)
	}
	return nil
}
