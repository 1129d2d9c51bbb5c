package rest

import (
	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
)

// Routes bundles the REST handlers. Nil handlers are not mounted.
type Routes struct {
	Auth     *AuthHandler
	Accounts *AccountHandler
	Logbook  *LogbookHandler
	Social   *SocialHandler
	Mail     *MailHandler
	Admin    *AdminHandler
	Health   *HealthHandler
}

// Register mounts every handler under /api.
func (rt *Routes) Register(r gin.IRouter, sec config.SecurityConfig, c cache.Cache, accounts social.AccountDirectory) {
	auth := mw.Auth(sec, c)
	optional := mw.OptionalAuth(sec, c)
	if rt.Health != nil {
		r.GET("/health", rt.Health.Check)
	}
	api := r.Group("/api")

	if rt.Auth != nil {
		authG := api.Group("/auth")
		authG.POST("/register", rt.Auth.Register)
		authG.POST("/login", rt.Auth.Login)
		authG.POST("/logout", auth, rt.Auth.Logout)
		authG.POST("/refresh", auth, rt.Auth.Refresh)
	}

	accountsG := api.Group("/accounts/:username")
	if rt.Accounts != nil {
		accountsG.GET("", optional, rt.Accounts.Get)
		accountsG.PATCH("", auth, rt.Accounts.Update)
	}
	if rt.Logbook != nil {
		accountsG.GET("/logs", optional, rt.Logbook.List)
		accountsG.POST("/logs", auth, rt.Logbook.Create)
		accountsG.PUT("/logs/:log_id", auth, rt.Logbook.Update)
		accountsG.DELETE("/logs/:log_id", auth, rt.Logbook.Delete)
	}

	if rt.Social != nil {
		accountsG.GET("/friends", optional, rt.Social.ListFriends)

		friendsG := api.Group("/friends")
		friendsG.Use(auth)
		friendsG.POST("/delete", rt.Social.BulkDelete)
		friendsG.POST("/requests/:username/approve", rt.Social.Approve)
		friendsG.POST("/requests/:username/reject", rt.Social.Reject)
		friendsG.POST("/:username", rt.Social.Request)
		friendsG.DELETE("/:username", rt.Social.Delete)
	}

	if rt.Mail != nil {
		mailG := api.Group("/mail")
		mailG.Use(auth)
		mailG.GET("", rt.Mail.List)
		mailG.POST("/read", rt.Mail.MarkRead)
	}

	if rt.Admin != nil {
		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(sec.AdminIPs), auth, mw.RequireAdmin(accounts))
		adminG.POST("/friends/link", rt.Admin.LinkFriends)
		adminG.POST("/relationships/repair", rt.Admin.Repair)
		adminG.GET("/relationships/export", rt.Admin.ExportRelationships)
		adminG.POST("/accounts/:id/ban", rt.Admin.BanAccount)
		adminG.PUT("/accounts/:id/role", rt.Admin.SetRole)
		adminG.GET("/scheduler", rt.Admin.ListSchedulerTasks)
		adminG.GET("/audit", rt.Admin.ListAudit)
	}
}
