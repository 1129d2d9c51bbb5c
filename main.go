package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apirest "github.com/divelog/server/api/rest"
	apiws "github.com/divelog/server/api/ws"
	"github.com/divelog/server/audit"
	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	dbadapter "github.com/divelog/server/db"
	"github.com/divelog/server/mail"
	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/model"
	"github.com/divelog/server/scheduler"
	"github.com/divelog/server/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		log.Fatalf("config: security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, 2*time.Second, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache ----
	cacheCfg := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		KeyPrefix:       cfg.Cache.KeyPrefix,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalMaxEntries: cfg.Cache.LocalMaxEntries,
		LocalBusBuffer:  cfg.Cache.LocalBusBuffer,
	}
	c, err := cache.NewCache(cacheCfg)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Relationship core ----
	socialCfg := social.Config{
		FriendLimit:        cfg.Social.FriendLimit,
		MutualFriendsOnly:  cfg.Social.FriendsOnlyMutual,
		AtomicApproval:     cfg.Social.AtomicApproval,
		MirrorRetries:      cfg.Social.MirrorRetries,
		MirrorRetryBackoff: cfg.Social.MirrorRetryBackoff,
	}
	store := social.NewGormStore(db, cfg.Social.StoreTimeout)
	accounts := social.NewGormAccounts(db)
	outbox := mail.NewOutbox(db, cfg.Mail.From, cfg.Mail.Enabled, logger)
	hub := apiws.NewHub(logger)
	defer hub.CloseAll()
	relay := apiws.NewRelay(cache.NewPubSub(c, cacheCfg), hub, logger)
	if err := relay.Start(context.Background()); err != nil {
		log.Fatalf("mail relay: %v", err)
	}
	defer relay.Stop()
	outbox.SetPublisher(relay)
	life := social.NewLifecycle(store, accounts, outbox, socialCfg, logger)
	eval := social.NewEvaluator(store, accounts, socialCfg)
	roster := social.NewRoster(store, accounts)
	repairer := social.NewRepairer(store, socialCfg, cfg.Social.RepairBatch, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	if cfg.Social.RepairInterval > 0 {
		sched.AddTicker(social.RepairTaskName, cfg.Social.RepairInterval, func(ctx context.Context) error {
			_, err := repairer.Run(ctx)
			return err
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	routes := &apirest.Routes{
		Auth:     apirest.NewAuthHandler(db, c, cfg.Security),
		Accounts: apirest.NewAccountHandler(db, accounts, eval),
		Logbook:  apirest.NewLogbookHandler(db, accounts, eval),
		Social:   apirest.NewSocialHandler(accounts, life, eval, roster, auditSvc),
		Mail:     apirest.NewMailHandler(outbox),
		Admin:    apirest.NewAdminHandler(db, accounts, store, life, repairer, sched, auditSvc, logger),
		Health:   apirest.NewHealthHandler(db, c),
	}
	routes.Register(r, cfg.Security, c, accounts)

	// ---- WebSocket notifications ----
	wsH := apiws.NewHandler(c, cfg.Security, hub, logger)
	r.GET("/ws", wsH.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
