package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"civicsync-dispatch/assignment"
	"civicsync-dispatch/config"
	"civicsync-dispatch/controllers"
	"civicsync-dispatch/escalation"
	"civicsync-dispatch/metrics"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/notify"
	"civicsync-dispatch/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.Service)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	rdb, err := config.ConnectRedis(ctx, cfg.RedisAddress, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddress))

	if err := ensureAdmin(ctx, st, cfg.AdminEmail, cfg.AdminPassword, logger); err != nil {
		logger.Fatal("failed to seed admin account", zap.Error(err))
	}

	inbox := notify.NewRedisSink(rdb, logger)
	sink := notify.Multi{inbox, notify.NewLogSink(logger)}
	engine := assignment.New(st, sink, time.Now)
	scheduler := escalation.NewScheduler(escalation.NewSweeper(st, sink), rdb, logger, cfg.EscalationInterval)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(logger), metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.Register(r, routes.Handlers{
		Auth: controllers.NewAuthController(st, controllers.AuthSettings{
			Secret:     cfg.JWTSecret,
			TokenTTL:   cfg.TokenTTL,
			Domain:     cfg.Domain,
			Production: cfg.IsProduction(),
		}, logger),
		Issues:        controllers.NewIssueController(st, engine, logger),
		Officers:      controllers.NewOfficerController(st, engine, logger),
		Notifications: controllers.NewNotificationController(inbox, logger),
		Escalation:    controllers.NewEscalationController(scheduler, logger),
		Authenticate:  middlewares.AuthMiddleware(cfg.JWTSecret, logger),
		RateLimit:     middlewares.IssueRateLimiter(rdb, cfg.IssueLimitPrefix, cfg.IssueRateLimit, logger),
	})

	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("escalation scheduler exited", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Error("failed to listen", zap.String("addr", srv.Addr), zap.Error(err))
		return
	}
	logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))

	// returning instead of exiting lets the deferred closers run
	if err := serve(ctx, srv, ln, logger, shutdownGrace); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}
