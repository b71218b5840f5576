// Package main runs the remote-session coordinator: HTTP, WebSocket signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-remote/backend/config"
	"github.com/aura-remote/backend/internal/auth"
	"github.com/aura-remote/backend/internal/ice"
	"github.com/aura-remote/backend/internal/middleware"
	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/persistence"
	"github.com/aura-remote/backend/internal/profiles"
	"github.com/aura-remote/backend/internal/realtime"
	"github.com/aura-remote/backend/internal/sessions"
	"github.com/aura-remote/backend/internal/signaling"
	"github.com/aura-remote/backend/internal/stats"
	"github.com/aura-remote/backend/pkg/database"
	"github.com/aura-remote/backend/pkg/queue"
	"github.com/aura-remote/backend/pkg/redis"
	"github.com/aura-remote/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var store persistence.Store
	var profileSource profiles.Source
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		store = persistence.NewMemoryStore()
		logger.Warn("memory store selected: session mirror and history do not survive restarts")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = persistence.NewPostgresStore(pool)
		profileSource = profiles.NewRepository(pool)
	}

	gateway := persistence.NewGateway(store, cfg.Session.PersistTimeout, logger)
	defer gateway.Close()

	var roomPub realtime.RedisPublisher
	var roomSub realtime.RedisSubscriber
	var leases sessions.Leases
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		roomPub, roomSub = pubsub, pubsub
		redisLeases := realtime.NewRedisLeases(rdb.Client, cfg.Session.LeaseTTL, cfg.Session.TombstoneTTL)
		leases = redisLeases
		logger.Info("session ownership leases enabled", zap.String("owner", redisLeases.Owner()), zap.Duration("ttl", cfg.Session.LeaseTTL))

		jobQueue := queue.NewQueue(rdb.Client, logger)
		gateway.SetHistoryExporter(persistence.ExporterFunc(func(ctx context.Context, collection, id string, doc []byte) error {
			return jobQueue.EnqueueHistoryArchive(ctx, queue.HistoryArchivePayload{
				Collection: collection,
				SessionID:  id,
				Document:   doc,
			})
		}))
	} else {
		logger.Info("redis not configured: single instance, history archive disabled")
	}

	hub := realtime.NewHub(logger, roomPub, roomSub)
	lookup := profiles.NewLookup(profileSource, cfg.Session.ProfileCacheTTL, logger)
	registry := sessions.NewRegistry(sessions.Options{
		Profiles: lookup,
		Mirror:   gateway,
		Notifier: hub,
		Leases:   leases,
		Defaults: models.Settings{MaxParticipants: cfg.Session.MaxParticipants},
		Logger:   logger,

		TombstoneTTL: cfg.Session.TombstoneTTL,
	})
	relay := signaling.NewRelay(signaling.Options{
		Notifier:      hub,
		OfferTTL:      cfg.Session.OfferTTL,
		SweepInterval: cfg.Session.SweepInterval,
		Logger:        logger,
	})
	aggregator := stats.NewAggregator(registry, logger)

	registry.OnSessionEnded(func(sessionID string) {
		relay.CleanupSession(sessionID)
		aggregator.Drop(sessionID)
	})
	registry.OnParticipantRemoved(relay.CleanupUser)

	dispatcher := realtime.NewDispatcher(hub, registry, relay, aggregator, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	sessionHandler := sessions.NewHandler(registry)
	iceServers := ice.Servers(cfg.WebRTC.ICEUrls, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNCredential)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// WebSocket (token in query or Authorization header)
	router.GET("/ws", realtime.ServeWs(hub, dispatcher, jwtService.UserID, logger))

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.GET("/ice-servers", ice.Handler(iceServers))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go relay.Run(bgCtx)
	go registry.RunLeases(bgCtx, cfg.Session.LeaseTTL/3)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
