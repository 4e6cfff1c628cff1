package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/delivery"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/router"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	var lastSeen *presence.LastSeenStore
	if cfg.RedisAddr != "" {
		lastSeen = presence.NewLastSeenStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	registry := ws.NewRegistry()
	broadcaster := presence.NewBroadcaster(roomRepo, registry, userRepo, lastSeen, publisher)
	registry.SetPresenceListener(broadcaster)

	tracker := delivery.NewTracker(messageRepo)
	msgRouter := router.New(roomRepo, messageRepo, tracker, registry, publisher)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	wsHandler := ws.NewHandler(registry, msgRouter, verifier, publisher, cfg.SendQueueSize, cfg.InboundRate, cfg.InboundBurst)

	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", cfg.Env)
	roomHandler := handlers.NewRoomHandler(roomRepo, userRepo, registry, lastSeen, audit)
	messageHandler := handlers.NewMessageHandler(roomRepo, messageRepo)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("messaging-service"))
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(verifier)

	engine.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	engine.POST("/rooms/direct", authMiddleware, roomHandler.StartDirectRoom)
	engine.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	engine.GET("/rooms/:room_id/members", authMiddleware, roomHandler.ListMembers)
	engine.POST("/rooms/:room_id/members", authMiddleware, roomHandler.AddMember)
	engine.DELETE("/rooms/:room_id/members/:user_id", authMiddleware, roomHandler.RemoveMember)
	engine.PATCH("/rooms/:room_id/members/:user_id/role", authMiddleware, roomHandler.SetRole)
	engine.GET("/rooms/:room_id/presence", authMiddleware, roomHandler.RoomPresence)
	engine.GET("/rooms/:room_id/messages", authMiddleware, messageHandler.GetRoomMessages)

	engine.GET("/ws", wsHandler.Handle)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(engine, audit, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown failed")
	}
}
