package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/users"
	"messaging-service/internal/ws"
)

func main() {
	bootstrapLogger := logging.New("info", "dev")

	cfg, configPath, err := config.Load(bootstrapLogger, os.Getenv("MESSAGING_CONFIG_PATH"))
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.OTLPEndpoint, "messaging-service", cfg.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	database, err := db.Connect(logger, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}

	publisher := rabbitmq.NewPublisher(logger, cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	emitter := telemetry.NewAuditEmitter(logger, publisher, "audit.messaging", "messaging-service", cfg.Environment)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	directory := users.NewHTTPClient(cfg.UserServiceURL)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	registry := ws.NewRegistry()
	presence := ws.NewPresenceTracker(registry, publisher, logger)
	msgRouter := ws.NewRouter(registry, presence, conversationRepo, messageRepo, directory, publisher, logger)
	socket := ws.NewHandler(registry, presence, msgRouter, verifier, publisher, logger)

	messagesHandler := handlers.NewMessagesHandler(conversationRepo, messageRepo, directory, msgRouter, logger)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(verifier)

	router.GET("/api/messages", authMiddleware, messagesHandler.ListConversations)
	router.GET("/api/messages/:user_id", authMiddleware, messagesHandler.GetHistory)
	router.POST("/api/messages", authMiddleware, messagesHandler.PostMessage)

	router.GET("/ws", socket.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, emitter, cfg.Debug)

	logger.Info().Str("addr", cfg.Addr).Str("config", configPath).Msg("messaging service listening")
	if err := router.Run(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
