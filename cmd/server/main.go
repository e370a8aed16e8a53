package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ammar1510/chatline/internal/ai"
	"github.com/ammar1510/chatline/internal/api"
	"github.com/ammar1510/chatline/internal/auth"
	"github.com/ammar1510/chatline/internal/broker"
	"github.com/ammar1510/chatline/internal/cache"
	"github.com/ammar1510/chatline/internal/chat"
	"github.com/ammar1510/chatline/internal/config"
	"github.com/ammar1510/chatline/internal/database"
	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/persister"
	"github.com/ammar1510/chatline/internal/recovery"
	"github.com/ammar1510/chatline/internal/websocket"
)

var log = logger.New("server")

func main() {
	if err := run(); err != nil {
		log.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
	log.Info("Server exited properly")
}

func run() error {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Set Gin mode based on environment
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	auth.InitJWTKeys([]byte(cfg.JWTAccessSecret), []byte(cfg.JWTRefreshSecret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistent store
	db, err := database.NewDatabase(database.PostgreSQL, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	log.Info("Connected to PostgreSQL")

	// Cache
	store, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.RecentCacheSize)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("Connected to Redis")

	// Durable log
	if err := broker.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
		log.Warn("Could not ensure topic %s, relying on broker defaults: %v", cfg.KafkaTopic, err)
	}
	producer := broker.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	reader := broker.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	// AI collaborator
	var generator ai.Generator = ai.Disabled{}
	if cfg.AnthropicAPIKey != "" {
		fallback, err := ai.NewAnthropicFallback(cfg.AnthropicAPIKey, cfg.AIModels)
		if err != nil {
			return err
		}
		generator = fallback
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, /ai queries will fail")
	}

	manager := websocket.NewManager()
	svc := chat.NewService(db, store, producer, manager, generator)
	svc.SetHistoryLimit(cfg.HistoryLimit)

	batches := persister.New(reader, db, cfg.FlushInterval, cfg.FlushSize)
	recoveryLoop := recovery.New(store, producer, cfg.RecoveryInterval)

	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Messages:       api.NewMessageHandler(svc),
		Health: &api.HealthHandler{
			Checks:    map[string]api.Pinger{"postgres": db, "redis": store},
			Persister: batches,
		},
		WebSocket: websocket.NewHandler(manager, svc, cfg.AllowedOrigins).ServeWS,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return batches.Run(gctx) })
	g.Go(func() error { return recoveryLoop.Run(gctx) })
	g.Go(func() error {
		log.Info("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		// Give the server 5 seconds to finish processing remaining requests
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
