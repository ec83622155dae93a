package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liveroom/liveroom/internal/v1/auth"
	"github.com/liveroom/liveroom/internal/v1/config"
	"github.com/liveroom/liveroom/internal/v1/crdt"
	"github.com/liveroom/liveroom/internal/v1/health"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/persist"
	"github.com/liveroom/liveroom/internal/v1/ratelimit"
	"github.com/liveroom/liveroom/internal/v1/room"
	"github.com/liveroom/liveroom/internal/v1/transport"
	"github.com/liveroom/liveroom/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	logging.Initialize(cfg.IsDevelopment())

	// --- Auth (Optional) ---
	// With JWKS credentials configured, upgrades require a valid JWT.
	// Without them identity comes from query parameters.
	var authHandler types.AuthHandler
	if cfg.AuthJWKSDomain != "" {
		validator, err := auth.NewValidator(context.Background(), cfg.AuthJWKSDomain, cfg.AuthAudience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		authHandler = auth.NewJWTHandler(validator)
		slog.Info("JWT validator initialized", "domain", cfg.AuthJWKSDomain, "audience", cfg.AuthAudience)
	} else {
		slog.Warn("Authentication DISABLED - trusting query parameter identity. DO NOT USE IN PRODUCTION")
	}

	// --- Snapshot Persistence (Optional) ---
	var store *persist.Store
	if cfg.RedisEnabled {
		store, err = persist.NewStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			slog.Error("Failed to connect to Redis, running without snapshot persistence", "error", err)
			store = nil
		} else {
			slog.Info("Redis snapshot persistence initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, store.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Hub ---
	// hub is captured by the persistence callbacks below, so declare it
	// before building them.
	var hub *transport.Hub

	callbacks := room.Callbacks{}
	if store != nil {
		callbacks.InitialStorage = func(ctx context.Context, roomID types.RoomIDType) (*crdt.SerializedNode, error) {
			return store.LoadSnapshot(ctx, roomID)
		}
		callbacks.OnStorageChange = func(ctx context.Context, roomID types.RoomIDType, ops []crdt.Op) {
			if r, ok := hub.Room(roomID); ok {
				if err := store.SaveSnapshot(ctx, roomID, r.StorageSnapshot()); err != nil {
					slog.Error("Failed to persist storage snapshot", "roomId", string(roomID), "error", err)
				}
			}
		}
		callbacks.InitialYjs = func(ctx context.Context, roomID types.RoomIDType) ([]byte, error) {
			return store.LoadYjs(ctx, roomID)
		}
		callbacks.OnYjsChange = func(ctx context.Context, roomID types.RoomIDType, update []byte) {
			if err := store.SaveYjs(ctx, roomID, update); err != nil {
				slog.Error("Failed to persist yjs payload", "roomId", string(roomID), "error", err)
			}
		}
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	hub = transport.NewHub(transport.Options{
		Auth:      authHandler,
		Callbacks: callbacks,
		RoomConfig: room.Config{
			CleanupTimeout:   cfg.CleanupTimeout,
			MaxConnections:   cfg.MaxConnections,
			HeartbeatTimeout: cfg.HeartbeatTimeout,
		},
		AllowedOrigins:         allowedOrigins,
		RateLimiter:            rateLimiter,
		HeartbeatCheckInterval: cfg.HeartbeatInterval,
	})

	// --- Set up Server ---
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())

	// WebSocket upgrade routes
	hub.Register(router, cfg.PathPrefix)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(store)
	router.GET(cfg.HealthPath, healthHandler.Liveness)
	router.GET(cfg.HealthPath+"/live", healthHandler.Liveness)
	router.GET(cfg.HealthPath+"/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	go func() {
		slog.Info("Server starting", "port", cfg.Port, "path_prefix", cfg.PathPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if store != nil {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
