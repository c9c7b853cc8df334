// Aide - Personal Assistant Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ndelin/aide/internal/api"
	"github.com/ndelin/aide/internal/assistant"
	"github.com/ndelin/aide/internal/auth"
	"github.com/ndelin/aide/internal/config"
	"github.com/ndelin/aide/internal/middleware"
	"github.com/ndelin/aide/internal/session"
	"github.com/ndelin/aide/internal/store"
	"github.com/ndelin/aide/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Credential revocations are shared through Redis when configured,
	// otherwise kept in process memory.
	var revocations auth.Revocations
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				slog.Error("Failed to close Redis client", "error", closeErr)
			}
		}()
		revocations = auth.NewRedisRevocations(redisClient)
		slog.Info("Revocation list backed by Redis", "addr", cfg.RedisAddr)
	} else {
		revocations = auth.NewMemoryRevocations()
		slog.Info("Revocation list kept in memory")
	}

	authn := auth.NewAuthenticator(auth.NewJWTVerifier(cfg.JWTSecret), revocations, repo)

	// Initialize services.
	if cfg.Oracle.URL == "" {
		slog.Warn("ORACLE_URL not set, conversations will fail until configured")
	}
	oracle := assistant.NewHTTPOracle(cfg.Oracle.URL, cfg.Oracle.Timeout)
	relay := assistant.NewRelay(oracle, logger)
	runner := assistant.NewRunner(repo)

	registry := session.NewRegistry()
	limiter := session.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	transcript, err := session.NewTranscriptLogger(session.TranscriptConfig{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, cfg)
	healthHandler := api.NewHealthHandler(repo, registry)
	wsHandler := session.NewHandler(session.HandlerParams{
		Authenticator: authn,
		Registry:      registry,
		Relay:         relay,
		Runner:        runner,
		Limiter:       limiter,
		Transcript:    transcript,
		Repo:          repo,
		PingInterval:  cfg.PingInterval,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated REST API.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn))
		apiHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint. The handler authenticates after the upgrade so
	// failures can be reported in the close frame.
	r.Get("/ws/assistant", wsHandler.ServeHTTP)

	// Serve the embedded console.
	r.Handle("/*", web.Handler())

	// Create server. WriteTimeout stays 0 so WebSocket sessions are not
	// cut off by the HTTP server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := transcript.Close(); err != nil {
		slog.Error("Failed to flush transcripts", "error", err)
	}

	slog.Info("Server stopped successfully")
}
