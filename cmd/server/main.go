// Aluna - companion chat server
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

	"github.com/alunalabs/aluna/internal/api"
	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/enrich"
	"github.com/alunalabs/aluna/internal/gateway"
	"github.com/alunalabs/aluna/internal/identity"
	"github.com/alunalabs/aluna/internal/llm"
	"github.com/alunalabs/aluna/internal/middleware"
	"github.com/alunalabs/aluna/internal/orchestrator"
	"github.com/alunalabs/aluna/internal/socratic"
	"github.com/alunalabs/aluna/internal/store"
	"github.com/alunalabs/aluna/internal/transcript"
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

	transcriptLogger, err := transcript.New(cfg.Transcript, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcriptLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Enrichment providers. Both degrade gracefully when unconfigured.
	sentiment := enrich.NewSentimentClient(cfg.Enrichment)
	if sentiment == nil {
		slog.Info("Sentiment analyzer not configured, sentiment context disabled")
	}
	goalTracker := enrich.NewGoalTracker(cfg.Enrichment)
	if goalTracker == nil {
		slog.Info("Goal tracker not configured, serving cached goal snapshots only")
	}
	var tracker enrich.GoalTracker
	if goalTracker != nil {
		tracker = goalTracker
	}
	goals := enrich.NewCachedGoalTracker(tracker, repo)

	scheduler := socratic.New(repo)
	generator := llm.NewClient(cfg.Generation)

	var sentimentAnalyzer enrich.SentimentAnalyzer
	if sentiment != nil {
		sentimentAnalyzer = sentiment
	}
	orch := orchestrator.New(generator, sentimentAnalyzer, goals, scheduler, cfg.Generation)

	// TODO: swap InsecureVerifier for the auth-service verifier once its
	// token introspection endpoint is deployed.
	verifier := identity.InsecureVerifier

	// Initialize handlers.
	restHandler := api.NewHandler(repo, orch, transcriptLogger, cfg.RateLimit)
	healthHandler := api.NewHealthHandler(repo)
	hub := gateway.NewHub()
	gatewayHandler := gateway.NewHandler(hub, verifier, cfg.FrontendURL, cfg.IsDevelopment(), cfg.TypingAckDelay)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	// WebSocket endpoint authenticates inside its own handshake.
	r.Get("/ws/chat", gatewayHandler.ServeHTTP)

	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))
		restHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation turns can outlive a short write timeout
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
