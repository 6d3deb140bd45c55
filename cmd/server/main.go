// School Information Assistant server
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

	"github.com/ashureev/schoolinfo/internal/api"
	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/config"
	"github.com/ashureev/schoolinfo/internal/conversation"
	"github.com/ashureev/schoolinfo/internal/identity"
	"github.com/ashureev/schoolinfo/internal/middleware"
	"github.com/ashureev/schoolinfo/internal/store"
	"github.com/ashureev/schoolinfo/internal/stream"
	"github.com/ashureev/schoolinfo/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("Failed to close log file", "error", err)
		}
	}()

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"transport", cfg.Backend.Transport)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	sender, err := backend.NewSender(cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sender.Close(); closeErr != nil {
			slog.Error("Failed to close backend transport", "error", closeErr)
		}
	}()

	dispatcher := backend.NewDispatcher(sender, logger, backend.WithRecorder(repo))
	registry := conversation.NewRegistry(dispatcher, logger)
	sm := stream.NewSessionManager()

	// Initialize handlers.
	apiHandler := api.NewHandler(registry, dispatcher, repo, cfg)
	if cfg.AdminToken == "" {
		logger.Info("ADMIN_TOKEN not set, operator endpoints disabled")
	}
	wsHandler := stream.NewWebSocketHandler(registry, sm, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversation", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	if cfg.ServeUI {
		r.Handle("/*", web.SPAHandler())
	}

	// Dispatches can wait on a slow backend, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		conversation.RunSweeper(gctx, registry, repo, conversation.SweepConfig{
			Interval:  cfg.SweepInterval,
			TTL:       cfg.ConversationTTL,
			Retention: cfg.DispatchRetention,
		})
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// Wait for shutdown signal or a failed sibling.
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		sm.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
