// Calmpath - guided relationship conflict resolution server
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
	"github.com/spf13/pflag"

	"github.com/ashureev/calmpath/internal/advisor"
	"github.com/ashureev/calmpath/internal/api"
	"github.com/ashureev/calmpath/internal/catalog"
	"github.com/ashureev/calmpath/internal/config"
	"github.com/ashureev/calmpath/internal/crisis"
	"github.com/ashureev/calmpath/internal/identity"
	"github.com/ashureev/calmpath/internal/journal"
	"github.com/ashureev/calmpath/internal/middleware"
	"github.com/ashureev/calmpath/internal/store"
	"github.com/ashureev/calmpath/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "auth_mode", cfg.AuthMode)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	// Seed the guide catalog on first boot.
	guideCatalog := catalog.NewService(repo)
	seed, err := catalog.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		slog.Error("Failed to load guide seed", "error", err, "seed_file", cfg.SeedFile)
		os.Exit(1)
	}
	if _, err := guideCatalog.SeedIfEmpty(context.Background(), seed); err != nil {
		slog.Error("Failed to seed guide catalog", "error", err)
		os.Exit(1)
	}

	authMode, err := identity.ParseMode(cfg.AuthMode)
	if err != nil {
		slog.Error("Invalid auth mode", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	routes := api.Routes{
		Guides:  api.NewGuideHandler(guideCatalog),
		Crises:  api.NewCrisisHandler(crisis.NewService(repo), journal.NewService(repo)),
		Session: api.NewSessionHandler(repo, cfg.AI.Enabled(), cfg.AuthMode),
	}

	if cfg.AI.Enabled() {
		adv, err := advisor.NewService(advisor.Config{
			BaseURL:        cfg.AI.BaseURL,
			APIKey:         cfg.AI.APIKey,
			Model:          cfg.AI.Model,
			RequestTimeout: cfg.AI.RequestTimeout,
		}, nil)
		if err != nil {
			slog.Error("Failed to initialize advisor", "error", err)
			os.Exit(1)
		}
		limiter := middleware.NewRateLimiter(cfg.AI.RateLimitPerMinute)
		limiter.StartEviction(ctx)
		routes.Advisor = api.NewAdvisorHandler(adv, limiter.Middleware)
		slog.Info("AI advisor enabled", "model", cfg.AI.Model, "rate_limit_per_minute", cfg.AI.RateLimitPerMinute)
	} else {
		slog.Info("AI features disabled (OPENAI_API_KEY not set)")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	api.NewHealthHandler(repo).RegisterHealth(r)

	routes.Mount(r, identity.Middleware(repo, identity.Options{
		Mode:         authMode,
		UserHeader:   cfg.AuthUserHeader,
		SecureCookie: !cfg.IsDevelopment(),
	}))

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.AI.RequestTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

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
