// Package main is the entrypoint for the JobKeeper API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiranshivaraju/jobkeeper/internal/api"
	"github.com/kiranshivaraju/jobkeeper/internal/api/handler"
	mw "github.com/kiranshivaraju/jobkeeper/internal/api/middleware"
	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
	"github.com/kiranshivaraju/jobkeeper/internal/cache"
	"github.com/kiranshivaraju/jobkeeper/internal/config"
	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/internal/reaper"
	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// registerJobTypes declares the job types this deployment serves and which
// upload fields each one promotes at creation. Deployments extend this list.
func registerJobTypes(res *filing.Resolver) {
	res.Register(filing.JobType{
		Name:          "analysis",
		RequiredFiles: []string{"dataset"},
	})
	res.Register(filing.JobType{
		Name:          "report",
		RequiredFiles: []string{},
	})
}

func run() error {
	// 1. Load config — fail fast on invalid config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "app_root", cfg.Jobs.AppRoot, "ttl", cfg.Jobs.TTL.String(), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Blob storage rooted at APP_ROOT
	fs, err := storage.NewLocal(cfg.Jobs.AppRoot)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	slog.Info("storage ready", "root", fs.Root)

	// 6. Create store and job service
	pgStore := store.NewPostgresStore(pool)

	res := filing.NewResolver()
	registerJobTypes(res)

	jobSvc := jobs.NewService(pgStore, redisCache, fs, res, cfg.Jobs.TTL)

	// 7. Start the closure reaper
	rp := reaper.New(pgStore, fs, res, cfg.Jobs.ReaperInterval)
	go rp.Run(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache),
		CreateJobHandler: handler.NewCreateJobHandler(jobSvc),
		GetJobHandler:    handler.NewGetJobHandler(jobSvc),
		GetBySlugHandler: handler.NewGetJobBySlugHandler(jobSvc),
		SetStateHandler:  handler.NewSetStateHandler(jobSvc),
		SetStatusHandler: handler.NewSetStatusHandler(jobSvc),
		ListFilesHandler: handler.NewListFilesHandler(jobSvc),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
