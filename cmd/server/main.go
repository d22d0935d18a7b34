package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/upcguard/internal/application"
	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/logging"
	"github.com/JonMunkholm/upcguard/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"pipeline_max_concurrent", cfg.Pipeline.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start analysis service", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	service := app.Service

	// Runs left active by a previous process can never finish.
	if _, err := service.FailInterrupted(ctx); err != nil {
		slog.Error("failed to recover interrupted analyses", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go service.StartSpoolJanitor(jobCtx, core.JanitorConfig{
		MaxAge: cfg.Pipeline.SpoolMaxAge,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop intake and let active analyses finish (with timeout)
		status := service.RunLimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for analyses to complete", "active", status.Active)
		}
		if err := service.WaitForRuns(shutdownCtx); err != nil {
			slog.Warn("analyses did not complete in time, cancelled", "error", err)
		} else if status.Active > 0 {
			slog.Info("all analyses completed")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	<-stopped
	slog.Info("server stopped")
}
