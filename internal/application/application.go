// Package application assembles the analysis service from configuration.
// Both the HTTP server and the CLI start here.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/notify"
	"github.com/JonMunkholm/upcguard/internal/schema"
	"github.com/JonMunkholm/upcguard/internal/store"
)

// App owns the service and the resources behind it.
type App struct {
	Store   core.Store
	Service *core.Service

	closers []func() error
}

// ServiceOptions maps configuration onto core.Options.
func ServiceOptions(cfg *config.Config) core.Options {
	p := cfg.Pipeline
	sev := cfg.Severity
	return core.Options{
		Reader: ingest.Options{
			BatchSize:    p.BatchSize,
			SampleSize:   p.SampleSize,
			MaxErrorRate: p.MaxErrorRate,
		},
		Inference: schema.Options{
			FieldThreshold: p.FieldThreshold,
			MinConfidence:  p.MinConfidence,
		},
		Thresholds: core.Thresholds{
			Low:      sev.Low,
			Medium:   sev.Medium,
			High:     sev.High,
			Critical: sev.Critical,
		},
		Costs: core.CostModel{
			DuplicateUPCBase: sev.DuplicateUPCBaseCost,
			MultiUPCBase:     sev.MultiUPCBaseCost,
		},
		MaxConcurrent: p.MaxConcurrent,
		MaxWait:       p.MaxWaitTime,
		BaseTimeout:   p.BaseTimeout,
		TimeoutPerMB:  p.TimeoutPerMB,
		MaxTimeout:    p.MaxTimeout,
		YieldEvery:    p.YieldEvery,
		YieldInterval: p.YieldInterval,
		Persist: core.RetryConfig{
			MaxAttempts: p.PersistAttempts,
			BaseDelay:   core.DefaultRetryConfig().BaseDelay,
			MaxDelay:    core.DefaultRetryConfig().MaxDelay,
		},
		SpoolDir: p.SpoolDir,
	}
}

// New opens the store and notifier selected by cfg and builds the service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app := &App{Store: st}
	if c, ok := st.(io.Closer); ok {
		app.closers = append(app.closers, c.Close)
	}

	notifier, closeNotifier, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open notifier: %w", err)
	}
	app.closers = append(app.closers, closeNotifier)

	app.Service = core.NewService(st, notifier, ServiceOptions(cfg))
	slog.Info("analysis service ready",
		"driver", cfg.Database.Driver,
		"max_concurrent", cfg.Pipeline.MaxConcurrent,
		"redis", cfg.Notify.RedisAddr != "",
	)
	return app, nil
}

// Close releases the notifier and the store, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
