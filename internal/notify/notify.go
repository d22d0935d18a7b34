// Package notify delivers analysis progress events outside the process.
//
// Every publisher implements core.Notifier. Publishing is best effort: the
// service logs failures and carries on, so a broker outage never fails a
// run.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/logging"
)

// Fanout publishes each event to several notifiers.
type Fanout []core.Notifier

// Publish sends ev to every notifier and joins their errors.
func (f Fanout) Publish(ctx context.Context, ev core.ProgressEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes progress events to the structured log.
type Log struct {
	Level slog.Level
}

func (l Log) Publish(ctx context.Context, ev core.ProgressEvent) error {
	level := l.Level
	if ev.Status == core.StatusFailed {
		level = slog.LevelWarn
	}
	logging.FromContext(ctx).Log(ctx, level, "analysis progress",
		"analysis_id", ev.AnalysisID,
		"status", ev.Status,
		"progress", ev.ProgressPercent,
		"message", ev.Message,
	)
	return nil
}

// New builds the notifier described by cfg: progress is always logged at
// debug level, and also published to Redis when an address is set. The
// returned close function releases the Redis connection.
func New(ctx context.Context, cfg config.NotifyConfig) (core.Notifier, func() error, error) {
	fan := Fanout{Log{Level: slog.LevelDebug}}
	if cfg.RedisAddr == "" {
		return fan, func() error { return nil }, nil
	}

	r, err := NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Channel)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("publishing progress events to redis", "addr", cfg.RedisAddr, "channel", cfg.Channel)
	return append(fan, r), r.Close, nil
}
