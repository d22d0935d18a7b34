package core

// scheduler.go provides background maintenance for the spool directory.
//
// Uploads are spooled to disk so that a run stopped in NEEDS_MAPPING can be
// resumed. Finalized runs remove their own spool files; the janitor removes
// whatever is left behind: files of runs that never got a mapping, or of a
// process that crashed. Files in use by an active run are never touched.
//
// The janitor is long-running and context-aware for graceful shutdown. It
// logs errors but never fails the application.

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// JanitorConfig holds configuration for the spool janitor.
type JanitorConfig struct {
	MaxAge        time.Duration // remove spool files older than this (default: 24h)
	CheckInterval time.Duration // how often to run (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartSpoolJanitor periodically removes stale spool files. It runs
// immediately, then every CheckInterval, until ctx is cancelled.
func (s *Service) StartSpoolJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("spool janitor started",
		"dir", s.opts.SpoolDir,
		"max_age", cfg.MaxAge,
		"interval", cfg.CheckInterval,
	)

	s.sweepSpool(time.Now(), cfg.MaxAge)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("spool janitor stopped")
			return
		case now := <-ticker.C:
			s.sweepSpool(now, cfg.MaxAge)
		}
	}
}

// sweepSpool removes spool files last modified before now-maxAge and
// returns how many were removed.
func (s *Service) sweepSpool(now time.Time, maxAge time.Duration) int {
	start := time.Now()

	entries, err := os.ReadDir(s.opts.SpoolDir)
	if err != nil {
		slog.Error("read spool dir", "dir", s.opts.SpoolDir, "error", err)
		return 0
	}

	inUse := s.activeSources()
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), spoolPrefix) {
			continue
		}
		path := filepath.Join(s.opts.SpoolDir, e.Name())
		if inUse[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("remove stale spool file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("spool sweep completed",
			"files_removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}

func (s *Service) activeSources() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.runs))
	for _, ar := range s.runs {
		if ar.finished() {
			continue
		}
		ar.mu.Lock()
		out[ar.run.SourcePath] = true
		ar.mu.Unlock()
	}
	return out
}
