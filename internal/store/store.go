// Package store implements core.Store on PostgreSQL, SQLite and memory.
//
// All implementations share the same semantics:
//   - UpdateRun refuses to modify a run stored as COMPLETED or FAILED.
//   - InsertRecords is atomic per call, so a retried batch is never
//     stored twice.
//   - ReplaceConflicts swaps a run's whole conflict set in one transaction.
//   - SetConflictStatus is a compare-and-set on the current status.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
)

// defaultScanBatch applies when ScanRecords gets a non-positive batch size.
const defaultScanBatch = 1000

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// runDoc is the JSON document stored for a run. Fields excluded from the
// public JSON form are carried explicitly.
type runDoc struct {
	*core.AnalysisRun
	SourcePath string `json:"sourcePath"`
	OwnsSource bool   `json:"ownsSource"`
}

func encodeRun(run *core.AnalysisRun) ([]byte, error) {
	b, err := json.Marshal(runDoc{AnalysisRun: run, SourcePath: run.SourcePath, OwnsSource: run.OwnsSource})
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return b, nil
}

func decodeRun(b []byte) (*core.AnalysisRun, error) {
	doc := runDoc{AnalysisRun: &core.AnalysisRun{}}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	doc.AnalysisRun.SourcePath = doc.SourcePath
	doc.AnalysisRun.OwnsSource = doc.OwnsSource
	return doc.AnalysisRun, nil
}
