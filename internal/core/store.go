package core

import (
	"context"
	"time"
)

// Store persists runs, their normalized records and their conflicts.
//
// Implementations must be safe for concurrent use. UpdateRun refuses to
// modify a run whose stored status is terminal (ErrRunImmutable), and
// ReplaceConflicts swaps a run's whole conflict set atomically so readers
// never observe a partial set.
type Store interface {
	CreateRun(ctx context.Context, run *AnalysisRun) error
	UpdateRun(ctx context.Context, run *AnalysisRun) error
	GetRun(ctx context.Context, id string) (*AnalysisRun, error)
	ListRuns(ctx context.Context, limit int) ([]*AnalysisRun, error)

	// DeleteRecords removes every record of a run. Normalization calls it
	// first so a resumed run never double-counts.
	DeleteRecords(ctx context.Context, runID string) error
	InsertRecords(ctx context.Context, runID string, recs []NormalizedRecord) error
	// ScanRecords calls fn with consecutive batches in insertion order.
	// Returning an error from fn stops the scan and is returned as is.
	ScanRecords(ctx context.Context, runID string, batchSize int, fn func([]NormalizedRecord) error) error

	ReplaceConflicts(ctx context.Context, runID string, cs []ConflictRecord) error
	ListConflicts(ctx context.Context, runID string, f ConflictFilter) ([]ConflictRecord, int, error)
	SummarizeConflicts(ctx context.Context, runID string) (ConflictSummary, error)
	GetConflict(ctx context.Context, id string) (ConflictRecord, error)
	// SetConflictStatus moves a conflict from one status to another. It
	// fails with ErrInvalidTransition if the stored status is not from.
	SetConflictStatus(ctx context.Context, id string, from, to ConflictStatus, at time.Time) (ConflictRecord, error)

	Close() error
}

// ConflictFilter narrows ListConflicts. Zero values match everything.
type ConflictFilter struct {
	Kind     ConflictKind
	Severity Severity
	Status   ConflictStatus
	Limit    int
	Offset   int
}

// Matches reports whether c passes the filter, ignoring paging.
func (f ConflictFilter) Matches(c ConflictRecord) bool {
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.Severity != 0 && c.Severity != f.Severity {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// DefaultConflictPageSize applies when ConflictFilter.Limit is zero.
const DefaultConflictPageSize = 100

// MaxConflictPageSize bounds ConflictFilter.Limit.
const MaxConflictPageSize = 1000

// PageLimit returns the effective page size.
func (f ConflictFilter) PageLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultConflictPageSize
	case f.Limit > MaxConflictPageSize:
		return MaxConflictPageSize
	}
	return f.Limit
}

// ConflictSummary aggregates a run's conflicts.
type ConflictSummary struct {
	Total           int                    `json:"total"`
	BySeverity      map[Severity]int       `json:"bySeverity"`
	ByKind          map[ConflictKind]int   `json:"byType"`
	ByStatus        map[ConflictStatus]int `json:"byStatus"`
	TotalCostImpact float64                `json:"totalCostImpact"`
}

// NewConflictSummary returns an empty summary with initialized maps.
func NewConflictSummary() ConflictSummary {
	return ConflictSummary{
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[ConflictKind]int),
		ByStatus:   make(map[ConflictStatus]int),
	}
}

// Add folds c into the summary.
func (s *ConflictSummary) Add(c ConflictRecord) {
	s.Total++
	s.BySeverity[c.Severity]++
	s.ByKind[c.Kind]++
	s.ByStatus[c.Status]++
	s.TotalCostImpact += c.CostImpact
}
