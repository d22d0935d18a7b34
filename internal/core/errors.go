package core

import "errors"

// Run lifecycle errors. Messages are matched by MapError, keep them stable.
var (
	ErrRunNotFound        = errors.New("analysis not found")
	ErrRunNotResumable    = errors.New("analysis not resumable: it is not waiting for a column mapping")
	ErrRunImmutable       = errors.New("analysis already finalized")
	ErrSourceUnavailable  = errors.New("source file unavailable")
	ErrTimeBudgetExceeded = errors.New("analysis time budget exceeded")
	ErrCancelled          = errors.New("analysis cancelled")
	ErrShuttingDown       = errors.New("service shutting down")
)

// Conflict workflow errors.
var (
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrInvalidThresholds is returned for severity thresholds that are not
// ordered or start below two.
var ErrInvalidThresholds = errors.New("invalid severity thresholds")
