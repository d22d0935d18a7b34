package core

import (
	"context"
	"time"
)

// ProgressEvent is published on every status or progress change of a run.
type ProgressEvent struct {
	AnalysisID      string    `json:"analysisId"`
	Status          RunStatus `json:"status"`
	ProgressPercent int       `json:"progressPercent"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Time            time.Time `json:"time"`
}

// Terminal reports whether this is the last event of its run.
func (e ProgressEvent) Terminal() bool {
	return e.Status.Terminal() || e.Status == StatusNeedsMapping
}

// Notifier publishes progress events outside the process.
// Publish failures are logged by the caller and never fail a run.
type Notifier interface {
	Publish(ctx context.Context, ev ProgressEvent) error
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, ProgressEvent) error { return nil }

func eventOf(run *AnalysisRun, msg string) ProgressEvent {
	return ProgressEvent{
		AnalysisID:      run.ID,
		Status:          run.Status,
		ProgressPercent: run.ProgressPercent,
		Message:         msg,
		Error:           run.ErrorMessage,
		Time:            run.UpdatedAt,
	}
}
