package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/logging"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// Defaults for Options.
const (
	DefaultBaseTimeout   = 2 * time.Minute
	DefaultTimeoutPerMB  = 10 * time.Second
	DefaultMaxTimeout    = 30 * time.Minute
	DefaultYieldEvery    = 10000
	DefaultYieldInterval = 50 * time.Millisecond

	// runRetention is how long a finished run stays in memory for late
	// progress subscribers before lookups fall back to the store.
	runRetention = 5 * time.Minute

	// finalizeTimeout bounds the writes that finalize a run.
	finalizeTimeout = 10 * time.Second
)

// Options configures a Service.
type Options struct {
	Reader     ingest.Options
	Inference  schema.Options
	Thresholds Thresholds
	Costs      CostModel

	MaxConcurrent int
	MaxWait       time.Duration

	// The time budget of a run is BaseTimeout + TimeoutPerMB per started
	// MiB of input, capped at MaxTimeout.
	BaseTimeout  time.Duration
	TimeoutPerMB time.Duration
	MaxTimeout   time.Duration

	// Index construction yields after YieldEvery records, at most once per
	// YieldInterval.
	YieldEvery    int
	YieldInterval time.Duration

	// Persist retries store writes inside a stage.
	Persist RetryConfig

	// SpoolDir holds uploaded files while their runs need them.
	SpoolDir string
}

func (o Options) withDefaults() Options {
	if o.Reader.BatchSize <= 0 {
		o.Reader.BatchSize = ingest.DefaultBatchSize
	}
	if o.Reader.SampleSize <= 0 {
		o.Reader.SampleSize = ingest.DefaultSampleSize
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.Costs == (CostModel{}) {
		o.Costs = DefaultCostModel()
	}
	if o.BaseTimeout <= 0 {
		o.BaseTimeout = DefaultBaseTimeout
	}
	if o.TimeoutPerMB < 0 {
		o.TimeoutPerMB = 0
	} else if o.TimeoutPerMB == 0 {
		o.TimeoutPerMB = DefaultTimeoutPerMB
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = DefaultMaxTimeout
	}
	if o.YieldEvery <= 0 {
		o.YieldEvery = DefaultYieldEvery
	}
	if o.YieldInterval <= 0 {
		o.YieldInterval = DefaultYieldInterval
	}
	if o.Persist.MaxAttempts <= 0 {
		o.Persist = DefaultRetryConfig()
	}
	if o.SpoolDir == "" {
		o.SpoolDir = os.TempDir()
	}
	return o
}

// TimeBudget returns the wall-clock budget for a file of size bytes.
func (o Options) TimeBudget(size int64) time.Duration {
	const mib = 1 << 20
	mbs := (max(size, 0) + mib - 1) / mib
	budget := o.BaseTimeout + time.Duration(mbs)*o.TimeoutPerMB
	return min(budget, o.MaxTimeout)
}

// Service runs analyses and serves their results.
type Service struct {
	store    Store
	notifier Notifier
	opts     Options
	limiter  *RunLimiter
	closing  atomic.Bool

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// activeRun tracks a run while a worker owns it and shortly after.
type activeRun struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
	done   chan struct{}
	log    *slog.Logger

	// saved is set once the run's conflict set has been committed.
	saved atomic.Bool

	mu        sync.Mutex
	run       *AnalysisRun
	last      ProgressEvent
	listeners []chan ProgressEvent
	closed    bool
}

// NewService creates a Service. A nil notifier discards events.
func NewService(store Store, notifier Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	opts = opts.withDefaults()
	return &Service{
		store:    store,
		notifier: notifier,
		opts:     opts,
		limiter:  NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		runs:     make(map[string]*activeRun),
	}
}

// AnalysisRequest describes a file to analyze.
type AnalysisRequest struct {
	FileName string
	Path     string
	Size     int64

	// OwnsSource hands the file at Path to the service, which removes it
	// once the run is finalized or when the request is rejected.
	OwnsSource bool

	// Mapping skips inference when set. It is validated against the
	// file's header.
	Mapping schema.Mapping

	// Thresholds overrides the configured severity thresholds.
	Thresholds *Thresholds
}

// StartAnalysis registers a run and processes it in the background.
// It blocks while all run slots are busy, up to the configured wait.
// The returned run is a snapshot in PENDING state.
func (s *Service) StartAnalysis(ctx context.Context, req AnalysisRequest) (run *AnalysisRun, err error) {
	defer func() {
		if err != nil && req.OwnsSource {
			os.Remove(req.Path)
		}
	}()

	if s.closing.Load() {
		return nil, ErrShuttingDown
	}
	thresholds := s.opts.Thresholds
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, fmt.Errorf("%w: no path", ErrSourceUnavailable)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run = &AnalysisRun{
		ID:            uuid.NewString(),
		FileName:      req.FileName,
		FileSize:      req.Size,
		SourcePath:    req.Path,
		OwnsSource:    req.OwnsSource,
		Status:        StatusPending,
		ColumnMapping: req.Mapping.Clone(),
		Thresholds:    thresholds,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.limiter.Release()
		return nil, fmt.Errorf("create run: %w", err)
	}

	snapshot := run.Clone()
	ar, _ := s.track(ctx, run)
	ar.log.Info("analysis started", "size", req.Size, "mapping_provided", req.Mapping != nil)
	s.launch(ar, stageParse)
	return snapshot, nil
}

// ResumeWithMapping continues a run that stopped in NEEDS_MAPPING, using
// a corrected mapping. Normalization restarts from the spooled file and
// replaces any records stored for the run.
func (s *Service) ResumeWithMapping(ctx context.Context, id string, mapping schema.Mapping) (*AnalysisRun, error) {
	if s.closing.Load() {
		return nil, ErrShuttingDown
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case run.Status.Terminal():
		return nil, ErrRunImmutable
	case run.Status != StatusNeedsMapping:
		return nil, ErrRunNotResumable
	}
	if err := schema.ValidateMapping(run.Header, mapping); err != nil {
		return nil, err
	}
	if _, err := os.Stat(run.SourcePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	run.ColumnMapping = mapping.Clone()
	snapshot := run.Clone()
	ar, ok := s.track(ctx, run)
	if !ok {
		s.limiter.Release()
		return nil, ErrRunNotResumable
	}
	ar.log.Info("analysis resumed with mapping", "mapping", mapping)
	s.launch(ar, stageNormalize)
	return snapshot, nil
}

// track registers run as being processed. It reports false when another
// worker already owns the run.
func (s *Service) track(ctx context.Context, run *AnalysisRun) (*activeRun, bool) {
	budget := s.opts.TimeBudget(run.FileSize)
	base, cancel := context.WithCancelCause(context.Background())
	runCtx, stop := context.WithTimeoutCause(base, budget, ErrTimeBudgetExceeded)

	ar := &activeRun{
		id:     run.ID,
		ctx:    runCtx,
		cancel: cancel,
		stop:   stop,
		done:   make(chan struct{}),
		log:    logging.WithRun(ctx, run.ID, run.FileName),
		run:    run,
		last:   eventOf(run, ""),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.runs[run.ID]; ok && !prev.finished() {
		stop()
		cancel(nil)
		return nil, false
	}
	s.runs[run.ID] = ar
	return ar, true
}

// launch starts the worker goroutine. It owns the limiter slot acquired
// by the caller.
func (s *Service) launch(ar *activeRun, from stage) {
	go func() {
		defer s.limiter.Release()
		defer func() {
			ar.stop()
			ar.cancel(nil)
			ar.closeListeners()
			close(ar.done)
			s.cleanup(ar, runRetention)
		}()
		defer func() {
			if r := recover(); r != nil {
				ar.log.Error("panic in analysis", "panic", r)
				s.fail(ar, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.process(ar.ctx, ar, from)
	}()
}

// cleanup removes the run from tracking after a delay, unless a newer
// worker took it over in the meantime.
func (s *Service) cleanup(ar *activeRun, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.runs[ar.id] == ar {
			delete(s.runs, ar.id)
		}
		s.mu.Unlock()
	})
}

func (s *Service) active(id string) (*activeRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ar, ok := s.runs[id]
	return ar, ok
}

// SubscribeProgress returns a channel of progress events for a run. The
// current state is sent first; the channel closes after the final event.
// For a run that is not being processed, the channel holds only its
// current state and is already closed.
func (s *Service) SubscribeProgress(ctx context.Context, id string) (<-chan ProgressEvent, error) {
	if ar, ok := s.active(id); ok {
		if ch := ar.subscribe(); ch != nil {
			return ch, nil
		}
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	ch := make(chan ProgressEvent, 1)
	ch <- eventOf(run, "")
	close(ch)
	return ch, nil
}

// CancelRun stops a run at the next batch boundary. A run waiting for a
// mapping is failed immediately.
func (s *Service) CancelRun(ctx context.Context, id string) error {
	if ar, ok := s.active(id); ok && !ar.finished() {
		ar.cancel(ErrCancelled)
		ar.log.Info("analysis cancellation requested")
		return nil
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrRunImmutable
	}
	return s.abandon(ctx, run, ErrCancelled)
}

// abandon fails a run that no worker is processing.
func (s *Service) abandon(ctx context.Context, run *AnalysisRun, cause error) error {
	now := time.Now().UTC()
	run.Status = StatusFailed
	run.ErrorMessage = FormatUserError(cause)
	run.UpdatedAt = now
	run.CompletedAt = &now
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	s.releaseSource(run)
	s.publish(ctx, eventOf(run, "analysis failed"))
	return nil
}

// WaitForRun blocks until the run is no longer being processed and returns
// its final state.
func (s *Service) WaitForRun(ctx context.Context, id string) (*AnalysisRun, error) {
	if ar, ok := s.active(id); ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.GetRun(ctx, id)
}

// GetRun returns the latest state of a run.
func (s *Service) GetRun(ctx context.Context, id string) (*AnalysisRun, error) {
	if ar, ok := s.active(id); ok && !ar.finished() {
		return ar.snapshot(), nil
	}
	return s.store.GetRun(ctx, id)
}

// ListRuns returns the most recent runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*AnalysisRun, error) {
	return s.store.ListRuns(ctx, limit)
}

// ConflictPage is one page of a run's conflicts with read-time suggestions.
type ConflictPage struct {
	Conflicts []ConflictView  `json:"conflicts"`
	Total     int             `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
	Summary   ConflictSummary `json:"summary"`
}

// ListConflicts returns the run's conflicts matching f, ordered by rank.
func (s *Service) ListConflicts(ctx context.Context, runID string, f ConflictFilter) (*ConflictPage, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	recs, total, err := s.store.ListConflicts(ctx, runID, f)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	summary, err := s.store.SummarizeConflicts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize conflicts: %w", err)
	}

	page := &ConflictPage{
		Conflicts: make([]ConflictView, 0, len(recs)),
		Total:     total,
		Limit:     f.PageLimit(),
		Offset:    max(f.Offset, 0),
		Summary:   summary,
	}
	for _, rec := range recs {
		c, err := rec.Conflict()
		if err != nil {
			return nil, err
		}
		page.Conflicts = append(page.Conflicts, ViewOf(c))
	}
	return page, nil
}

// GetConflict returns one conflict with its suggestions.
func (s *Service) GetConflict(ctx context.Context, id string) (ConflictView, error) {
	rec, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return ConflictView{}, err
	}
	c, err := rec.Conflict()
	if err != nil {
		return ConflictView{}, err
	}
	return ViewOf(c), nil
}

// UpdateConflictStatus moves a conflict along its workflow.
func (s *Service) UpdateConflictStatus(ctx context.Context, id string, to ConflictStatus) (ConflictView, error) {
	if !to.Valid() {
		return ConflictView{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	cur, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return ConflictView{}, err
	}
	if !CanTransition(cur.Status, to) {
		return ConflictView{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}

	rec, err := s.store.SetConflictStatus(ctx, id, cur.Status, to, time.Now().UTC())
	if err != nil {
		return ConflictView{}, err
	}
	logging.WithFields(ctx, "conflict_id", id, "from", cur.Status, "to", to).Info("conflict status updated")

	c, err := rec.Conflict()
	if err != nil {
		return ConflictView{}, err
	}
	return ViewOf(c), nil
}

// SpoolDir returns the directory uploads should be spooled into.
func (s *Service) SpoolDir() string {
	return s.opts.SpoolDir
}

// RunLimiterStatus returns the current run slot usage.
func (s *Service) RunLimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns stops accepting new runs and waits for active ones to
// finish. When ctx ends first, remaining runs are cancelled and recorded
// as failed.
func (s *Service) WaitForRuns(ctx context.Context) error {
	s.closing.Store(true)

	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.mu.RLock()
	pending := make([]*activeRun, 0, len(s.runs))
	for _, ar := range s.runs {
		pending = append(pending, ar)
	}
	s.mu.RUnlock()

	for _, ar := range pending {
		ar.cancel(ErrShuttingDown)
	}
	for _, ar := range pending {
		select {
		case <-ar.done:
		case <-time.After(finalizeTimeout):
			ar.log.Warn("analysis did not stop after shutdown cancellation")
		}
	}
	return err
}

// FailInterrupted records runs left unfinished by a previous process as
// failed. Runs waiting for a mapping are left alone.
func (s *Service) FailInterrupted(ctx context.Context) (int, error) {
	runs, err := s.store.ListRuns(ctx, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, run := range runs {
		if !run.Status.Active() {
			continue
		}
		if _, ok := s.active(run.ID); ok {
			continue
		}
		if err := s.abandon(ctx, run, ErrShuttingDown); err != nil && !errors.Is(err, ErrRunImmutable) {
			return n, err
		}
		n++
	}
	if n > 0 {
		slog.Warn("failed interrupted analyses", "count", n)
	}
	return n, nil
}

// subscribe registers a listener, or returns nil once the run has finished.
func (ar *activeRun) subscribe() chan ProgressEvent {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.closed {
		return nil
	}

	ch := make(chan ProgressEvent, 10)
	ch <- ar.last
	ar.listeners = append(ar.listeners, ch)
	return ch
}

// notify sends ev to all listeners, skipping slow ones. The final event
// is held back for closeListeners.
func (ar *activeRun) notify(ev ProgressEvent) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	ar.last = ev
	if ev.Terminal() {
		return
	}
	for _, ch := range ar.listeners {
		select {
		case ch <- ev:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners delivers the final event and closes every listener. A full
// channel drops its oldest pending event to make room.
func (ar *activeRun) closeListeners() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	for _, ch := range ar.listeners {
		delivered := false
		for !delivered {
			select {
			case ch <- ar.last:
				delivered = true
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
		close(ch)
	}
	ar.listeners = nil
	ar.closed = true
}

func (ar *activeRun) finished() bool {
	select {
	case <-ar.done:
		return true
	default:
		return false
	}
}

// apply mutates the run under the lock and returns a copy for persisting.
func (ar *activeRun) apply(fn func(run *AnalysisRun)) *AnalysisRun {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	fn(ar.run)
	return ar.run.Clone()
}

func (ar *activeRun) snapshot() *AnalysisRun {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.run.Clone()
}
