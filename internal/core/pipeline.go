package core

// pipeline.go runs the stages of one analysis:
//
//	PENDING -> PARSING -> INFERRING -> NORMALIZING -> DETECTING -> COMPLETED
//
// INFERRING may stop in NEEDS_MAPPING; ResumeWithMapping re-enters at
// NORMALIZING. Any stage may end in FAILED. Stages run sequentially on the
// worker goroutine that owns the run, and cancellation is observed between
// batches.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/logging"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

type stage int

const (
	stageParse stage = iota
	stageNormalize
)

// Progress checkpoints, in percent.
const (
	progressParsing     = 5
	progressInferring   = 15
	progressNormalizing = 20
	progressNormalized  = 70
	progressDetecting   = 75
	progressDetected    = 90
	progressPersisted   = 95
	progressDone        = 100
)

func (s *Service) process(ctx context.Context, ar *activeRun, from stage) {
	start := time.Now()
	err := s.runStages(ctx, ar, from)
	if err == nil {
		ar.log.Info("analysis finished", "status", ar.snapshot().Status, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	if ctx.Err() != nil {
		ar.log.Debug("stage interrupted", "error", err)
		err = context.Cause(ctx)
	}
	s.fail(ar, err)
}

func (s *Service) runStages(ctx context.Context, ar *activeRun, from stage) error {
	run := ar.snapshot()

	f, err := os.Open(run.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	if from == stageParse {
		if err := s.transition(ctx, ar, StatusParsing, progressParsing, "reading file"); err != nil {
			return err
		}
	}

	format, br, err := ingest.Sniff(f)
	if err != nil {
		return fmt.Errorf("detect format: %w", err)
	}
	ropts := s.opts.Reader
	ropts.Size = run.FileSize
	rd, err := ingest.Open(br, format, ropts)
	if err != nil {
		return fmt.Errorf("open %s: %w", format, err)
	}
	defer rd.Close()

	header := rd.Header()
	ar.apply(func(r *AnalysisRun) {
		r.Format = format.String()
		r.Header = header
	})
	ar.log.Debug("file opened", "format", format, "columns", len(header))

	first, err := rd.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read rows: %w", err)
	}

	mapping := run.ColumnMapping
	if from == stageParse {
		var ok bool
		mapping, ok, err = s.infer(ctx, ar, header, first, mapping)
		if err != nil || !ok {
			return err
		}
	}

	if err := s.normalize(ctx, ar, rd, header, mapping, first); err != nil {
		return err
	}
	if err := s.detect(ctx, ar); err != nil {
		return err
	}
	return s.complete(ctx, ar)
}

// complete finishes a run whose conflicts are committed. It ignores
// cancellation and the time budget of ctx: once the conflict set is saved
// the run ends COMPLETED.
func (s *Service) complete(ctx context.Context, ar *activeRun) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.transition(ctx, ar, StatusDetecting, progressPersisted, "conflicts saved"); err != nil {
		return err
	}
	if err := s.transition(ctx, ar, StatusCompleted, progressDone, "analysis complete"); err != nil {
		return err
	}
	s.releaseSource(ar.snapshot())
	return nil
}

// infer picks the column mapping. It reports false when the run stopped in
// NEEDS_MAPPING.
func (s *Service) infer(ctx context.Context, ar *activeRun, header []string, first ingest.Batch, provided schema.Mapping) (schema.Mapping, bool, error) {
	if err := s.transition(ctx, ar, StatusInferring, progressInferring, "inferring columns"); err != nil {
		return nil, false, err
	}

	if provided != nil {
		if err := schema.ValidateMapping(header, provided); err != nil {
			return nil, false, err
		}
		return provided, true, nil
	}

	n := min(len(first), max(s.opts.Reader.SampleSize, 1))
	sample := make([][]string, n)
	for i := range sample {
		sample[i] = first[i].Cells
	}

	res := schema.Infer(header, sample, s.opts.Inference)
	ar.apply(func(r *AnalysisRun) {
		r.ColumnMapping = res.Mapping
		r.Inference = &InferenceSummary{
			Suggestions: res.Suggestions,
			Warnings:    res.Warnings,
			Confidence:  res.Confidence,
		}
	})
	ar.log.Info("columns inferred",
		"mapping", res.Mapping,
		"confidence", res.Confidence,
		"warnings", len(res.Warnings),
	)

	if res.NeedsMapping {
		msg := fmt.Sprintf("column mapping confidence %.0f%% is too low, waiting for a mapping", res.Confidence)
		return nil, false, s.transition(ctx, ar, StatusNeedsMapping, progressInferring, msg)
	}
	return res.Mapping, true, nil
}

// normalize streams every row through the normalizer and stores the
// accepted records, replacing any stored for the run before.
func (s *Service) normalize(ctx context.Context, ar *activeRun, rd *ingest.Reader, header []string, mapping schema.Mapping, batch ingest.Batch) error {
	if err := s.transition(ctx, ar, StatusNormalizing, progressNormalizing, "normalizing records"); err != nil {
		return err
	}

	nz, err := NewNormalizer(header, mapping)
	if err != nil {
		return err
	}
	err = s.opts.Persist.Do(ctx, "delete records", func(ctx context.Context) error {
		return s.store.DeleteRecords(ctx, ar.id)
	})
	if err != nil {
		return err
	}

	accepted := 0
	dropped := make(map[Rejection]int)
	span := float64(progressNormalized - progressNormalizing)

	for {
		if len(batch) > 0 {
			recs := make([]NormalizedRecord, 0, len(batch))
			for _, row := range batch {
				rec, rej := nz.Normalize(row)
				if rej != Accepted {
					dropped[rej]++
					continue
				}
				recs = append(recs, rec)
			}
			if len(recs) > 0 {
				err := s.opts.Persist.Do(ctx, "insert records", func(ctx context.Context) error {
					return s.store.InsertRecords(ctx, ar.id, recs)
				})
				if err != nil {
					return err
				}
			}
			accepted += len(recs)

			pct := progressNormalizing + int(rd.Progress()*span)
			err := s.advance(ctx, ar, StatusNormalizing, pct, "", func(r *AnalysisRun) {
				r.TotalRecords = accepted
			})
			if err != nil {
				return err
			}
			runtime.Gosched()
		}

		next, err := rd.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read rows: %w", err)
		}
		batch = next
	}

	ar.apply(func(r *AnalysisRun) {
		r.TotalRecords = accepted
		r.DroppedRecords = dropped
		r.ParseErrors = rd.ErrorCount()
		r.RowErrors = rd.Errors()
	})
	ar.log.Info("records normalized",
		"accepted", accepted,
		"dropped", sumCounts(dropped),
		"parse_errors", rd.ErrorCount(),
	)
	return nil
}

// detect rebuilds the index from the stored records and replaces the run's
// conflict set.
func (s *Service) detect(ctx context.Context, ar *activeRun) error {
	if err := s.transition(ctx, ar, StatusDetecting, progressDetecting, "detecting conflicts"); err != nil {
		return err
	}
	run := ar.snapshot()

	ix := NewIndex()
	yield := rate.Sometimes{Every: s.opts.YieldEvery, Interval: s.opts.YieldInterval}
	err := s.store.ScanRecords(ctx, ar.id, s.opts.Reader.BatchSize, func(recs []NormalizedRecord) error {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		for _, r := range recs {
			ix.Add(r)
			yield.Do(runtime.Gosched)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	cl := NewClassifier(run.Thresholds, s.opts.Costs)
	conflicts := ix.Conflicts(ar.id, cl, time.Now().UTC())
	st := ix.Stats()

	msg := fmt.Sprintf("%d conflicts found", len(conflicts))
	err = s.advance(ctx, ar, StatusDetecting, progressDetected, msg, func(r *AnalysisRun) {
		r.TotalRecords = st.Records
		r.UniqueUPCs = st.UniqueUPCs
		r.UniqueProducts = st.UniqueProducts
		r.DuplicateUPCs = st.DuplicateUPCs
		r.MultiUPCProducts = st.MultiUPCProducts
		r.MaxDuplication = st.MaxDuplication
	})
	if err != nil {
		return err
	}

	recs := make([]ConflictRecord, len(conflicts))
	for i, c := range conflicts {
		recs[i] = RecordOf(c)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	err = s.opts.Persist.Do(ctx, "replace conflicts", func(ctx context.Context) error {
		return s.store.ReplaceConflicts(ctx, ar.id, recs)
	})
	if err != nil {
		return err
	}
	ar.saved.Store(true)

	ar.log.Info("conflicts detected",
		"conflicts", len(recs),
		"duplicate_upcs", st.DuplicateUPCs,
		"multi_upc_products", st.MultiUPCProducts,
		"max_duplication", st.MaxDuplication,
	)
	return nil
}

func (s *Service) transition(ctx context.Context, ar *activeRun, status RunStatus, pct int, msg string) error {
	return s.advance(ctx, ar, status, pct, msg, nil)
}

// advance applies mutate, moves the run to status and raises its progress
// to pct. Progress never decreases. Nothing is persisted or published when
// neither status nor progress changed.
func (s *Service) advance(ctx context.Context, ar *activeRun, status RunStatus, pct int, msg string, mutate func(*AnalysisRun)) error {
	var statusChanged, changed bool
	run := ar.apply(func(r *AnalysisRun) {
		if mutate != nil {
			mutate(r)
		}
		statusChanged = r.Status != status
		changed = statusChanged || pct > r.ProgressPercent
		if !changed {
			return
		}
		now := time.Now().UTC()
		r.Status = status
		r.ProgressPercent = max(r.ProgressPercent, pct)
		r.UpdatedAt = now
		if status.Terminal() {
			r.CompletedAt = &now
		}
	})
	if !changed {
		return nil
	}

	err := s.opts.Persist.Do(ctx, "update run", func(ctx context.Context) error {
		return s.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return err
	}
	if statusChanged {
		ar.log.Info("analysis stage", "status", status, "progress", run.ProgressPercent)
	}

	ev := eventOf(run, msg)
	ar.notify(ev)
	s.publish(ctx, ev)
	return nil
}

// fail records cause on the run. It uses its own context so a cancelled or
// expired run still gets its failure written.
func (s *Service) fail(ar *activeRun, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	msg := FormatUserError(cause)
	already := false
	run := ar.apply(func(r *AnalysisRun) {
		if r.Status.Terminal() {
			already = true
			return
		}
		now := time.Now().UTC()
		r.Status = StatusFailed
		r.ErrorMessage = msg
		r.UpdatedAt = now
		r.CompletedAt = &now
	})
	if already {
		return
	}

	ar.log.Error("analysis failed", "error", cause, "code", MapError(cause).Code)
	if ar.saved.Load() {
		// A failed run has no conflict set.
		if err := s.store.ReplaceConflicts(ctx, ar.id, nil); err != nil {
			ar.log.Error("failed to clear conflicts of failed analysis", "error", err)
		}
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		ar.log.Error("failed to record analysis failure", "error", err)
	}

	ev := eventOf(run, "analysis failed")
	ar.notify(ev)
	s.publish(ctx, ev)
	s.releaseSource(run)
}

func (s *Service) publish(ctx context.Context, ev ProgressEvent) {
	if err := s.notifier.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish progress event",
			"analysis_id", ev.AnalysisID,
			"status", ev.Status,
			"error", err,
		)
	}
}

// releaseSource removes a spooled upload once its run is finalized.
func (s *Service) releaseSource(run *AnalysisRun) {
	if !run.OwnsSource || !run.Status.Terminal() || run.SourcePath == "" {
		return
	}
	if err := os.Remove(run.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WithRun(context.Background(), run.ID, run.FileName).Warn("remove spooled upload", "error", err)
	}
}

func sumCounts[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
