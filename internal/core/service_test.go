package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/schema"
	"github.com/JonMunkholm/upcguard/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fastOptions() core.Options {
	return core.Options{
		Persist: core.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func analyze(t *testing.T, svc *core.Service, path string) *core.AnalysisRun {
	t.Helper()
	ctx := context.Background()
	info, err := os.Stat(path)
	require.NoError(t, err)

	started, err := svc.StartAnalysis(ctx, core.AnalysisRequest{
		FileName: filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, started.Status)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	run, err := svc.WaitForRun(ctx, started.ID)
	require.NoError(t, err)
	return run
}

// gatedStore blocks record inserts until the gate opens or the context
// ends.
type gatedStore struct {
	*store.Memory
	entered chan struct{}
	once    sync.Once
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{Memory: store.NewMemory(), entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedStore) InsertRecords(ctx context.Context, runID string, recs []core.NormalizedRecord) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Memory.InsertRecords(ctx, runID, recs)
}

// flakyStore fails the first n conflict replacements.
type flakyStore struct {
	*store.Memory
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) ReplaceConflicts(ctx context.Context, runID string, cs []core.ConflictRecord) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return f.Memory.ReplaceConflicts(ctx, runID, cs)
}

func TestService_SimpleDuplicate(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	path := writeFile(t, "inventory.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n")

	run := analyze(t, svc, path)
	require.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)
	assert.Equal(t, 100, run.ProgressPercent)
	assert.Equal(t, 2, run.TotalRecords)
	assert.Equal(t, 1, run.DuplicateUPCs)
	assert.Equal(t, 0, run.MultiUPCProducts)
	assert.Equal(t, "delimited-comma", run.Format)
	assert.NotNil(t, run.CompletedAt)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	c := page.Conflicts[0]
	assert.Equal(t, core.KindDuplicateUPC, c.Kind)
	assert.Equal(t, "012345678905", c.UPC)
	assert.Equal(t, []string{"A", "B"}, c.Products)
	assert.Equal(t, core.SeverityLow, c.Severity)
	assert.True(t, c.Automatable)
	assert.NotEmpty(t, c.Suggestions)
	assert.Equal(t, 1, page.Summary.BySeverity[core.SeverityLow])

	_, err = os.Stat(path)
	assert.NoError(t, err, "caller-owned source must be kept")
}

func TestService_MultiUPCProduct(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	path := writeFile(t, "inventory.csv", "UPC,SKU\n00000000111,X\n000000000222,X\n")

	run := analyze(t, svc, path)
	require.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	c := page.Conflicts[0]
	assert.Equal(t, core.KindMultiUPCProduct, c.Kind)
	assert.Equal(t, "X", c.ProductID)
	assert.Equal(t, []string{"000000000111", "000000000222"}, c.UPCs)
	assert.Equal(t, core.SeverityLow, c.Severity)
}

func TestService_MalformedRowsAreDropped(t *testing.T) {
	f := gofakeit.New(11)
	var b strings.Builder
	b.WriteString("UPC,SKU,Location\n")
	for i := 0; i < 1000; i++ {
		upc := fmt.Sprintf("%012d", 100000000000+i)
		if i%100 == 0 {
			upc = ""
		}
		fmt.Fprintf(&b, "%s,SKU-%04d,%s\n", upc, i, f.Numerify("A-##-##"))
	}
	svc := core.NewService(store.NewMemory(), nil, fastOptions())

	run := analyze(t, svc, writeFile(t, "big.csv", b.String()))
	require.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)
	assert.Equal(t, 990, run.TotalRecords)
	assert.Equal(t, 10, run.DroppedRecords[core.RejectMissingUPC])
	assert.Equal(t, 990, run.UniqueUPCs)
	assert.Zero(t, run.DuplicateUPCs)
}

func TestService_NeedsMappingThenResume(t *testing.T) {
	mem := store.NewMemory()
	svc := core.NewService(mem, nil, fastOptions())
	path := writeFile(t, "export.csv", "Col1,Col2\n012345678905,AB-1\n012345678905,AB-2\n012345678912,AB-2\n")

	run := analyze(t, svc, path)
	require.Equal(t, core.StatusNeedsMapping, run.Status, run.ErrorMessage)
	require.NotNil(t, run.Inference)
	assert.NotEmpty(t, run.Inference.Warnings)
	assert.Equal(t, []string{"Col1", "Col2"}, run.Header)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = svc.ResumeWithMapping(context.Background(), run.ID, schema.Mapping{schema.FieldUPC: "Col1", schema.FieldSKU: "Nope"})
	assert.ErrorIs(t, err, schema.ErrInvalidMapping)

	resumed, err := svc.ResumeWithMapping(context.Background(), run.ID, schema.Mapping{schema.FieldUPC: "Col1", schema.FieldSKU: "Col2"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsMapping, resumed.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := svc.WaitForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, final.Status, final.ErrorMessage)
	assert.Equal(t, 3, final.TotalRecords)
	assert.Equal(t, 1, final.DuplicateUPCs)
	assert.Equal(t, 1, final.MultiUPCProducts)

	_, err = svc.ResumeWithMapping(context.Background(), run.ID, schema.Mapping{schema.FieldUPC: "Col1", schema.FieldSKU: "Col2"})
	assert.ErrorIs(t, err, core.ErrRunImmutable)
}

func TestService_ResumeRequiresNeedsMapping(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"))
	require.Equal(t, core.StatusCompleted, run.Status)

	_, err := svc.ResumeWithMapping(context.Background(), run.ID, schema.Mapping{schema.FieldUPC: "UPC", schema.FieldSKU: "SKU"})
	assert.ErrorIs(t, err, core.ErrRunImmutable)

	_, err = svc.ResumeWithMapping(context.Background(), "missing", schema.Mapping{})
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestService_ProvidedMappingSkipsInference(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	path := writeFile(t, "export.csv", "Col1,Col2\n012345678905,AB-1\n012345678905,AB-2\n")

	started, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{
		FileName: "export.csv",
		Path:     path,
		Mapping:  schema.Mapping{schema.FieldUPC: "Col1", schema.FieldSKU: "Col2"},
	})
	require.NoError(t, err)
	run, err := svc.WaitForRun(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)
	assert.Nil(t, run.Inference)
	assert.Equal(t, 1, run.DuplicateUPCs)
}

func TestService_UnknownFormatFails(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	path := writeFile(t, "blob.bin", string([]byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10}))

	run := analyze(t, svc, path)
	assert.Equal(t, core.StatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
	assert.Contains(t, run.ErrorMessage, "Code: FMT001")
}

func TestService_CancelRun(t *testing.T) {
	gs := newGatedStore()
	svc := core.NewService(gs, nil, fastOptions())
	path := writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n")

	started, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{FileName: "a.csv", Path: path, OwnsSource: true})
	require.NoError(t, err)
	<-gs.entered

	require.NoError(t, svc.CancelRun(context.Background(), started.ID))
	run, err := svc.WaitForRun(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "RUN003")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "owned source is removed once the run fails")

	assert.ErrorIs(t, svc.CancelRun(context.Background(), started.ID), core.ErrRunImmutable)
	assert.Eventually(t, func() bool { return svc.RunLimiterStatus().Active == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_CancelNeedsMappingRun(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	run := analyze(t, svc, writeFile(t, "x.csv", "Col1,Col2\n012345678905,AB-1\n"))
	require.Equal(t, core.StatusNeedsMapping, run.Status)

	require.NoError(t, svc.CancelRun(context.Background(), run.ID))
	got, err := svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
}

func TestService_TimeBudget(t *testing.T) {
	opts := fastOptions()
	opts.BaseTimeout = time.Nanosecond
	opts.TimeoutPerMB = -1
	opts.MaxTimeout = time.Nanosecond
	// Inserts block until the budget expires.
	svc := core.NewService(newGatedStore(), nil, opts)

	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"))
	assert.Equal(t, core.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "RUN004")
}

func TestOptions_TimeBudget(t *testing.T) {
	opts := core.Options{BaseTimeout: time.Minute, TimeoutPerMB: 10 * time.Second, MaxTimeout: 5 * time.Minute}
	assert.Equal(t, time.Minute, opts.TimeBudget(0))
	assert.Equal(t, time.Minute+10*time.Second, opts.TimeBudget(1))
	assert.Equal(t, time.Minute+20*time.Second, opts.TimeBudget(1<<20+1))
	assert.Equal(t, 5*time.Minute, opts.TimeBudget(1<<40))
}

func TestService_PersistRetry(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory()}
	fs.failures.Store(2)
	svc := core.NewService(fs, nil, fastOptions())

	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n"))
	require.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)
	assert.EqualValues(t, 3, fs.calls.Load())

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestService_PersistRetryExhausted(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory()}
	fs.failures.Store(100)
	svc := core.NewService(fs, nil, fastOptions())

	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n"))
	assert.Equal(t, core.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "DB005")
	assert.EqualValues(t, 3, fs.calls.Load())

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

// commitHookStore runs afterCommit once the conflict set is saved, and
// honours ctx on run updates like a networked database would.
type commitHookStore struct {
	*store.Memory
	afterCommit func(runID string)
	failUpdate  func(run *core.AnalysisRun) bool
}

func (c *commitHookStore) ReplaceConflicts(ctx context.Context, runID string, cs []core.ConflictRecord) error {
	if err := c.Memory.ReplaceConflicts(ctx, runID, cs); err != nil {
		return err
	}
	if c.afterCommit != nil && len(cs) > 0 {
		c.afterCommit(runID)
	}
	return nil
}

func (c *commitHookStore) UpdateRun(ctx context.Context, run *core.AnalysisRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.failUpdate != nil && c.failUpdate(run) {
		return errors.New("connection reset by peer")
	}
	return c.Memory.UpdateRun(ctx, run)
}

func TestService_CancelAfterCommitStillCompletes(t *testing.T) {
	cs := &commitHookStore{Memory: store.NewMemory()}
	svc := core.NewService(cs, nil, fastOptions())
	cs.afterCommit = func(runID string) {
		assert.NoError(t, svc.CancelRun(context.Background(), runID))
	}

	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n"))
	require.Equal(t, core.StatusCompleted, run.Status, run.ErrorMessage)
	assert.Equal(t, 100, run.ProgressPercent)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestService_FailureAfterCommitClearsConflicts(t *testing.T) {
	cs := &commitHookStore{Memory: store.NewMemory()}
	cs.failUpdate = func(run *core.AnalysisRun) bool {
		return run.Status != core.StatusFailed && run.ProgressPercent >= 95
	}
	svc := core.NewService(cs, nil, fastOptions())

	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n"))
	require.Equal(t, core.StatusFailed, run.Status)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestService_ProgressIsMonotonic(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	var b strings.Builder
	b.WriteString("UPC,SKU\n")
	for i := 0; i < 3000; i++ {
		fmt.Fprintf(&b, "%012d,SKU-%d\n", 100000000000+i%500, i%700)
	}
	path := writeFile(t, "a.csv", b.String())

	started, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{FileName: "a.csv", Path: path})
	require.NoError(t, err)
	events, err := svc.SubscribeProgress(context.Background(), started.ID)
	require.NoError(t, err)

	var last core.ProgressEvent
	prev := -1
	for ev := range events {
		assert.GreaterOrEqual(t, ev.ProgressPercent, prev)
		prev = ev.ProgressPercent
		last = ev
	}
	assert.Equal(t, core.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.ProgressPercent)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.ProgressEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev core.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func TestService_PublishesStages(t *testing.T) {
	rn := &recordingNotifier{}
	svc := core.NewService(store.NewMemory(), rn, fastOptions())
	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"))
	require.Equal(t, core.StatusCompleted, run.Status)

	rn.mu.Lock()
	defer rn.mu.Unlock()
	var statuses []core.RunStatus
	for _, ev := range rn.events {
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []core.RunStatus{
		core.StatusParsing,
		core.StatusInferring,
		core.StatusNormalizing,
		core.StatusDetecting,
		core.StatusCompleted,
	}, statuses)
}

func TestService_LimiterRejectsWhenBusy(t *testing.T) {
	gs := newGatedStore()
	opts := fastOptions()
	opts.MaxConcurrent = 1
	opts.MaxWait = 10 * time.Millisecond
	svc := core.NewService(gs, nil, opts)

	first, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{
		FileName: "a.csv",
		Path:     writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"),
	})
	require.NoError(t, err)
	<-gs.entered

	second := writeFile(t, "b.csv", "UPC,SKU\n012345678905,A\n")
	_, err = svc.StartAnalysis(context.Background(), core.AnalysisRequest{FileName: "b.csv", Path: second, OwnsSource: true})
	assert.ErrorIs(t, err, core.ErrTooManyRuns)
	_, statErr := os.Stat(second)
	assert.True(t, os.IsNotExist(statErr), "rejected owned source is removed")

	close(gs.gate)
	run, err := svc.WaitForRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, run.Status)
}

func TestService_WaitForRunsStopsIntake(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"))
	require.Equal(t, core.StatusCompleted, run.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.WaitForRuns(ctx))

	_, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{FileName: "b.csv", Path: "/nonexistent"})
	assert.ErrorIs(t, err, core.ErrShuttingDown)
}

func TestService_WaitForRunsCancelsOnDeadline(t *testing.T) {
	gs := newGatedStore()
	svc := core.NewService(gs, nil, fastOptions())
	started, err := svc.StartAnalysis(context.Background(), core.AnalysisRequest{
		FileName: "a.csv",
		Path:     writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"),
	})
	require.NoError(t, err)
	<-gs.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, svc.WaitForRuns(ctx))

	run, err := svc.GetRun(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "RUN007")
}

func TestService_FailInterrupted(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now().UTC()
	orphan := &core.AnalysisRun{ID: "orphan", Status: core.StatusNormalizing, Thresholds: core.DefaultThresholds(), CreatedAt: now, UpdatedAt: now}
	waiting := &core.AnalysisRun{ID: "waiting", Status: core.StatusNeedsMapping, Thresholds: core.DefaultThresholds(), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.CreateRun(context.Background(), orphan))
	require.NoError(t, mem.CreateRun(context.Background(), waiting))

	svc := core.NewService(mem, nil, fastOptions())
	n, err := svc.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.GetRun(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	got, err = mem.GetRun(context.Background(), "waiting")
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsMapping, got.Status)
}

func TestService_UpdateConflictStatus(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n"))
	require.Equal(t, core.StatusCompleted, run.Status)

	page, err := svc.ListConflicts(context.Background(), run.ID, core.ConflictFilter{})
	require.NoError(t, err)
	id := page.Conflicts[0].ID

	_, err = svc.UpdateConflictStatus(context.Background(), id, core.ConflictResolved)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	v, err := svc.UpdateConflictStatus(context.Background(), id, core.ConflictAssigned)
	require.NoError(t, err)
	assert.Equal(t, core.ConflictAssigned, v.Status)

	got, err := svc.GetConflict(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.ConflictAssigned, got.Status)

	_, err = svc.UpdateConflictStatus(context.Background(), "missing", core.ConflictAssigned)
	assert.ErrorIs(t, err, core.ErrConflictNotFound)
}

func TestService_SubscribeFinishedRun(t *testing.T) {
	svc := core.NewService(store.NewMemory(), nil, fastOptions())
	run := analyze(t, svc, writeFile(t, "a.csv", "UPC,SKU\n012345678905,A\n"))

	ch, err := svc.SubscribeProgress(context.Background(), run.ID)
	require.NoError(t, err)
	var got []core.ProgressEvent
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, core.StatusCompleted, got[0].Status)

	_, err = svc.SubscribeProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestSpoolUpload(t *testing.T) {
	dir := t.TempDir()
	path, n, err := core.SpoolUpload(dir, "inv.CSV", strings.NewReader("UPC,SKU\n"), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	assert.True(t, strings.HasSuffix(path, ".csv"))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "upload-"))

	_, _, err = core.SpoolUpload(dir, "big.csv", strings.NewReader(strings.Repeat("x", 101)), 100)
	assert.ErrorIs(t, err, core.ErrFileTooLarge)
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "rejected upload leaves nothing behind")
}
