package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/upcguard/internal/core"
)

// Memory is an in-process core.Store. Everything is lost on exit; it backs
// tests and one-shot CLI analyses.
type Memory struct {
	mu        sync.RWMutex
	runs      map[string]*core.AnalysisRun
	records   map[string][]core.NormalizedRecord
	conflicts map[string][]core.ConflictRecord // by run, rank order
	owner     map[string]string                // conflict id -> run id
}

var _ core.Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		runs:      make(map[string]*core.AnalysisRun),
		records:   make(map[string][]core.NormalizedRecord),
		conflicts: make(map[string][]core.ConflictRecord),
		owner:     make(map[string]string),
	}
}

func (m *Memory) CreateRun(_ context.Context, run *core.AnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("create run %s: duplicate key", run.ID)
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run *core.AnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[run.ID]
	if !ok {
		return core.ErrRunNotFound
	}
	if cur.Status.Terminal() {
		return core.ErrRunImmutable
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*core.AnalysisRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return run.Clone(), nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]*core.AnalysisRun, error) {
	m.mu.RLock()
	out := make([]*core.AnalysisRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteRecords(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, runID)
	return nil
}

func (m *Memory) InsertRecords(_ context.Context, runID string, recs []core.NormalizedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return core.ErrRunNotFound
	}
	for _, r := range recs {
		r.Raw = append([]string(nil), r.Raw...)
		m.records[runID] = append(m.records[runID], r)
	}
	return nil
}

func (m *Memory) ScanRecords(ctx context.Context, runID string, batchSize int, fn func([]core.NormalizedRecord) error) error {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}

	// Records are only appended or dropped wholesale, so the slice taken
	// here stays valid without the lock.
	m.mu.RLock()
	recs := m.records[runID]
	m.mu.RUnlock()

	for start := 0; start < len(recs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(recs))
		batch := make([]core.NormalizedRecord, end-start)
		copy(batch, recs[start:end])
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) ReplaceConflicts(_ context.Context, runID string, cs []core.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return core.ErrRunNotFound
	}

	for _, old := range m.conflicts[runID] {
		delete(m.owner, old.ID)
	}
	set := make([]core.ConflictRecord, len(cs))
	for i, c := range cs {
		set[i] = cloneConflict(c)
		m.owner[c.ID] = runID
	}
	sort.SliceStable(set, func(i, j int) bool { return set[i].Rank < set[j].Rank })
	m.conflicts[runID] = set
	return nil
}

func (m *Memory) ListConflicts(_ context.Context, runID string, f core.ConflictFilter) ([]core.ConflictRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []core.ConflictRecord
	for _, c := range m.conflicts[runID] {
		if f.Matches(c) {
			matched = append(matched, c)
		}
	}
	total := len(matched)

	offset := min(max(f.Offset, 0), total)
	end := min(offset+f.PageLimit(), total)
	page := make([]core.ConflictRecord, 0, end-offset)
	for _, c := range matched[offset:end] {
		page = append(page, cloneConflict(c))
	}
	return page, total, nil
}

func (m *Memory) SummarizeConflicts(_ context.Context, runID string) (core.ConflictSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := core.NewConflictSummary()
	for _, c := range m.conflicts[runID] {
		sum.Add(c)
	}
	return sum, nil
}

func (m *Memory) GetConflict(_ context.Context, id string) (core.ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, _, ok := m.findConflict(id)
	if !ok {
		return core.ConflictRecord{}, core.ErrConflictNotFound
	}
	return cloneConflict(*c), nil
}

func (m *Memory) SetConflictStatus(_ context.Context, id string, from, to core.ConflictStatus, at time.Time) (core.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, _, ok := m.findConflict(id)
	if !ok {
		return core.ConflictRecord{}, core.ErrConflictNotFound
	}
	if c.Status != from {
		return core.ConflictRecord{}, fmt.Errorf("%w: status is %s, not %s", core.ErrInvalidTransition, c.Status, from)
	}
	c.Status = to
	c.UpdatedAt = at
	return cloneConflict(*c), nil
}

func (m *Memory) Close() error { return nil }

// findConflict returns a pointer into the stored set. Callers hold m.mu.
func (m *Memory) findConflict(id string) (*core.ConflictRecord, string, bool) {
	runID, ok := m.owner[id]
	if !ok {
		return nil, "", false
	}
	set := m.conflicts[runID]
	for i := range set {
		if set[i].ID == id {
			return &set[i], runID, true
		}
	}
	return nil, "", false
}

func cloneConflict(c core.ConflictRecord) core.ConflictRecord {
	c.Counterparts = append([]string(nil), c.Counterparts...)
	c.Locations = append([]string(nil), c.Locations...)
	c.Warehouses = append([]string(nil), c.Warehouses...)
	return c
}
