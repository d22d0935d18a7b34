package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/upcguard/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id         TEXT PRIMARY KEY,
  status     TEXT NOT NULL,
  data       TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs(created_at);

CREATE TABLE IF NOT EXISTS normalized_records (
  seq          INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id       TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
  product_id   TEXT NOT NULL,
  upc          TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  location     TEXT NOT NULL,
  line         INTEGER NOT NULL,
  raw          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_normalized_records_run ON normalized_records(run_id, seq);

CREATE TABLE IF NOT EXISTS conflicts (
  id          TEXT PRIMARY KEY,
  run_id      TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
  kind        TEXT NOT NULL,
  severity    INTEGER NOT NULL,
  status      TEXT NOT NULL,
  rank        INTEGER NOT NULL,
  cost_impact REAL NOT NULL,
  updated_at  TEXT NOT NULL,
  data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_run_rank ON conflicts(run_id, rank);
`

// SQLite is a core.Store on a local SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ core.Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and ensures its schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateRun(ctx context.Context, run *core.AnalysisRun) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, status, data, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), string(data), formatTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateRun(ctx context.Context, run *core.AnalysisRun) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET status = ?, data = ?
		 WHERE id = ? AND status NOT IN ('COMPLETED', 'FAILED')`,
		string(run.Status), string(data), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return core.ErrRunImmutable
}

func (s *SQLite) GetRun(ctx context.Context, id string) (*core.AnalysisRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM analysis_runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun([]byte(data))
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]*core.AnalysisRun, error) {
	q := `SELECT data FROM analysis_runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*core.AnalysisRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		run, err := decodeRun([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteRecords(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM normalized_records WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *SQLite) InsertRecords(ctx context.Context, runID string, recs []core.NormalizedRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO normalized_records (run_id, product_id, upc, warehouse_id, location, line, raw)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range recs {
			raw, err := json.Marshal(r.Raw)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, runID, r.ProductID, r.UPC, r.WarehouseID, r.Location, r.Line, string(raw)); err != nil {
				return fmt.Errorf("insert record line %d: %w", r.Line, err)
			}
		}
		return nil
	})
}

// ScanRecords pages through the run's records by sequence number, so no
// read transaction is held while fn runs.
func (s *SQLite) ScanRecords(ctx context.Context, runID string, batchSize int, fn func([]core.NormalizedRecord) error) error {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	var after int64
	for {
		batch, last, err := s.recordPage(ctx, runID, after, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		after = last
	}
}

func (s *SQLite) recordPage(ctx context.Context, runID string, after int64, limit int) ([]core.NormalizedRecord, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, product_id, upc, warehouse_id, location, line, raw
		 FROM normalized_records WHERE run_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		runID, after, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	var (
		out  []core.NormalizedRecord
		last int64
	)
	for rows.Next() {
		var (
			r   core.NormalizedRecord
			raw string
		)
		if err := rows.Scan(&last, &r.ProductID, &r.UPC, &r.WarehouseID, &r.Location, &r.Line, &raw); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(raw), &r.Raw); err != nil {
			return nil, 0, fmt.Errorf("decode record raw cells: %w", err)
		}
		out = append(out, r)
	}
	return out, last, rows.Err()
}

func (s *SQLite) ReplaceConflicts(ctx context.Context, runID string, cs []core.ConflictRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conflicts WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear conflicts: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO conflicts (id, run_id, kind, severity, status, rank, cost_impact, updated_at, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range cs {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx, c.ID, runID, string(c.Kind), int(c.Severity), string(c.Status),
				c.Rank, c.CostImpact, formatTime(c.UpdatedAt), string(data))
			if err != nil {
				return fmt.Errorf("insert conflict %s: %w", c.Key, err)
			}
		}
		return nil
	})
}

func (s *SQLite) ListConflicts(ctx context.Context, runID string, f core.ConflictFilter) ([]core.ConflictRecord, int, error) {
	where, args := conflictWhere(runID, f, func(int) string { return "?" })

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conflicts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data, status, updated_at FROM conflicts WHERE `+where+` ORDER BY rank LIMIT ? OFFSET ?`,
		append(args, f.PageLimit(), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []core.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *SQLite) SummarizeConflicts(ctx context.Context, runID string) (core.ConflictSummary, error) {
	sum := core.NewConflictSummary()
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, kind, status, COUNT(*), COALESCE(SUM(cost_impact), 0)
		 FROM conflicts WHERE run_id = ? GROUP BY severity, kind, status`, runID)
	if err != nil {
		return sum, fmt.Errorf("summarize conflicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sev          int
			kind, status string
			n            int
			cost         float64
		)
		if err := rows.Scan(&sev, &kind, &status, &n, &cost); err != nil {
			return sum, err
		}
		foldSummary(&sum, core.Severity(sev), core.ConflictKind(kind), core.ConflictStatus(status), n, cost)
	}
	return sum, rows.Err()
}

func (s *SQLite) GetConflict(ctx context.Context, id string) (core.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, status, updated_at FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ConflictRecord{}, core.ErrConflictNotFound
	}
	return c, err
}

func (s *SQLite) SetConflictStatus(ctx context.Context, id string, from, to core.ConflictStatus, at time.Time) (core.ConflictRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return core.ConflictRecord{}, fmt.Errorf("update conflict status: %w", err)
	}
	n, _ := res.RowsAffected()
	cur, err := s.GetConflict(ctx, id)
	if err != nil {
		return core.ConflictRecord{}, err
	}
	if n == 0 {
		return core.ConflictRecord{}, fmt.Errorf("%w: status is %s, not %s", core.ErrInvalidTransition, cur.Status, from)
	}
	return cur, nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanConflict decodes the stored document; the status columns are
// authoritative since SetConflictStatus only touches them.
func scanConflict(row rowScanner) (core.ConflictRecord, error) {
	var (
		c                 core.ConflictRecord
		data, status, upd string
	)
	if err := row.Scan(&data, &status, &upd); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return c, fmt.Errorf("decode conflict: %w", err)
	}
	c.Status = core.ConflictStatus(status)
	t, err := time.Parse(timeLayout, upd)
	if err != nil {
		return c, fmt.Errorf("decode conflict updated_at: %w", err)
	}
	c.UpdatedAt = t
	return c, nil
}

// conflictWhere builds the filter clause shared by the SQL stores. ph
// renders the n-th placeholder.
func conflictWhere(runID string, f core.ConflictFilter, ph func(n int) string) (string, []any) {
	args := []any{runID}
	conds := []string{"run_id = " + ph(1)}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		conds = append(conds, "kind = "+ph(len(args)))
	}
	if f.Severity != 0 {
		args = append(args, int(f.Severity))
		conds = append(conds, "severity = "+ph(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = "+ph(len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func foldSummary(sum *core.ConflictSummary, sev core.Severity, kind core.ConflictKind, status core.ConflictStatus, n int, cost float64) {
	sum.Total += n
	sum.BySeverity[sev] += n
	sum.ByKind[kind] += n
	sum.ByStatus[status] += n
	sum.TotalCostImpact += cost
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
