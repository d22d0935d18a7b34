package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/logging"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id         UUID PRIMARY KEY,
  status     TEXT NOT NULL,
  data       JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS normalized_records (
  seq          BIGSERIAL PRIMARY KEY,
  run_id       UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
  product_id   TEXT NOT NULL,
  upc          TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  location     TEXT NOT NULL,
  line         INTEGER NOT NULL,
  raw          TEXT[] NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_normalized_records_run ON normalized_records(run_id, seq);

CREATE TABLE IF NOT EXISTS conflicts (
  id          UUID PRIMARY KEY,
  run_id      UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
  kind        TEXT NOT NULL,
  severity    SMALLINT NOT NULL,
  status      TEXT NOT NULL,
  rank        INTEGER NOT NULL,
  cost_impact DOUBLE PRECISION NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL,
  data        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_run_rank ON conflicts(run_id, rank);
`

// Postgres is a core.Store on PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// OpenPostgres connects a pool configured from cfg, verifies it and
// ensures the schema.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		logging.FromContext(ctx).Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	p := NewPostgres(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool. The store closes it on Close.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, run *core.AnalysisRun) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, status, data, created_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), data, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run *core.AnalysisRun) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_runs SET status = $2, data = $3
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
		run.ID, string(run.Status), data)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := p.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return core.ErrRunImmutable
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*core.AnalysisRun, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM analysis_runs WHERE id::text = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(data)
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]*core.AnalysisRun, error) {
	q := `SELECT data FROM analysis_runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	datas, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]*core.AnalysisRun, 0, len(datas))
	for _, data := range datas {
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (p *Postgres) DeleteRecords(ctx context.Context, runID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM normalized_records WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// InsertRecords bulk loads one batch with COPY, which is a single
// statement and so atomic.
func (p *Postgres) InsertRecords(ctx context.Context, runID string, recs []core.NormalizedRecord) error {
	rid, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrRunNotFound, err)
	}
	_, err = p.pool.CopyFrom(ctx,
		pgx.Identifier{"normalized_records"},
		[]string{"run_id", "product_id", "upc", "warehouse_id", "location", "line", "raw"},
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			r := recs[i]
			return []any{rid, r.ProductID, r.UPC, r.WarehouseID, r.Location, r.Line, r.Raw}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	return nil
}

func (p *Postgres) ScanRecords(ctx context.Context, runID string, batchSize int, fn func([]core.NormalizedRecord) error) error {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	var after int64
	for {
		batch, last, err := p.recordPage(ctx, runID, after, batchSize)
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

func (p *Postgres) recordPage(ctx context.Context, runID string, after int64, limit int) ([]core.NormalizedRecord, int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT seq, product_id, upc, warehouse_id, location, line, raw
		 FROM normalized_records WHERE run_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
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
		var r core.NormalizedRecord
		if err := rows.Scan(&last, &r.ProductID, &r.UPC, &r.WarehouseID, &r.Location, &r.Line, &r.Raw); err != nil {
			return nil, 0, fmt.Errorf("scan records: %w", err)
		}
		out = append(out, r)
	}
	return out, last, rows.Err()
}

// ReplaceConflicts deletes and reloads the run's set in one transaction.
func (p *Postgres) ReplaceConflicts(ctx context.Context, runID string, cs []core.ConflictRecord) error {
	rid, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrRunNotFound, err)
	}
	rows := make([][]any, len(cs))
	for i, c := range cs {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		cid, err := uuid.Parse(c.ID)
		if err != nil {
			return fmt.Errorf("conflict id %q: %w", c.ID, err)
		}
		rows[i] = []any{cid, rid, string(c.Kind), int16(c.Severity), string(c.Status), c.Rank, c.CostImpact, c.UpdatedAt, data}
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conflicts WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("clear conflicts: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"conflicts"},
			[]string{"id", "run_id", "kind", "severity", "status", "rank", "cost_impact", "updated_at", "data"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy conflicts: %w", err)
		}
		return nil
	})
}

func (p *Postgres) ListConflicts(ctx context.Context, runID string, f core.ConflictFilter) ([]core.ConflictRecord, int, error) {
	where, args := conflictWhere(runID, f, func(n int) string { return fmt.Sprintf("$%d", n) })

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conflicts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conflicts: %w", err)
	}

	n := len(args)
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT data, status, updated_at FROM conflicts WHERE %s ORDER BY rank LIMIT $%d OFFSET $%d`, where, n+1, n+2),
		append(args, f.PageLimit(), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []core.ConflictRecord
	for rows.Next() {
		c, err := scanPgConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (p *Postgres) SummarizeConflicts(ctx context.Context, runID string) (core.ConflictSummary, error) {
	sum := core.NewConflictSummary()
	rows, err := p.pool.Query(ctx,
		`SELECT severity, kind, status, COUNT(*), COALESCE(SUM(cost_impact), 0)
		 FROM conflicts WHERE run_id = $1 GROUP BY severity, kind, status`, runID)
	if err != nil {
		return sum, fmt.Errorf("summarize conflicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sev          int16
			kind, status string
			n            int64
			cost         float64
		)
		if err := rows.Scan(&sev, &kind, &status, &n, &cost); err != nil {
			return sum, err
		}
		foldSummary(&sum, core.Severity(sev), core.ConflictKind(kind), core.ConflictStatus(status), int(n), cost)
	}
	return sum, rows.Err()
}

func (p *Postgres) GetConflict(ctx context.Context, id string) (core.ConflictRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT data, status, updated_at FROM conflicts WHERE id::text = $1`, id)
	c, err := scanPgConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ConflictRecord{}, core.ErrConflictNotFound
	}
	return c, err
}

func (p *Postgres) SetConflictStatus(ctx context.Context, id string, from, to core.ConflictStatus, at time.Time) (core.ConflictRecord, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE conflicts SET status = $3, updated_at = $4 WHERE id::text = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return core.ConflictRecord{}, fmt.Errorf("update conflict status: %w", err)
	}
	cur, err := p.GetConflict(ctx, id)
	if err != nil {
		return core.ConflictRecord{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.ConflictRecord{}, fmt.Errorf("%w: status is %s, not %s", core.ErrInvalidTransition, cur.Status, from)
	}
	return cur, nil
}

func scanPgConflict(row pgx.Row) (core.ConflictRecord, error) {
	var (
		c       core.ConflictRecord
		data    []byte
		status  string
		updated time.Time
	)
	if err := row.Scan(&data, &status, &updated); err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode conflict: %w", err)
	}
	c.Status = core.ConflictStatus(status)
	c.UpdatedAt = updated.UTC()
	return c, nil
}
