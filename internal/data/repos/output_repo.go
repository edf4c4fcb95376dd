package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// ErrNotFound is returned when no persisted output exists
var ErrNotFound = errors.New("output not found")

// DBTX is the subset of pgxpool.Pool used by the repository
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutputRecord is one persisted engine execution
type OutputRecord struct {
	CycleID string                     `json:"cycle_id"`
	Result  *contracts.ExecutionResult `json:"result"`
}

// OutputRepository persists engine execution results
// ⭐ SSOT: 엔진 출력 저장/조회는 여기서만
type OutputRepository struct {
	db DBTX
}

// NewOutputRepository creates a new output repository
func NewOutputRepository(db DBTX) *OutputRepository {
	return &OutputRepository{db: db}
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS oracle;
	CREATE TABLE IF NOT EXISTS oracle.engine_outputs (
		id            BIGSERIAL PRIMARY KEY,
		cycle_id      TEXT        NOT NULL,
		engine_id     TEXT        NOT NULL,
		success       BOOLEAN     NOT NULL,
		stale         BOOLEAN     NOT NULL DEFAULT FALSE,
		signal        TEXT        NOT NULL DEFAULT '',
		primary_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		change_24h    DOUBLE PRECISION NOT NULL DEFAULT 0,
		change_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
		analysis      TEXT        NOT NULL DEFAULT '',
		sub_metrics   JSONB,
		error         TEXT        NOT NULL DEFAULT '',
		error_kind    TEXT        NOT NULL DEFAULT '',
		elapsed_ms    BIGINT      NOT NULL DEFAULT 0,
		computed_at   TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS engine_outputs_engine_completed_idx
		ON oracle.engine_outputs (engine_id, completed_at DESC);
`

// EnsureSchema creates the output table when missing
func (r *OutputRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create output schema: %w", err)
	}
	return nil
}

const insertSQL = `
	INSERT INTO oracle.engine_outputs (
		cycle_id, engine_id, success, stale, signal,
		primary_value, change_24h, change_pct, confidence,
		analysis, sub_metrics, error, error_kind,
		elapsed_ms, computed_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

// SaveCycle stores every result of one cycle in a single transaction
func (r *OutputRepository) SaveCycle(ctx context.Context, cycleID string, results map[string]*contracts.ExecutionResult) error {
	if len(results) == 0 {
		return nil
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, id := range ids {
		args, err := insertArgs(cycleID, results[id])
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to insert output %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit outputs: %w", err)
	}
	return nil
}

func insertArgs(cycleID string, res *contracts.ExecutionResult) ([]any, error) {
	var (
		signal     string
		primary    contracts.Metric
		confidence float64
		analysis   string
		subMetrics []byte
		computedAt *time.Time
	)

	if out := res.Output; out != nil {
		signal = string(out.Signal)
		primary = out.Primary
		confidence = out.Confidence
		analysis = out.Analysis
		if len(out.SubMetrics) > 0 {
			data, err := json.Marshal(out.SubMetrics)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal sub metrics for %s: %w", res.EngineID, err)
			}
			subMetrics = data
		}
		if !out.ComputedAt.IsZero() {
			t := out.ComputedAt
			computedAt = &t
		}
	}

	return []any{
		cycleID, res.EngineID, res.Success, res.Stale, signal,
		primary.Value, primary.Change24h, primary.ChangePct, confidence,
		analysis, subMetrics, res.Error, string(res.ErrorKind),
		res.Elapsed.Milliseconds(), computedAt, res.CompletedAt,
	}, nil
}

const selectColumns = `
	cycle_id, engine_id, success, stale, signal,
	primary_value, change_24h, change_pct, confidence,
	analysis, sub_metrics, error, error_kind,
	elapsed_ms, computed_at, completed_at
`

// Latest returns the most recent persisted output of an engine
func (r *OutputRepository) Latest(ctx context.Context, engineID string) (*OutputRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM oracle.engine_outputs
		WHERE engine_id = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, engineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, engineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest output: %w", err)
	}
	return rec, nil
}

// History returns up to limit outputs of an engine, newest first
func (r *OutputRepository) History(ctx context.Context, engineID string, limit int) ([]OutputRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + selectColumns + `
		FROM oracle.engine_outputs
		WHERE engine_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, engineID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query output history: %w", err)
	}
	defer rows.Close()

	var records []OutputRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Prune deletes outputs completed before cutoff
func (r *OutputRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oracle.engine_outputs WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outputs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*OutputRecord, error) {
	var (
		rec        OutputRecord
		res        contracts.ExecutionResult
		out        contracts.EngineOutput
		signal     string
		errorKind  string
		subMetrics []byte
		elapsedMs  int64
		computedAt *time.Time
	)

	err := row.Scan(
		&rec.CycleID, &res.EngineID, &res.Success, &res.Stale, &signal,
		&out.Primary.Value, &out.Primary.Change24h, &out.Primary.ChangePct, &out.Confidence,
		&out.Analysis, &subMetrics, &res.Error, &errorKind,
		&elapsedMs, &computedAt, &res.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	res.ErrorKind = contracts.ErrorKind(errorKind)
	res.Elapsed = time.Duration(elapsedMs) * time.Millisecond

	// signal이 비어 있으면 출력 없음 (실패 + last-known-good 없음)
	if signal != "" {
		out.Signal = contracts.Signal(signal)
		if computedAt != nil {
			out.ComputedAt = *computedAt
		}
		if len(subMetrics) > 0 {
			if err := json.Unmarshal(subMetrics, &out.SubMetrics); err != nil {
				return nil, fmt.Errorf("decode sub metrics: %w", err)
			}
		}
		res.Output = &out
	}

	rec.Result = &res
	return &rec, nil
}
