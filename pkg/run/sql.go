package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// SQLRunStore implements RunStore over database/sql. It works against
// Postgres and SQLite via standard drivers.
type SQLRunStore struct {
	db *sql.DB
}

// NewSQLRunStore wraps an open database handle.
func NewSQLRunStore(db *sql.DB) *SQLRunStore {
	return &SQLRunStore{db: db}
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	tenant_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, run_id)
);
`

// Init creates the runs table.
func (s *SQLRunStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, runsSchema)
	return err
}

// Create inserts a run row.
func (s *SQLRunStore) Create(ctx context.Context, r Run) error {
	query := `
		INSERT INTO runs (tenant_id, run_id, deal_id, mode, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.TenantID, r.RunID, r.DealID, string(r.Mode), string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// Get returns one run row.
func (s *SQLRunStore) Get(ctx context.Context, tenantID, runID string) (Run, error) {
	query := `SELECT tenant_id, run_id, deal_id, mode, status, created_at, updated_at FROM runs WHERE tenant_id = $1 AND run_id = $2`
	row := s.db.QueryRowContext(ctx, query, tenantID, runID)

	var r Run
	err := row.Scan(&r.TenantID, &r.RunID, &r.DealID, &r.Mode, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, idiserr.New(idiserr.KindNotFound, "run not found").WithPath(runID)
		}
		return Run{}, err
	}
	return r, nil
}

// UpdateStatus moves the run to a new status.
func (s *SQLRunStore) UpdateStatus(ctx context.Context, tenantID, runID string, status Status, at time.Time) error {
	query := `UPDATE runs SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND run_id = $4`
	res, err := s.db.ExecContext(ctx, query, string(status), at, tenantID, runID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return idiserr.New(idiserr.KindNotFound, "run not found").WithPath(runID)
	}
	return nil
}

// Delete removes a run row.
func (s *SQLRunStore) Delete(ctx context.Context, tenantID, runID string) error {
	query := `DELETE FROM runs WHERE tenant_id = $1 AND run_id = $2`
	_, err := s.db.ExecContext(ctx, query, tenantID, runID)
	return err
}

// SQLLedger implements StepLedger over database/sql.
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const runStepsSchema = `
CREATE TABLE IF NOT EXISTS run_steps (
	tenant_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	step TEXT NOT NULL,
	status TEXT NOT NULL,
	result_summary TEXT,
	error_code TEXT,
	error_message TEXT,
	block_reason TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, run_id, step)
);
`

// Init creates the run_steps table.
func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, runStepsSchema)
	return err
}

// Get returns one ledger row.
func (l *SQLLedger) Get(ctx context.Context, tenantID, runID string, step Step) (StepRecord, error) {
	query := `
		SELECT tenant_id, run_id, step, status, result_summary, error_code, error_message, block_reason, retry_count, started_at, updated_at
		FROM run_steps WHERE tenant_id = $1 AND run_id = $2 AND step = $3
	`
	row := l.db.QueryRowContext(ctx, query, tenantID, runID, string(step))
	rec, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StepRecord{}, idiserr.New(idiserr.KindNotFound, "step not in ledger").WithPath(string(step))
		}
		return StepRecord{}, err
	}
	return rec, nil
}

// Upsert writes the ledger row for (run, step).
func (l *SQLLedger) Upsert(ctx context.Context, rec StepRecord) error {
	summary, err := marshalSummary(rec.ResultSummary)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO run_steps (tenant_id, run_id, step, status, result_summary, error_code, error_message, block_reason, retry_count, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, run_id, step) DO UPDATE SET
			status = EXCLUDED.status,
			result_summary = EXCLUDED.result_summary,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			block_reason = EXCLUDED.block_reason,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err = l.db.ExecContext(ctx, query,
		rec.TenantID, rec.RunID, string(rec.Step), string(rec.Status),
		summary, nullable(rec.ErrorCode), nullable(rec.ErrorMessage), nullable(rec.BlockReason),
		rec.RetryCount, rec.StartedAt, rec.UpdatedAt,
	)
	return err
}

// ListByRun returns the run's ledger rows in canonical step order.
func (l *SQLLedger) ListByRun(ctx context.Context, tenantID, runID string) ([]StepRecord, error) {
	query := `
		SELECT tenant_id, run_id, step, status, result_summary, error_code, error_message, block_reason, retry_count, started_at, updated_at
		FROM run_steps WHERE tenant_id = $1 AND run_id = $2
	`
	rows, err := l.db.QueryContext(ctx, query, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]StepRecord, 0)
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return stepIndex(result[i].Step) < stepIndex(result[j].Step)
	})
	return result, nil
}

func stepIndex(step Step) int {
	for i, s := range fullSequence {
		if s == step {
			return i
		}
	}
	return len(fullSequence)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (StepRecord, error) {
	var (
		rec     StepRecord
		summary sql.NullString
		errCode sql.NullString
		errMsg  sql.NullString
		blocked sql.NullString
	)
	err := row.Scan(&rec.TenantID, &rec.RunID, &rec.Step, &rec.Status,
		&summary, &errCode, &errMsg, &blocked, &rec.RetryCount, &rec.StartedAt, &rec.UpdatedAt)
	if err != nil {
		return StepRecord{}, err
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &rec.ResultSummary); err != nil {
			return StepRecord{}, err
		}
	}
	rec.ErrorCode = errCode.String
	rec.ErrorMessage = errMsg.String
	rec.BlockReason = blocked.String
	return rec, nil
}

func marshalSummary(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
