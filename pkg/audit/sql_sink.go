package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/idis-platform/idis/pkg/canonical"
)

// SQLSink persists events to a relational table. It works with both
// Postgres and SQLite via standard drivers. The canonical JSON body is
// stored alongside the indexed columns so exports reproduce the exact
// bytes that were emitted.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink wraps an open database handle.
func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	idempotency_key TEXT,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_events (tenant_id, occurred_at);
`

// Init creates the audit table if it does not exist.
func (s *SQLSink) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, auditSchema)
	return err
}

// Emit inserts one row. A duplicate event_id violates the primary key
// and fails the emit; event ids are producer-unique by construction.
func (s *SQLSink) Emit(ctx context.Context, e Event) error {
	body, err := canonical.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: canonicalize event %s: %w", e.EventID, err)
	}
	query := `
		INSERT INTO audit_events (event_id, tenant_id, occurred_at, event_type, severity, resource_type, resource_id, request_id, idempotency_key, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.EventID, e.TenantID, e.OccurredAt, e.EventType, string(e.Severity),
		e.Resource.ResourceType, e.Resource.ResourceID,
		e.Request.RequestID, e.Request.IdempotencyKey, string(body),
	)
	if err != nil {
		return fmt.Errorf("audit: insert event %s: %w", e.EventID, err)
	}
	return nil
}

// QueryFilter narrows an audit query. Zero values mean "no constraint"
// except TenantID, which is always required: audit reads are tenant
// scoped like every other read in the system.
type QueryFilter struct {
	TenantID  string
	EventType string
	Severity  Severity
	From      time.Time
	To        time.Time
	Limit     int
}

// Query returns matching events ordered by occurrence time.
func (s *SQLSink) Query(ctx context.Context, f QueryFilter) ([]Event, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("audit: query requires tenant_id")
	}
	query := `SELECT body FROM audit_events WHERE tenant_id = $1`
	args := []any{f.TenantID}
	n := 1
	if f.EventType != "" {
		n++
		query += fmt.Sprintf(" AND event_type = $%d", n)
		args = append(args, f.EventType)
	}
	if f.Severity != "" {
		n++
		query += fmt.Sprintf(" AND severity = $%d", n)
		args = append(args, string(f.Severity))
	}
	if !f.From.IsZero() {
		n++
		query += fmt.Sprintf(" AND occurred_at >= $%d", n)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		n++
		query += fmt.Sprintf(" AND occurred_at <= $%d", n)
		args = append(args, f.To)
	}
	query += " ORDER BY occurred_at ASC"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Event, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		e, err := ValidateRaw([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("audit: stored event corrupt: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
