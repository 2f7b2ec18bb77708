package storage

import (
	"context"
	"time"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Subject types for deal assignments.
const (
	subjectActor = "ACTOR"
	subjectGroup = "GROUP"
)

// SQLDirectory answers the ABAC assignment questions from the deals,
// deal_assignments and actor_groups tables. The read methods satisfy
// policy.DealDirectory, whose answers are plain booleans: a query
// failure therefore reads as "no", which is the fail-closed direction
// for an access check.
type SQLDirectory struct {
	db      *TenantDB
	timeout time.Duration
	clock   func() time.Time
}

// DirectoryOption configures a SQLDirectory.
type DirectoryOption func(*SQLDirectory)

// WithDirectoryClock overrides the time source, for tests.
func WithDirectoryClock(clock func() time.Time) DirectoryOption {
	return func(d *SQLDirectory) { d.clock = clock }
}

// NewSQLDirectory wraps a tenant-scoped database.
func NewSQLDirectory(db *TenantDB, opts ...DirectoryOption) *SQLDirectory {
	d := &SQLDirectory{
		db:      db,
		timeout: 5 * time.Second,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterDeal adds a deal to the tenant's registry.
func (d *SQLDirectory) RegisterDeal(ctx context.Context, tenantID, dealID, name string) error {
	if dealID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "storage: deal_id is required").WithPath("deal_id")
	}
	return d.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO deals (tenant_id, deal_id, deal_name, created_at) VALUES ($1, $2, $3, $4)`,
			tenantID, dealID, name, d.clock())
		if err != nil {
			return idiserr.Wrapf(idiserr.KindConflict, err, "storage: register deal %s", dealID)
		}
		return nil
	})
}

// Assign grants an actor direct access to a deal.
func (d *SQLDirectory) Assign(ctx context.Context, tenantID, dealID, actorID string) error {
	return d.insertAssignment(ctx, tenantID, dealID, subjectActor, actorID)
}

// AssignGroup grants a group access to a deal.
func (d *SQLDirectory) AssignGroup(ctx context.Context, tenantID, dealID, group string) error {
	return d.insertAssignment(ctx, tenantID, dealID, subjectGroup, group)
}

func (d *SQLDirectory) insertAssignment(ctx context.Context, tenantID, dealID, subjectType, subjectID string) error {
	if subjectID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "storage: assignment subject is required")
	}
	return d.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO deal_assignments (tenant_id, deal_id, subject_type, subject_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
			tenantID, dealID, subjectType, subjectID, d.clock())
		if err != nil {
			return idiserr.Wrapf(idiserr.KindConflict, err, "storage: assign %s to deal %s", subjectID, dealID)
		}
		return nil
	})
}

// AddActorToGroup records group membership for an actor.
func (d *SQLDirectory) AddActorToGroup(ctx context.Context, tenantID, actorID, group string) error {
	if actorID == "" || group == "" {
		return idiserr.New(idiserr.KindInvalidInput, "storage: actor and group are required")
	}
	return d.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO actor_groups (tenant_id, actor_id, group_name) VALUES ($1, $2, $3)`,
			tenantID, actorID, group)
		if err != nil {
			return idiserr.Wrapf(idiserr.KindConflict, err, "storage: add %s to group %s", actorID, group)
		}
		return nil
	})
}

// KnownDeal reports whether the deal exists in the tenant's registry.
func (d *SQLDirectory) KnownDeal(tenantID, dealID string) bool {
	return d.exists(tenantID,
		`SELECT 1 FROM deals WHERE tenant_id = $1 AND deal_id = $2`, tenantID, dealID)
}

// IsAssigned reports whether the actor is directly assigned to the deal.
func (d *SQLDirectory) IsAssigned(tenantID, dealID, actorID string) bool {
	return d.exists(tenantID,
		`SELECT 1 FROM deal_assignments WHERE tenant_id = $1 AND deal_id = $2 AND subject_type = $3 AND subject_id = $4`,
		tenantID, dealID, subjectActor, actorID)
}

// GroupsForDeal returns the groups assigned to the deal.
func (d *SQLDirectory) GroupsForDeal(tenantID, dealID string) []string {
	return d.strings(tenantID,
		`SELECT subject_id FROM deal_assignments WHERE tenant_id = $1 AND deal_id = $2 AND subject_type = $3 ORDER BY subject_id`,
		tenantID, dealID, subjectGroup)
}

// GroupsForActor returns the groups the actor belongs to.
func (d *SQLDirectory) GroupsForActor(tenantID, actorID string) []string {
	return d.strings(tenantID,
		`SELECT group_name FROM actor_groups WHERE tenant_id = $1 AND actor_id = $2 ORDER BY group_name`,
		tenantID, actorID)
}

func (d *SQLDirectory) exists(tenantID, query string, args ...any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	found := false
	err := d.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		found = rows.Next()
		return rows.Err()
	})
	if err != nil {
		return false
	}
	return found
}

func (d *SQLDirectory) strings(tenantID, query string, args ...any) []string {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	var out []string
	err := d.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil
	}
	return out
}
