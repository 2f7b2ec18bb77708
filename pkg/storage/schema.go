package storage

import (
	"context"
	"fmt"
)

// coreSchema is the portable DDL for the tables this package owns.
// Runs, run steps, and audit events keep their DDL next to their
// stores (pkg/run, pkg/audit); deals and assignments live here because
// the ABAC directory is their only consumer.
const coreSchema = `
CREATE TABLE IF NOT EXISTS deals (
	tenant_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	deal_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, deal_id)
);

CREATE TABLE IF NOT EXISTS claims (
	tenant_id TEXT NOT NULL,
	claim_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	claim_class TEXT NOT NULL,
	claim_text TEXT NOT NULL,
	predicate TEXT,
	value TEXT,
	sanad_id TEXT,
	claim_grade TEXT NOT NULL,
	claim_verdict TEXT NOT NULL,
	claim_action TEXT NOT NULL,
	defect_ids TEXT,
	materiality TEXT NOT NULL,
	ic_bound BOOLEAN NOT NULL,
	primary_span_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, claim_id)
);
CREATE INDEX IF NOT EXISTS idx_claims_deal ON claims (tenant_id, deal_id);

CREATE TABLE IF NOT EXISTS sanads (
	tenant_id TEXT NOT NULL,
	sanad_id TEXT NOT NULL,
	claim_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	primary_evidence_id TEXT,
	corroborating_evidence_ids TEXT,
	transmission_chain TEXT NOT NULL,
	extraction_confidence REAL NOT NULL,
	dhabt_score REAL NOT NULL,
	corroboration_status TEXT NOT NULL,
	sanad_grade TEXT NOT NULL,
	grade_explanation TEXT NOT NULL,
	defect_ids TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, sanad_id)
);
CREATE INDEX IF NOT EXISTS idx_sanads_claim ON sanads (tenant_id, claim_id);
CREATE INDEX IF NOT EXISTS idx_sanads_deal ON sanads (tenant_id, deal_id);

CREATE TABLE IF NOT EXISTS defects (
	tenant_id TEXT NOT NULL,
	defect_id TEXT NOT NULL,
	claim_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	defect_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	cure_protocol TEXT,
	status TEXT NOT NULL,
	waived_by TEXT,
	waiver_reason TEXT,
	cured_by TEXT,
	cured_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, defect_id)
);
CREATE INDEX IF NOT EXISTS idx_defects_claim ON defects (tenant_id, claim_id);

CREATE TABLE IF NOT EXISTS deal_assignments (
	tenant_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	subject_type TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, deal_id, subject_type, subject_id)
);

CREATE TABLE IF NOT EXISTS actor_groups (
	tenant_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	group_name TEXT NOT NULL,
	PRIMARY KEY (tenant_id, actor_id, group_name)
);
`

// rlsTables are the multi-tenant tables protected by row-level
// security on Postgres.
var rlsTables = []string{
	"deals", "claims", "sanads", "defects", "deal_assignments", "actor_groups",
}

// Init creates the tables this package owns.
func (t *TenantDB) Init(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, coreSchema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// EnableRLS turns on row-level security for every multi-tenant table,
// keyed to the app.current_tenant session variable that Acquire sets.
// It must run on the admin connection (table owner); it is a no-op on
// SQLite, where TenantConn.Guard and WHERE discipline stand in.
func (t *TenantDB) EnableRLS(ctx context.Context) error {
	if t.dialect != DialectPostgres {
		return nil
	}
	for _, table := range rlsTables {
		stmts := []string{
			fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, table),
			fmt.Sprintf(`DO $$ BEGIN
				CREATE POLICY tenant_isolation_%s ON %s
					USING (tenant_id = current_setting('app.current_tenant', true));
			EXCEPTION WHEN duplicate_object THEN NULL; END $$`, table, table),
		}
		for _, stmt := range stmts {
			if _, err := t.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("storage: enable rls on %s: %w", table, err)
			}
		}
	}
	return nil
}
