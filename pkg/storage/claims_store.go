package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/idis-platform/idis/pkg/claims"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
)

// SQLClaimStore implements claims.Store over a TenantDB. Every
// statement runs on a tenant-pinned connection and filters on
// tenant_id, so a claim outside the caller's tenant is NOT_FOUND.
type SQLClaimStore struct {
	db *TenantDB
}

// NewSQLClaimStore wraps a tenant-scoped database.
func NewSQLClaimStore(db *TenantDB) *SQLClaimStore {
	return &SQLClaimStore{db: db}
}

const claimColumns = `tenant_id, claim_id, deal_id, claim_class, claim_text, predicate, value, sanad_id,
	claim_grade, claim_verdict, claim_action, defect_ids, materiality, ic_bound, primary_span_id, created_at, updated_at`

// Insert persists a new claim. Duplicate ids conflict.
func (s *SQLClaimStore) Insert(ctx context.Context, c claims.Claim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.db.WithTenant(ctx, c.TenantID, func(conn *TenantConn) error {
		defectIDs, err := marshalStrings(c.DefectIDs)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO claims (` + claimColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`
		if _, err := conn.ExecContext(ctx, query,
			c.TenantID, c.ClaimID, c.DealID, c.ClaimClass, c.ClaimText,
			nullable(c.Predicate), nullable(c.Value), nullable(c.SanadID),
			string(c.Grade), string(c.Verdict), string(c.Action), defectIDs,
			string(c.Materiality), c.ICBound, nullable(c.PrimarySpanID), c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return idiserr.Wrapf(idiserr.KindConflict, err, "storage: insert claim %s", c.ClaimID)
		}
		return nil
	})
}

// Update replaces an existing claim.
func (s *SQLClaimStore) Update(ctx context.Context, c claims.Claim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.db.WithTenant(ctx, c.TenantID, func(conn *TenantConn) error {
		defectIDs, err := marshalStrings(c.DefectIDs)
		if err != nil {
			return err
		}
		query := `
			UPDATE claims SET deal_id = $1, claim_class = $2, claim_text = $3, predicate = $4, value = $5,
				sanad_id = $6, claim_grade = $7, claim_verdict = $8, claim_action = $9, defect_ids = $10,
				materiality = $11, ic_bound = $12, primary_span_id = $13, updated_at = $14
			WHERE tenant_id = $15 AND claim_id = $16
		`
		res, err := conn.ExecContext(ctx, query,
			c.DealID, c.ClaimClass, c.ClaimText, nullable(c.Predicate), nullable(c.Value),
			nullable(c.SanadID), string(c.Grade), string(c.Verdict), string(c.Action), defectIDs,
			string(c.Materiality), c.ICBound, nullable(c.PrimarySpanID), c.UpdatedAt,
			c.TenantID, c.ClaimID,
		)
		if err != nil {
			return err
		}
		return requireRow(res, "claim", c.ClaimID)
	})
}

// Delete removes a claim. Used by saga compensation.
func (s *SQLClaimStore) Delete(ctx context.Context, tenantID, claimID string) error {
	return s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		res, err := conn.ExecContext(ctx,
			`DELETE FROM claims WHERE tenant_id = $1 AND claim_id = $2`, tenantID, claimID)
		if err != nil {
			return err
		}
		return requireRow(res, "claim", claimID)
	})
}

// Get retrieves one claim within the tenant.
func (s *SQLClaimStore) Get(ctx context.Context, tenantID, claimID string) (claims.Claim, error) {
	var c claims.Claim
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+claimColumns+` FROM claims WHERE tenant_id = $1 AND claim_id = $2`, tenantID, claimID)
		got, err := scanClaim(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return idiserr.Newf(idiserr.KindNotFound, "claim %s not found", claimID)
			}
			return err
		}
		c = got
		return nil
	})
	return c, err
}

// ListByDeal retrieves a deal's claims ordered by created_at then id.
func (s *SQLClaimStore) ListByDeal(ctx context.Context, tenantID, dealID string) ([]claims.Claim, error) {
	var out []claims.Claim
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT `+claimColumns+` FROM claims WHERE tenant_id = $1 AND deal_id = $2 ORDER BY created_at, claim_id`,
			tenantID, dealID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			c, err := scanClaim(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func scanClaim(row rowScanner) (claims.Claim, error) {
	var (
		c         claims.Claim
		grade     string
		verdict   string
		action    string
		predicate sql.NullString
		value     sql.NullString
		sanadID   sql.NullString
		defectIDs sql.NullString
		spanID    sql.NullString
	)
	err := row.Scan(&c.TenantID, &c.ClaimID, &c.DealID, &c.ClaimClass, &c.ClaimText,
		&predicate, &value, &sanadID, &grade, &verdict, &action, &defectIDs,
		&c.Materiality, &c.ICBound, &spanID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return claims.Claim{}, err
	}
	c.Predicate = predicate.String
	c.Value = value.String
	c.SanadID = sanadID.String
	c.Grade = sanad.Grade(grade)
	c.Verdict = claims.Verdict(verdict)
	c.Action = claims.Action(action)
	c.PrimarySpanID = spanID.String
	if defectIDs.Valid && defectIDs.String != "" {
		if err := json.Unmarshal([]byte(defectIDs.String), &c.DefectIDs); err != nil {
			return claims.Claim{}, err
		}
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
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

func requireRow(res sql.Result, resource, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return idiserr.Newf(idiserr.KindNotFound, "%s %s not found", resource, id)
	}
	return nil
}
