package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
)

// SQLSanadStore persists sanads. Transmission chains and grade
// explanations are stored as JSON columns: they are replay artifacts
// read back whole, never queried field by field.
type SQLSanadStore struct {
	db *TenantDB
}

// NewSQLSanadStore wraps a tenant-scoped database.
func NewSQLSanadStore(db *TenantDB) *SQLSanadStore {
	return &SQLSanadStore{db: db}
}

const sanadColumns = `tenant_id, sanad_id, claim_id, deal_id, primary_evidence_id, corroborating_evidence_ids,
	transmission_chain, extraction_confidence, dhabt_score, corroboration_status, sanad_grade, grade_explanation, defect_ids, created_at`

// Insert persists a new sanad. Sanads are immutable once written; a
// re-grade produces a new sanad rather than rewriting history.
func (s *SQLSanadStore) Insert(ctx context.Context, sn sanad.Sanad) error {
	if sn.SanadID == "" || sn.TenantID == "" || sn.ClaimID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "storage: sanad requires sanad_id, tenant_id and claim_id")
	}
	if len(sn.TransmissionChain) == 0 {
		return idiserr.New(idiserr.KindInvalidInput, "storage: transmission chain must be non-empty").WithPath("transmission_chain")
	}
	return s.db.WithTenant(ctx, sn.TenantID, func(conn *TenantConn) error {
		corroborating, err := marshalStrings(sn.CorroboratingEvidenceIDs)
		if err != nil {
			return err
		}
		chain, err := json.Marshal(sn.TransmissionChain)
		if err != nil {
			return err
		}
		explanation, err := json.Marshal(sn.GradeExplanation)
		if err != nil {
			return err
		}
		defectIDs, err := marshalStrings(sn.DefectIDs)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO sanads (` + sanadColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		if _, err := conn.ExecContext(ctx, query,
			sn.TenantID, sn.SanadID, sn.ClaimID, sn.DealID, nullable(sn.PrimaryEvidenceID), corroborating,
			string(chain), sn.ExtractionConfidence, sn.DabtScore, string(sn.CorroborationStatus),
			string(sn.SanadGrade), string(explanation), defectIDs, sn.CreatedAt,
		); err != nil {
			return idiserr.Wrapf(idiserr.KindConflict, err, "storage: insert sanad %s", sn.SanadID)
		}
		return nil
	})
}

// Delete removes a sanad. Used only by saga compensation.
func (s *SQLSanadStore) Delete(ctx context.Context, tenantID, sanadID string) error {
	return s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		res, err := conn.ExecContext(ctx,
			`DELETE FROM sanads WHERE tenant_id = $1 AND sanad_id = $2`, tenantID, sanadID)
		if err != nil {
			return err
		}
		return requireRow(res, "sanad", sanadID)
	})
}

// Get retrieves one sanad within the tenant.
func (s *SQLSanadStore) Get(ctx context.Context, tenantID, sanadID string) (sanad.Sanad, error) {
	var sn sanad.Sanad
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+sanadColumns+` FROM sanads WHERE tenant_id = $1 AND sanad_id = $2`, tenantID, sanadID)
		got, err := scanSanad(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return idiserr.Newf(idiserr.KindNotFound, "sanad %s not found", sanadID)
			}
			return err
		}
		sn = got
		return nil
	})
	return sn, err
}

// GetByClaim retrieves the most recent sanad for a claim.
func (s *SQLSanadStore) GetByClaim(ctx context.Context, tenantID, claimID string) (sanad.Sanad, error) {
	var sn sanad.Sanad
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+sanadColumns+` FROM sanads WHERE tenant_id = $1 AND claim_id = $2 ORDER BY created_at DESC, sanad_id DESC LIMIT 1`,
			tenantID, claimID)
		got, err := scanSanad(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return idiserr.Newf(idiserr.KindNotFound, "no sanad for claim %s", claimID)
			}
			return err
		}
		sn = got
		return nil
	})
	return sn, err
}

// ListByDeal retrieves a deal's sanads ordered by created_at then id.
func (s *SQLSanadStore) ListByDeal(ctx context.Context, tenantID, dealID string) ([]sanad.Sanad, error) {
	var out []sanad.Sanad
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT `+sanadColumns+` FROM sanads WHERE tenant_id = $1 AND deal_id = $2 ORDER BY created_at, sanad_id`,
			tenantID, dealID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			sn, err := scanSanad(rows)
			if err != nil {
				return err
			}
			out = append(out, sn)
		}
		return rows.Err()
	})
	return out, err
}

func scanSanad(row rowScanner) (sanad.Sanad, error) {
	var (
		sn            sanad.Sanad
		primary       sql.NullString
		corroborating sql.NullString
		chain         string
		status        string
		grade         string
		explanation   string
		defectIDs     sql.NullString
	)
	err := row.Scan(&sn.TenantID, &sn.SanadID, &sn.ClaimID, &sn.DealID, &primary, &corroborating,
		&chain, &sn.ExtractionConfidence, &sn.DabtScore, &status, &grade, &explanation, &defectIDs, &sn.CreatedAt)
	if err != nil {
		return sanad.Sanad{}, err
	}
	sn.PrimaryEvidenceID = primary.String
	sn.CorroborationStatus = sanad.CorroborationStatus(status)
	sn.SanadGrade = sanad.Grade(grade)
	if corroborating.Valid && corroborating.String != "" {
		if err := json.Unmarshal([]byte(corroborating.String), &sn.CorroboratingEvidenceIDs); err != nil {
			return sanad.Sanad{}, err
		}
	}
	if err := json.Unmarshal([]byte(chain), &sn.TransmissionChain); err != nil {
		return sanad.Sanad{}, err
	}
	if err := json.Unmarshal([]byte(explanation), &sn.GradeExplanation); err != nil {
		return sanad.Sanad{}, err
	}
	if defectIDs.Valid && defectIDs.String != "" {
		if err := json.Unmarshal([]byte(defectIDs.String), &sn.DefectIDs); err != nil {
			return sanad.Sanad{}, err
		}
	}
	return sn, nil
}

// SQLDefectStore persists defects and their cure lifecycle.
type SQLDefectStore struct {
	db *TenantDB
}

// NewSQLDefectStore wraps a tenant-scoped database.
func NewSQLDefectStore(db *TenantDB) *SQLDefectStore {
	return &SQLDefectStore{db: db}
}

const defectColumns = `tenant_id, defect_id, claim_id, deal_id, defect_type, severity, description,
	cure_protocol, status, waived_by, waiver_reason, cured_by, cured_reason, created_at`

// Insert persists defects in input order.
func (s *SQLDefectStore) Insert(ctx context.Context, defects []sanad.Defect) error {
	if len(defects) == 0 {
		return nil
	}
	tenantID := defects[0].TenantID
	return s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		query := `
			INSERT INTO defects (` + defectColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		for _, d := range defects {
			if err := conn.Guard(d.TenantID); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, query,
				d.TenantID, d.DefectID, d.ClaimID, d.DealID, string(d.DefectType), string(d.Severity),
				d.Description, nullable(d.CureProtocol), string(d.Status),
				nullable(d.WaivedBy), nullable(d.WaiverReason), nullable(d.CuredBy), nullable(d.CuredReason),
				d.CreatedAt,
			); err != nil {
				return idiserr.Wrapf(idiserr.KindConflict, err, "storage: insert defect %s", d.DefectID)
			}
		}
		return nil
	})
}

// DeleteByClaim removes a claim's defects. Used by saga compensation.
func (s *SQLDefectStore) DeleteByClaim(ctx context.Context, tenantID, claimID string) error {
	return s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		_, err := conn.ExecContext(ctx,
			`DELETE FROM defects WHERE tenant_id = $1 AND claim_id = $2`, tenantID, claimID)
		return err
	})
}

// Update rewrites the cure lifecycle fields of one defect.
func (s *SQLDefectStore) Update(ctx context.Context, d sanad.Defect) error {
	return s.db.WithTenant(ctx, d.TenantID, func(conn *TenantConn) error {
		query := `
			UPDATE defects SET status = $1, waived_by = $2, waiver_reason = $3, cured_by = $4, cured_reason = $5
			WHERE tenant_id = $6 AND defect_id = $7
		`
		res, err := conn.ExecContext(ctx, query,
			string(d.Status), nullable(d.WaivedBy), nullable(d.WaiverReason),
			nullable(d.CuredBy), nullable(d.CuredReason), d.TenantID, d.DefectID)
		if err != nil {
			return err
		}
		return requireRow(res, "defect", d.DefectID)
	})
}

// Get retrieves one defect within the tenant.
func (s *SQLDefectStore) Get(ctx context.Context, tenantID, defectID string) (sanad.Defect, error) {
	var d sanad.Defect
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+defectColumns+` FROM defects WHERE tenant_id = $1 AND defect_id = $2`, tenantID, defectID)
		got, err := scanDefect(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return idiserr.Newf(idiserr.KindNotFound, "defect %s not found", defectID)
			}
			return err
		}
		d = got
		return nil
	})
	return d, err
}

// ListByClaim retrieves a claim's defects ordered by created_at then id.
func (s *SQLDefectStore) ListByClaim(ctx context.Context, tenantID, claimID string) ([]sanad.Defect, error) {
	var out []sanad.Defect
	err := s.db.WithTenant(ctx, tenantID, func(conn *TenantConn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT `+defectColumns+` FROM defects WHERE tenant_id = $1 AND claim_id = $2 ORDER BY created_at, defect_id`,
			tenantID, claimID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			d, err := scanDefect(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func scanDefect(row rowScanner) (sanad.Defect, error) {
	var (
		d            sanad.Defect
		defectType   string
		severity     string
		status       string
		cureProtocol sql.NullString
		waivedBy     sql.NullString
		waiverReason sql.NullString
		curedBy      sql.NullString
		curedReason  sql.NullString
	)
	err := row.Scan(&d.TenantID, &d.DefectID, &d.ClaimID, &d.DealID, &defectType, &severity,
		&d.Description, &cureProtocol, &status, &waivedBy, &waiverReason, &curedBy, &curedReason, &d.CreatedAt)
	if err != nil {
		return sanad.Defect{}, err
	}
	d.DefectType = sanad.DefectType(defectType)
	d.Severity = sanad.Severity(severity)
	d.Status = sanad.DefectStatus(status)
	d.CureProtocol = cureProtocol.String
	d.WaivedBy = waivedBy.String
	d.WaiverReason = waiverReason.String
	d.CuredBy = curedBy.String
	d.CuredReason = curedReason.String
	return d, nil
}
