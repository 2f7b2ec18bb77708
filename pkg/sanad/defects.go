package sanad

import (
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// DefectType names one detectable flaw in a sanad.
type DefectType string

const (
	DefectShudhudhAnomaly      DefectType = "SHUDHUDH_ANOMALY"
	DefectShudhudhUnitMismatch DefectType = "SHUDHUDH_UNIT_MISMATCH"
	DefectShudhudhTimeWindow   DefectType = "SHUDHUDH_TIME_WINDOW"
	DefectIlalChainBreak       DefectType = "ILAL_CHAIN_BREAK"
	DefectIlalChainGrafting    DefectType = "ILAL_CHAIN_GRAFTING"
	DefectIlalChronology       DefectType = "ILAL_CHRONOLOGY_IMPOSSIBLE"
	DefectIlalVersionDrift     DefectType = "ILAL_VERSION_DRIFT"
	DefectCOIHighUndisclosed   DefectType = "COI_HIGH_UNDISCLOSED"
	DefectSupportOnlyPrimary   DefectType = "SUPPORT_ONLY_PRIMARY"
	DefectNoPrimaryEvidence    DefectType = "NO_PRIMARY_EVIDENCE"
)

// Severity classifies a defect's impact on the grade.
type Severity string

const (
	SeverityFatal Severity = "FATAL"
	SeverityMajor Severity = "MAJOR"
	SeverityMinor Severity = "MINOR"
)

// DefectStatus is the cure state machine: OPEN → {CURED, WAIVED}.
type DefectStatus string

const (
	DefectOpen   DefectStatus = "OPEN"
	DefectCured  DefectStatus = "CURED"
	DefectWaived DefectStatus = "WAIVED"
)

// severityMatrix is the single canonical source of truth for defect
// severities. Every path that creates a defect resolves severity here.
var severityMatrix = map[DefectType]Severity{
	DefectShudhudhAnomaly:      SeverityMajor,
	DefectShudhudhUnitMismatch: SeverityMajor,
	DefectShudhudhTimeWindow:   SeverityMajor,
	DefectIlalChainBreak:       SeverityFatal,
	DefectIlalChainGrafting:    SeverityFatal,
	DefectIlalChronology:       SeverityFatal,
	DefectIlalVersionDrift:     SeverityMajor,
	DefectCOIHighUndisclosed:   SeverityMajor,
	DefectSupportOnlyPrimary:   SeverityMajor,
	DefectNoPrimaryEvidence:    SeverityFatal,
}

// cureProtocols describe what an analyst must provide to cure each
// defect type.
var cureProtocols = map[DefectType]string{
	DefectShudhudhAnomaly:      "obtain a primary-tier source that reconciles the contradicted value, or correct the claim value",
	DefectShudhudhUnitMismatch: "restate all attestations in a common unit with documented conversion",
	DefectShudhudhTimeWindow:   "restate attestations over a common reporting period",
	DefectIlalChainBreak:       "supply the missing transmission node or re-ingest the source with full chain",
	DefectIlalChainGrafting:    "re-verify upstream origin for every hop; remove grafted segments",
	DefectIlalChronology:       "correct node timestamps from source-system logs",
	DefectIlalVersionDrift:     "re-extract the claim from the latest document version",
	DefectCOIHighUndisclosed:   "obtain disclosure from the source or an independent primary-tier corroborator",
	DefectSupportOnlyPrimary:   "obtain primary-eligible evidence for the claim",
	DefectNoPrimaryEvidence:    "attach primary evidence with a valid span reference",
}

// SeverityFor resolves a defect type against the canonical matrix.
// SHUDHUDH_ANOMALY escalates to FATAL on HIGH-materiality claims: a
// contradicted number that moves the deal thesis cannot merely
// downgrade.
func SeverityFor(defectType DefectType, materiality Materiality) Severity {
	if defectType == DefectShudhudhAnomaly && materiality == MaterialityHigh {
		return SeverityFatal
	}
	if s, ok := severityMatrix[defectType]; ok {
		return s
	}
	return SeverityMajor
}

// Defect is one recorded flaw, with its cure lifecycle.
type Defect struct {
	DefectID     string       `json:"defect_id"`
	TenantID     string       `json:"tenant_id"`
	ClaimID      string       `json:"claim_id"`
	DealID       string       `json:"deal_id"`
	DefectType   DefectType   `json:"defect_type"`
	Severity     Severity     `json:"severity"`
	Description  string       `json:"description"`
	CureProtocol string       `json:"cure_protocol"`
	Status       DefectStatus `json:"status"`
	WaivedBy     string       `json:"waived_by,omitempty"`
	WaiverReason string       `json:"waiver_reason,omitempty"`
	CuredBy      string       `json:"cured_by,omitempty"`
	CuredReason  string       `json:"cured_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewDefect creates an OPEN defect with severity resolved from the
// canonical matrix.
func NewDefect(tenantID, dealID, claimID string, defectType DefectType, materiality Materiality, description string) Defect {
	return Defect{
		DefectID:     uuid.New().String(),
		TenantID:     tenantID,
		ClaimID:      claimID,
		DealID:       dealID,
		DefectType:   defectType,
		Severity:     SeverityFor(defectType, materiality),
		Description:  description,
		CureProtocol: cureProtocols[defectType],
		Status:       DefectOpen,
		CreatedAt:    time.Now().UTC(),
	}
}

// Cure transitions OPEN → CURED. Terminal states reject with CONFLICT.
func (d *Defect) Cure(actorID, reason string) error {
	if actorID == "" || reason == "" {
		return idiserr.New(idiserr.KindInvalidInput, "sanad: cure requires actor and reason")
	}
	if d.Status != DefectOpen {
		return idiserr.Newf(idiserr.KindConflict, "sanad: defect %s is %s, cannot cure", d.DefectID, d.Status)
	}
	d.Status = DefectCured
	d.CuredBy = actorID
	d.CuredReason = reason
	return nil
}

// Waive transitions OPEN → WAIVED. Terminal states reject with CONFLICT.
func (d *Defect) Waive(actorID, reason string) error {
	if actorID == "" || reason == "" {
		return idiserr.New(idiserr.KindInvalidInput, "sanad: waiver requires actor and reason")
	}
	if d.Status != DefectOpen {
		return idiserr.Newf(idiserr.KindConflict, "sanad: defect %s is %s, cannot waive", d.DefectID, d.Status)
	}
	d.Status = DefectWaived
	d.WaivedBy = actorID
	d.WaiverReason = reason
	return nil
}

// OpenDefects filters to defects still in OPEN state.
func OpenDefects(defects []Defect) []Defect {
	var open []Defect
	for _, d := range defects {
		if d.Status == DefectOpen {
			open = append(open, d)
		}
	}
	return open
}
