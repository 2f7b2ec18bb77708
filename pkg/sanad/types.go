// Package sanad grades the evidentiary standing of claims.
//
// A sanad is the transmission record behind one claim: its primary
// evidence, corroborating evidence, and the chain of custody from the
// original source to the extracted assertion. The engine derives a
// deterministic grade A > B > C > D from source tiering, precision
// (dabt), independence (tawatur), anomaly detection (shudhudh),
// structural chain defects (i'lal), and conflict-of-interest checks.
// D is terminal: unusable for investment-committee output.
package sanad

import (
	"time"
)

// Grade is the four-level evidentiary rating.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// gradeRank orders grades for min/downgrade arithmetic. Higher is better.
func gradeRank(g Grade) int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	}
	return 0
}

func gradeFromRank(rank int) Grade {
	switch {
	case rank >= 4:
		return GradeA
	case rank == 3:
		return GradeB
	case rank == 2:
		return GradeC
	default:
		return GradeD
	}
}

// Better reports whether g outranks other.
func (g Grade) Better(other Grade) bool { return gradeRank(g) > gradeRank(other) }

// AtLeast reports whether g is at least as good as other.
func (g Grade) AtLeast(other Grade) bool { return gradeRank(g) >= gradeRank(other) }

// MinGrade returns the worse of two grades.
func MinGrade(a, b Grade) Grade {
	if gradeRank(a) <= gradeRank(b) {
		return a
	}
	return b
}

// ValidGrade reports whether g is one of the four levels.
func ValidGrade(g Grade) bool { return gradeRank(g) > 0 }

// Materiality classifies how much a claim matters to the deal thesis.
type Materiality string

const (
	MaterialityLow    Materiality = "LOW"
	MaterialityMedium Materiality = "MEDIUM"
	MaterialityHigh   Materiality = "HIGH"
)

// CorroborationStatus is the tawatur (independence) level.
type CorroborationStatus string

const (
	CorroborationNone      CorroborationStatus = "NONE"
	CorroborationAhad1     CorroborationStatus = "AHAD_1"
	CorroborationAhad2     CorroborationStatus = "AHAD_2"
	CorroborationMutawatir CorroborationStatus = "MUTAWATIR"
)

// COISeverity classifies a conflict of interest on a source.
type COISeverity string

const (
	COILow    COISeverity = "LOW"
	COIMedium COISeverity = "MEDIUM"
	COIHigh   COISeverity = "HIGH"
)

// Evidence is a pointer to one source artifact backing a claim.
type Evidence struct {
	EvidenceID       string `json:"evidence_id"`
	SourceType       string `json:"source_type"`
	SourceSystem     string `json:"source_system"`
	UpstreamOriginID string `json:"upstream_origin_id"`
	SpanID           string `json:"span_id,omitempty"`

	// Document versioning for drift detection. Zero values mean the
	// source is not a versioned document.
	CitedDocVersion  int `json:"cited_doc_version,omitempty"`
	LatestDocVersion int `json:"latest_doc_version,omitempty"`

	COIPresent   bool        `json:"coi_present,omitempty"`
	COISeverity  COISeverity `json:"coi_severity,omitempty"`
	COIDisclosed bool        `json:"coi_disclosed,omitempty"`
}

// IndependenceKey identifies the upstream origin for tawatur counting.
// Two evidence items with the same key are not independent witnesses.
// The unit separator keeps composite keys collision-free.
func (e Evidence) IndependenceKey() string {
	return e.SourceSystem + "\x1f" + e.UpstreamOriginID
}

// TransmissionNode records one hop in the provenance chain.
type TransmissionNode struct {
	NodeID           string    `json:"node_id"`
	NodeType         string    `json:"node_type"`
	ActorType        string    `json:"actor_type"`
	ActorID          string    `json:"actor_id"`
	InputRefs        []string  `json:"input_refs"`
	OutputRefs       []string  `json:"output_refs"`
	Timestamp        time.Time `json:"timestamp"`
	PrevNodeID       string    `json:"prev_node_id,omitempty"`
	UpstreamOriginID string    `json:"upstream_origin_id,omitempty"`
	Confidence       float64   `json:"confidence,omitempty"`
}

// Sanad is the persisted provenance record for one claim.
type Sanad struct {
	SanadID                  string              `json:"sanad_id"`
	TenantID                 string              `json:"tenant_id"`
	ClaimID                  string              `json:"claim_id"`
	DealID                   string              `json:"deal_id"`
	PrimaryEvidenceID        string              `json:"primary_evidence_id"`
	CorroboratingEvidenceIDs []string            `json:"corroborating_evidence_ids"`
	TransmissionChain        []TransmissionNode  `json:"transmission_chain"`
	ExtractionConfidence     float64             `json:"extraction_confidence"`
	DabtScore                float64             `json:"dhabt_score"`
	CorroborationStatus      CorroborationStatus `json:"corroboration_status"`
	SanadGrade               Grade               `json:"sanad_grade"`
	GradeExplanation         []ExplanationEntry  `json:"grade_explanation"`
	DefectIDs                []string            `json:"defect_ids"`
	CreatedAt                time.Time           `json:"created_at"`
}

// ExplanationEntry is one step of the grade derivation, ordered so an
// auditor can replay the decision.
type ExplanationEntry struct {
	Step    string `json:"step"`
	Detail  string `json:"detail"`
	ClaimID string `json:"claim_id,omitempty"`
	Impact  string `json:"impact,omitempty"`
}
