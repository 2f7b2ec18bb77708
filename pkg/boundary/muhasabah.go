package boundary

import (
	"strings"
	"time"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// ConfidenceUncertaintyThreshold is the confidence above which an output
// must name at least one uncertainty.
const ConfidenceUncertaintyThreshold = 0.80

// MuhasabahRecord is the self-audit every agent output must carry:
// what evidence supports it, what would falsify it, and how sure the
// agent is. OutputID and AgentID bind the record to its output.
type MuhasabahRecord struct {
	OutputID            string   `json:"output_id"`
	AgentID             string   `json:"agent_id"`
	SupportedClaimIDs   []string `json:"supported_claim_ids"`
	SupportedCalcIDs    []string `json:"supported_calc_ids"`
	EvidenceSummary     string   `json:"evidence_summary"`
	CounterHypothesis   string   `json:"counter_hypothesis"`
	FalsifiabilityTests []string `json:"falsifiability_tests"`
	Uncertainties       []string `json:"uncertainties"`
	FailureModes        []string `json:"failure_modes"`
	Confidence          float64  `json:"confidence"`
	IsSubjective        bool     `json:"is_subjective"`
}

// AgentOutput is one unit of agent work crossing the output boundary.
// Content holds the free-form payload; Sections exposes the fragments
// the structural No-Free-Facts pass inspects.
type AgentOutput struct {
	OutputID    string           `json:"output_id"`
	AgentID     string           `json:"agent_id"`
	Role        string           `json:"role"`
	OutputType  string           `json:"output_type"`
	Content     map[string]any   `json:"content"`
	Sections    []FactSection    `json:"sections,omitempty"`
	Muhasabah   *MuhasabahRecord `json:"muhasabah"`
	RoundNumber int              `json:"round_number"`
	Timestamp   time.Time        `json:"timestamp"`
}

// FactSections implements Sectioned.
func (o AgentOutput) FactSections() []FactSection { return o.Sections }

// Denial codes returned by the gate. Stable strings, retained in debate
// state and audit payloads.
const (
	DenyRecordMissing    = "RECORD_MISSING"
	DenyRecordInvalid    = "RECORD_INVALID"
	DenyNoFreeFacts      = "NO_FREE_FACTS"
	DenyOverconfident    = "OVERCONFIDENT"
	DenyIdentityMismatch = "IDENTITY_MISMATCH"
)

// Decision is the gate's verdict on one output.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Err converts a denial into a MUHASABAH_REJECTED error. Nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return idiserr.New(idiserr.KindMuhasabahRejected, d.Code+": "+d.Reason)
}

// MuhasabahGate evaluates agent outputs against the self-audit contract.
// The zero value is the gate; it has no configuration and no bypass.
type MuhasabahGate struct{}

// Evaluate checks a single output. Denials, in check order: missing
// record, malformed record, identity mismatch, missing evidence refs on
// a non-subjective output, and high confidence without uncertainties.
func (MuhasabahGate) Evaluate(output AgentOutput) Decision {
	rec := output.Muhasabah
	if rec == nil {
		return deny(DenyRecordMissing, "output carries no muhasabah record")
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return deny(DenyRecordInvalid, "confidence outside [0,1]")
	}
	if !rec.IsSubjective && strings.TrimSpace(rec.EvidenceSummary) == "" {
		return deny(DenyRecordInvalid, "evidence_summary empty on non-subjective output")
	}
	if rec.OutputID != "" && rec.OutputID != output.OutputID {
		return deny(DenyIdentityMismatch, "record output_id "+rec.OutputID+" does not match output "+output.OutputID)
	}
	if rec.AgentID != "" && rec.AgentID != output.AgentID {
		return deny(DenyIdentityMismatch, "record agent_id "+rec.AgentID+" does not match agent "+output.AgentID)
	}
	if !rec.IsSubjective && len(rec.SupportedClaimIDs) == 0 {
		return deny(DenyNoFreeFacts, "non-subjective output supports no claims")
	}
	if rec.Confidence > ConfidenceUncertaintyThreshold && len(rec.Uncertainties) == 0 {
		return deny(DenyOverconfident, "confidence above threshold with no uncertainties")
	}
	return Decision{Allowed: true}
}

func deny(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason}
}
