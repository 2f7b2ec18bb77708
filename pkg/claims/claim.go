// Package claims owns the claim entity and the only mutation path to
// it. A claim is a single factual assertion about a deal; its verdict
// and grade are derived, never free-set, and every mutation lands an
// audit event before the write is considered durable.
package claims

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
)

// Verdict is the evidentiary outcome for one claim.
type Verdict string

const (
	VerdictVerified     Verdict = "VERIFIED"
	VerdictInflated     Verdict = "INFLATED"
	VerdictContradicted Verdict = "CONTRADICTED"
	VerdictUnverified   Verdict = "UNVERIFIED"
	VerdictSubjective   Verdict = "SUBJECTIVE"
	VerdictBlocked      Verdict = "BLOCKED"
)

// ValidVerdict reports whether v is a member of the sealed verdict set.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictVerified, VerdictInflated, VerdictContradicted,
		VerdictUnverified, VerdictSubjective, VerdictBlocked:
		return true
	}
	return false
}

// Action is what downstream consumers must do with the claim.
type Action string

const (
	ActionAccept             Action = "ACCEPT"
	ActionAcceptSubjective   Action = "ACCEPT_SUBJECTIVE"
	ActionRejectContradicted Action = "REJECT_CONTRADICTED"
	ActionRejectNoFreeFacts  Action = "REJECT_NO_FREE_FACTS"
	ActionFlagUnverified     Action = "FLAG_UNVERIFIED"
	ActionFlagInflated       Action = "FLAG_INFLATED"
)

// ActionForVerdict maps each verdict to its mandated action.
func ActionForVerdict(v Verdict) Action {
	switch v {
	case VerdictVerified:
		return ActionAccept
	case VerdictSubjective:
		return ActionAcceptSubjective
	case VerdictContradicted:
		return ActionRejectContradicted
	case VerdictBlocked:
		return ActionRejectNoFreeFacts
	case VerdictInflated:
		return ActionFlagInflated
	default:
		return ActionFlagUnverified
	}
}

// subjectiveClasses are the claim classes carrying opinion, not fact.
var subjectiveClasses = map[string]bool{
	"SUBJECTIVE": true,
	"OPINION":    true,
}

// Claim is one factual assertion extracted from deal material.
type Claim struct {
	ClaimID       string            `json:"claim_id"`
	TenantID      string            `json:"tenant_id"`
	DealID        string            `json:"deal_id"`
	ClaimClass    string            `json:"claim_class"`
	ClaimText     string            `json:"claim_text"`
	Predicate     string            `json:"predicate,omitempty"`
	Value         string            `json:"value,omitempty"`
	SanadID       string            `json:"sanad_id,omitempty"`
	Grade         sanad.Grade       `json:"claim_grade"`
	Verdict       Verdict           `json:"claim_verdict"`
	Action        Action            `json:"claim_action"`
	DefectIDs     []string          `json:"defect_ids"`
	Materiality   sanad.Materiality `json:"materiality"`
	ICBound       bool              `json:"ic_bound"`
	PrimarySpanID string            `json:"primary_span_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Subjective reports whether the claim class carries opinion rather
// than verifiable fact.
func (c Claim) Subjective() bool {
	return subjectiveClasses[strings.ToUpper(c.ClaimClass)]
}

// Normalize returns the claim with its text fields in Unicode NFC so
// reconciliation and hashing see one byte representation per string.
func (c Claim) Normalize() Claim {
	c.ClaimText = norm.NFC.String(c.ClaimText)
	c.Predicate = norm.NFC.String(c.Predicate)
	c.Value = norm.NFC.String(c.Value)
	return c
}

// Validate enforces the claim invariants. Errors carry the first
// failing path in field-declaration order so signatures are stable.
func (c Claim) Validate() error {
	switch {
	case c.ClaimID == "":
		return idiserr.New(idiserr.KindInvalidInput, "claim_id is required").WithPath("claim_id")
	case c.TenantID == "":
		return idiserr.New(idiserr.KindInvalidInput, "tenant_id is required").WithPath("tenant_id")
	case c.DealID == "":
		return idiserr.New(idiserr.KindInvalidInput, "deal_id is required").WithPath("deal_id")
	case c.ClaimClass == "":
		return idiserr.New(idiserr.KindInvalidInput, "claim_class is required").WithPath("claim_class")
	case strings.TrimSpace(c.ClaimText) == "":
		return idiserr.New(idiserr.KindInvalidInput, "claim_text is required").WithPath("claim_text")
	}
	if !sanad.ValidGrade(c.Grade) {
		return idiserr.Newf(idiserr.KindInvalidInput, "claim_grade %q is not one of A,B,C,D", c.Grade).WithPath("claim_grade")
	}
	if !ValidVerdict(c.Verdict) {
		return idiserr.Newf(idiserr.KindInvalidInput, "claim_verdict %q is unknown", c.Verdict).WithPath("claim_verdict")
	}
	switch c.Materiality {
	case sanad.MaterialityLow, sanad.MaterialityMedium, sanad.MaterialityHigh:
	default:
		return idiserr.Newf(idiserr.KindInvalidInput, "materiality %q is unknown", c.Materiality).WithPath("materiality")
	}
	if c.ICBound && c.SanadID == "" && c.PrimarySpanID == "" {
		return idiserr.New(idiserr.KindInvalidInput,
			"ic_bound claim requires sanad_id or primary_span_id").WithPath("ic_bound")
	}
	return nil
}
