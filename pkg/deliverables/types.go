// Package deliverables assembles the reviewer-facing documents from the
// analysis bundle. Assembly is fail-closed: the whole bundle validates
// against the output boundary before a single deliverable is built, and
// all orderings are canonical so repeated generation over the same inputs
// is byte-stable.
package deliverables

import (
	"time"

	"github.com/idis-platform/idis/pkg/boundary"
)

// AgentType identifies one contributor to the analysis bundle.
type AgentType string

const (
	AgentAdvocate            AgentType = "ADVOCATE"
	AgentSanadBreaker        AgentType = "SANAD_BREAKER"
	AgentContradictionFinder AgentType = "CONTRADICTION_FINDER"
	AgentRiskOfficer         AgentType = "RISK_OFFICER"
	AgentArbiter             AgentType = "ARBITER"
	AgentFinancialAnalyst    AgentType = "FINANCIAL_ANALYST"
	AgentMarketAnalyst       AgentType = "MARKET_ANALYST"
	AgentTechnicalAnalyst    AgentType = "TECHNICAL_ANALYST"
)

// RequiredAgentTypes returns the eight agent types every bundle must carry,
// in canonical assembly order.
func RequiredAgentTypes() []AgentType {
	return []AgentType{
		AgentAdvocate, AgentSanadBreaker, AgentContradictionFinder,
		AgentRiskOfficer, AgentArbiter, AgentFinancialAnalyst,
		AgentMarketAnalyst, AgentTechnicalAnalyst,
	}
}

// ValidAgentType reports whether t is a known agent type.
func ValidAgentType(t AgentType) bool {
	for _, known := range RequiredAgentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Routing is the scorecard's recommendation.
type Routing string

const (
	RoutingAdvance Routing = "ADVANCE"
	RoutingWatch   Routing = "WATCH"
	RoutingDecline Routing = "DECLINE"
)

// ValidRouting reports whether r is a known routing.
func ValidRouting(r Routing) bool {
	switch r {
	case RoutingAdvance, RoutingWatch, RoutingDecline:
		return true
	default:
		return false
	}
}

// Fact is one assertion inside a deliverable. A fact is either subjective
// or carries at least one claim or calc reference.
type Fact struct {
	Text         string   `json:"text"`
	IsSubjective bool     `json:"is_subjective,omitempty"`
	ClaimRefs    []string `json:"claim_refs,omitempty"`
	CalcRefs     []string `json:"calc_refs,omitempty"`
}

// Section is an ordered group of facts under one heading.
type Section struct {
	Title string `json:"title"`
	Facts []Fact `json:"facts"`
}

// TruthRow is one dashboard line: what was asserted, what the evidence says.
type TruthRow struct {
	Dimension string   `json:"dimension"`
	Assertion string   `json:"assertion"`
	Verdict   string   `json:"verdict"`
	Grade     string   `json:"grade"`
	ClaimRefs []string `json:"claim_refs,omitempty"`
	CalcRefs  []string `json:"calc_refs,omitempty"`
}

// QAItem is one open question for the partner meeting.
type QAItem struct {
	Topic     string    `json:"topic"`
	AgentType AgentType `json:"agent_type"`
	Question  string    `json:"question"`
}

// AppendixEntry is one distinct evidence reference in the audit appendix.
type AppendixEntry struct {
	RefType string `json:"ref_type"`
	RefID   string `json:"ref_id"`
}

// Kind names a deliverable document.
type Kind string

const (
	KindScreeningSnapshot Kind = "SCREENING_SNAPSHOT"
	KindICMemo            Kind = "IC_MEMO"
	KindTruthDashboard    Kind = "TRUTH_DASHBOARD"
	KindQABrief           Kind = "QA_BRIEF"
	KindDeclineLetter     Kind = "DECLINE_LETTER"
)

// Deliverable is one assembled document.
type Deliverable struct {
	Kind        Kind            `json:"kind"`
	DealID      string          `json:"deal_id"`
	Title       string          `json:"title"`
	Sections    []Section       `json:"sections,omitempty"`
	TruthRows   []TruthRow      `json:"truth_rows,omitempty"`
	QAItems     []QAItem        `json:"qa_items,omitempty"`
	Appendix    []AppendixEntry `json:"audit_appendix"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AgentReport is one agent's contribution to the bundle. Summary is the
// headline finding; Sections carry the full analysis.
type AgentReport struct {
	AgentType AgentType  `json:"agent_type"`
	Summary   Fact       `json:"summary"`
	Sections  []Section  `json:"sections,omitempty"`
	TruthRows []TruthRow `json:"truth_rows,omitempty"`
	Questions []QAItem   `json:"questions,omitempty"`
}

// Bundle is the full analysis input: one report per required agent type.
type Bundle struct {
	Reports []AgentReport `json:"reports"`
}

// DimensionScore is one scored dimension of the deal.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
}

// Scorecard carries the overall verdict. DeclineReasons ground the decline
// letter and are validated like any other facts.
type Scorecard struct {
	OverallScore   float64          `json:"overall_score"`
	Routing        Routing          `json:"routing"`
	Dimensions     []DimensionScore `json:"dimensions,omitempty"`
	DeclineReasons []Fact           `json:"decline_reasons,omitempty"`
}

// DealContext names the deal under review.
type DealContext struct {
	DealID      string `json:"deal_id"`
	CompanyName string `json:"company_name"`
}

// Request is everything the generator needs for one bundle.
type Request struct {
	Deal      DealContext `json:"deal"`
	Bundle    Bundle      `json:"bundle"`
	Scorecard Scorecard   `json:"scorecard"`
}

// GeneratedBundle is the assembled output, deliverables in canonical kind
// order.
type GeneratedBundle struct {
	DealID       string        `json:"deal_id"`
	Deliverables []Deliverable `json:"deliverables"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// ExportResult is the byte-level rendering of one deliverable.
type ExportResult struct {
	Kind         Kind   `json:"kind"`
	ContentBytes []byte `json:"content_bytes"`
	SHA256       string `json:"sha256"`
	Length       int    `json:"length"`
}

// section adapts a fact for the output boundary.
func (f Fact) section(path string) boundary.FactSection {
	return boundary.FactSection{
		Path:               path,
		Text:               f.Text,
		IsFactual:          true,
		IsSubjective:       f.IsSubjective,
		ReferencedClaimIDs: f.ClaimRefs,
		ReferencedCalcIDs:  f.CalcRefs,
	}
}

// section adapts a dashboard row for the output boundary.
func (r TruthRow) section(path string) boundary.FactSection {
	return boundary.FactSection{
		Path:               path,
		Text:               r.Assertion,
		IsFactual:          true,
		ReferencedClaimIDs: r.ClaimRefs,
		ReferencedCalcIDs:  r.CalcRefs,
	}
}
