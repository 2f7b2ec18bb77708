// Package debate runs the adversarial claim-review protocol: an advocate
// defends the deal thesis, a sanad breaker attacks its provenance, two
// observers critique, and an arbiter closes each round until a stop
// condition fires. Every id, timestamp and position hash is derived from
// the dispatch coordinates, so two debates over identical inputs produce
// byte-identical trajectories.
package debate

import (
	"time"

	"github.com/idis-platform/idis/pkg/boundary"
	"github.com/idis-platform/idis/pkg/idiserr"
)

// Role is a debate participant.
type Role string

const (
	RoleAdvocate            Role = "ADVOCATE"
	RoleSanadBreaker        Role = "SANAD_BREAKER"
	RoleContradictionFinder Role = "CONTRADICTION_FINDER"
	RoleRiskOfficer         Role = "RISK_OFFICER"
	RoleArbiter             Role = "ARBITER"
)

// Roles returns the five debate roles in first-dispatch order.
func Roles() []Role {
	return []Role{RoleAdvocate, RoleSanadBreaker, RoleContradictionFinder, RoleRiskOfficer, RoleArbiter}
}

// Node is one position in the round's fixed sequence.
type Node string

const (
	NodeAdvocateOpening       Node = "advocate_opening"
	NodeSanadBreakerChallenge Node = "sanad_breaker_challenge"
	NodeObserverCritiques     Node = "observer_critiques_parallel"
	NodeAdvocateRebuttal      Node = "advocate_rebuttal"
	NodeEvidenceCall          Node = "evidence_call_retrieval"
	NodeArbiterClose          Node = "arbiter_close"
	NodeStopCheck             Node = "stop_condition_check"
	NodeValidateAll           Node = "muhasabah_validate_all"
	NodeFinalize              Node = "finalize_outputs"
)

// StopReason names why the debate ended. Listed in evaluation priority.
type StopReason string

const (
	StopCriticalDefect    StopReason = "CRITICAL_DEFECT"
	StopMaxRounds         StopReason = "MAX_ROUNDS"
	StopConsensus         StopReason = "CONSENSUS"
	StopStableDissent     StopReason = "STABLE_DISSENT"
	StopEvidenceExhausted StopReason = "EVIDENCE_EXHAUSTED"
)

// MaxRoundsCap is the hard ceiling on rounds. No configuration may raise it.
const MaxRoundsCap = 5

// Config tunes the stop conditions.
type Config struct {
	MaxRounds           int     `json:"max_rounds"`
	ConsensusSpread     float64 `json:"consensus_spread"`
	StableDissentRounds int     `json:"stable_dissent_rounds"`
}

// DefaultConfig returns the hard cap with a 10-point consensus spread and
// a two-round stable-dissent window.
func DefaultConfig() Config {
	return Config{
		MaxRounds:           MaxRoundsCap,
		ConsensusSpread:     0.10,
		StableDissentRounds: 2,
	}
}

// Validate rejects configurations outside the normative bounds.
func (c Config) Validate() error {
	if c.MaxRounds < 1 {
		return idiserr.New(idiserr.KindInvalidInput, "max_rounds must be at least 1").WithPath("max_rounds")
	}
	if c.MaxRounds > MaxRoundsCap {
		return idiserr.Newf(idiserr.KindInvalidInput, "max_rounds %d exceeds hard cap %d", c.MaxRounds, MaxRoundsCap).WithPath("max_rounds")
	}
	if c.ConsensusSpread <= 0 || c.ConsensusSpread >= 1 {
		return idiserr.New(idiserr.KindInvalidInput, "consensus_spread must be in (0,1)").WithPath("consensus_spread")
	}
	if c.StableDissentRounds < 2 {
		return idiserr.New(idiserr.KindInvalidInput, "stable_dissent_rounds must be at least 2").WithPath("stable_dissent_rounds")
	}
	return nil
}

// Topic is what the debate reviews: one deal's claim and calc set, anchored
// at a base time from which all derived timestamps flow.
type Topic struct {
	DealID           string    `json:"deal_id"`
	ClaimIDs         []string  `json:"claim_ids"`
	CalcIDs          []string  `json:"calc_ids"`
	KnownEvidenceIDs []string  `json:"known_evidence_ids"`
	BaseTime         time.Time `json:"base_time"`
}

// Turn tells an agent which dispatch slot it is filling. OutputID and
// Timestamp are derived before the agent runs, so the agent can bind its
// muhasabah record to them.
type Turn struct {
	OutputID  string    `json:"output_id"`
	Role      Role      `json:"role"`
	Node      Node      `json:"node"`
	Round     int       `json:"round"`
	Slot      int       `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the debate's accumulated, replayable state. Agents read it;
// only the orchestrator writes it.
type State struct {
	DebateID string `json:"debate_id"`
	TenantID string `json:"tenant_id"`
	DealID   string `json:"deal_id"`
	Round    int    `json:"round"`

	// Outputs holds every gate-accepted output in dispatch order.
	Outputs []boundary.AgentOutput `json:"outputs"`

	// Positions maps each role to the hash of its latest accepted
	// position. PositionHistory snapshots the map at each round close.
	Positions       map[Role]string   `json:"positions"`
	PositionHistory []map[Role]string `json:"position_history"`

	// Confidences holds the latest per-role confidence of the current round.
	Confidences map[Role]float64 `json:"confidences"`

	// OpenQuestions is the arbiter's view of what remains unresolved.
	OpenQuestions []string `json:"open_questions"`

	EvidenceRequested bool `json:"evidence_requested"`
	EvidenceCompleted bool `json:"evidence_completed"`
	NewEvidence       bool `json:"new_evidence"`

	seen map[string]struct{}
}

// TraceEntry records one node visit.
type TraceEntry struct {
	Round    int       `json:"round"`
	Node     Node      `json:"node"`
	Role     Role      `json:"role,omitempty"`
	OutputID string    `json:"output_id,omitempty"`
	At       time.Time `json:"at"`
}

// GateFailure retains the details of an output the muhasabah gate denied.
type GateFailure struct {
	Round    int                  `json:"round"`
	Node     Node                 `json:"node"`
	Role     Role                 `json:"role"`
	Output   boundary.AgentOutput `json:"output"`
	Decision boundary.Decision    `json:"decision"`
}

// Result is the finalized debate.
type Result struct {
	DebateID   string                 `json:"debate_id"`
	TenantID   string                 `json:"tenant_id"`
	DealID     string                 `json:"deal_id"`
	Rounds     int                    `json:"rounds"`
	StopReason StopReason             `json:"stop_reason"`
	Outputs    []boundary.AgentOutput `json:"outputs"`
	Positions  map[Role]string        `json:"positions"`

	OpenQuestions []string     `json:"open_questions,omitempty"`
	Trace         []TraceEntry `json:"trace"`

	// GateFailure is set when the stop was a muhasabah denial; the failing
	// output never entered state. FlaggedOutputID names the accepted output
	// whose critical-defect flag stopped the debate instead.
	GateFailure     *GateFailure `json:"gate_failure,omitempty"`
	FlaggedOutputID string       `json:"flagged_output_id,omitempty"`
}
