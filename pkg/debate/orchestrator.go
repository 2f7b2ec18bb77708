package debate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/boundary"
	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// RoleAgent produces one output per assigned turn. Implementations wrap the
// external model collaborator; the orchestrator never calls a model itself.
type RoleAgent interface {
	Respond(ctx context.Context, st *State, turn Turn) (boundary.AgentOutput, error)
}

// EvidenceRetriever resolves an evidence request raised during a round and
// returns the ids of the evidence items it found.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, tenantID, dealID, query string) ([]string, error)
}

// slot is one agent dispatch within a round. Indices are fixed even when
// the optional evidence call is skipped, so ids and timestamps never shift
// between runs that differ only in retrieval.
type slot struct {
	index int
	node  Node
	role  Role
}

var roundSlots = []slot{
	{0, NodeAdvocateOpening, RoleAdvocate},
	{1, NodeSanadBreakerChallenge, RoleSanadBreaker},
	{2, NodeObserverCritiques, RoleContradictionFinder},
	{3, NodeObserverCritiques, RoleRiskOfficer},
	{4, NodeAdvocateRebuttal, RoleAdvocate},
	{6, NodeArbiterClose, RoleArbiter},
}

const (
	slotEvidence = 5
	slotStop     = 7
	slotValidate = 8
	slotFinalize = 9
)

const spreadEpsilon = 1e-9

// Orchestrator drives one debate to a stop condition.
type Orchestrator struct {
	agents    map[Role]RoleAgent
	retriever EvidenceRetriever
	gate      boundary.MuhasabahGate
	cfg       Config
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithRetriever installs the evidence retriever consulted when a round
// raises an evidence request.
func WithRetriever(r EvidenceRetriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// NewOrchestrator validates the configuration up front; an out-of-bounds
// max_rounds never reaches a running debate.
func NewOrchestrator(agents map[Role]RoleAgent, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{agents: agents, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes rounds until a stop condition fires. Gate denials and
// critical-defect flags finish the debate as a Result, not an error;
// errors are reserved for infrastructure failures and cancellation.
func (o *Orchestrator) Run(ctx context.Context, tctx tenancy.TenantContext, topic Topic) (*Result, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic.DealID) == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "deal_id required").WithPath("deal_id")
	}
	if topic.BaseTime.IsZero() {
		return nil, idiserr.New(idiserr.KindInvalidInput, "base_time required").WithPath("base_time")
	}
	for _, role := range Roles() {
		if o.agents[role] == nil {
			return nil, idiserr.New(idiserr.KindInvalidInput,
				strings.ToLower(string(role))+" agent not provided").WithPath(string(role))
		}
	}

	base := topic.BaseTime.UTC()
	st := &State{
		DebateID:  debateID(tctx.TenantID, topic.DealID, base),
		TenantID:  tctx.TenantID,
		DealID:    topic.DealID,
		Positions: make(map[Role]string),
		seen:      make(map[string]struct{}, len(topic.KnownEvidenceIDs)),
	}
	for _, id := range topic.KnownEvidenceIDs {
		st.seen[id] = struct{}{}
	}

	res := &Result{DebateID: st.DebateID, TenantID: st.TenantID, DealID: st.DealID}

	for round := 1; ; round++ {
		st.Round = round
		st.Confidences = make(map[Role]float64)
		positions := make(map[Role]string)

		for _, sl := range roundSlots {
			if err := ctx.Err(); err != nil {
				return nil, idiserr.Wrap(idiserr.KindConflict, err, "debate: cancelled before "+string(sl.node))
			}
			if sl.index == 6 {
				// evidence call sits between rebuttal and close
				if err := o.retrieveEvidence(ctx, st, res, base); err != nil {
					return nil, err
				}
			}
			failure, err := o.dispatch(ctx, st, res, sl, base, positions)
			if err != nil {
				return nil, err
			}
			if failure != nil {
				return o.finalize(st, res, base, StopCriticalDefect, failure, ""), nil
			}
		}

		o.adoptArbiterQuestions(st)
		st.Positions = positions
		st.PositionHistory = append(st.PositionHistory, positions)

		res.Trace = append(res.Trace, TraceEntry{Round: round, Node: NodeStopCheck, At: slotTime(base, round, slotStop)})
		reason, flagged, stopped := o.checkStop(st)
		if !stopped {
			continue
		}

		res.Trace = append(res.Trace, TraceEntry{Round: round, Node: NodeValidateAll, At: slotTime(base, round, slotValidate)})
		for _, out := range st.Outputs {
			if d := o.gate.Evaluate(out); !d.Allowed {
				failure := &GateFailure{Round: round, Node: NodeValidateAll, Role: Role(out.Role), Output: out, Decision: d}
				return o.finalize(st, res, base, StopCriticalDefect, failure, ""), nil
			}
		}
		return o.finalize(st, res, base, reason, nil, flagged), nil
	}
}

// dispatch runs one agent slot: derive the turn, call the agent, stamp the
// determinism fields, gate the output, and fold it into state. A gate
// denial returns the retained failure; the output never enters state.
func (o *Orchestrator) dispatch(ctx context.Context, st *State, res *Result, sl slot, base time.Time, positions map[Role]string) (*GateFailure, error) {
	turn := Turn{
		OutputID:  outputID(st.TenantID, st.DealID, sl.role, st.Round, sl.index),
		Role:      sl.role,
		Node:      sl.node,
		Round:     st.Round,
		Slot:      sl.index,
		Timestamp: slotTime(base, st.Round, sl.index),
	}

	out, err := o.agents[sl.role].Respond(ctx, st, turn)
	if err != nil {
		return nil, err
	}

	out.OutputID = turn.OutputID
	out.Role = string(sl.role)
	out.RoundNumber = st.Round
	out.Timestamp = turn.Timestamp
	if out.AgentID == "" {
		out.AgentID = strings.ToLower(string(sl.role))
	}
	if out.OutputType == "" {
		out.OutputType = string(sl.node)
	}

	if d := o.gate.Evaluate(out); !d.Allowed {
		return &GateFailure{Round: st.Round, Node: sl.node, Role: sl.role, Output: out, Decision: d}, nil
	}

	hash, err := canonical.Hash(out.Content)
	if err != nil {
		return nil, idiserr.Wrap(idiserr.KindInvalidInput, err, "debate: output content not canonicalizable").WithPath(out.OutputID)
	}

	st.Outputs = append(st.Outputs, out)
	st.Confidences[sl.role] = out.Muhasabah.Confidence
	positions[sl.role] = hash
	res.Trace = append(res.Trace, TraceEntry{Round: st.Round, Node: sl.node, Role: sl.role, OutputID: out.OutputID, At: turn.Timestamp})
	return nil, nil
}

// retrieveEvidence honours the round's first evidence request, if any.
func (o *Orchestrator) retrieveEvidence(ctx context.Context, st *State, res *Result, base time.Time) error {
	query, ok := evidenceQuery(st)
	if !ok {
		return nil
	}
	if o.retriever == nil {
		return idiserr.New(idiserr.KindInvalidInput, "evidence retrieval requested but no retriever configured")
	}

	res.Trace = append(res.Trace, TraceEntry{Round: st.Round, Node: NodeEvidenceCall, At: slotTime(base, st.Round, slotEvidence)})
	items, err := o.retriever.Retrieve(ctx, st.TenantID, st.DealID, query)
	if err != nil {
		return err
	}

	st.EvidenceRequested = true
	st.EvidenceCompleted = true
	st.NewEvidence = false
	for _, id := range items {
		if _, known := st.seen[id]; !known {
			st.seen[id] = struct{}{}
			st.NewEvidence = true
		}
	}
	return nil
}

// adoptArbiterQuestions takes the arbiter's open_questions list, when
// present, as the authoritative unresolved set.
func (o *Orchestrator) adoptArbiterQuestions(st *State) {
	for i := len(st.Outputs) - 1; i >= 0; i-- {
		out := st.Outputs[i]
		if out.RoundNumber != st.Round || Role(out.Role) != RoleArbiter {
			continue
		}
		if _, has := out.Content["open_questions"]; has {
			st.OpenQuestions = contentStrings(out, "open_questions")
		}
		return
	}
}

// checkStop evaluates the stop conditions in strict priority order.
func (o *Orchestrator) checkStop(st *State) (StopReason, string, bool) {
	for _, out := range st.Outputs {
		if FlagsCriticalDefect(out) {
			return StopCriticalDefect, out.OutputID, true
		}
	}
	if st.Round >= o.cfg.MaxRounds {
		return StopMaxRounds, "", true
	}
	if consensusReached(st.Confidences, o.cfg.ConsensusSpread) {
		return StopConsensus, "", true
	}
	if stableDissent(st.PositionHistory, o.cfg.StableDissentRounds) {
		return StopStableDissent, "", true
	}
	if st.EvidenceRequested && st.EvidenceCompleted && !st.NewEvidence && len(st.OpenQuestions) > 0 {
		return StopEvidenceExhausted, "", true
	}
	return "", "", false
}

func (o *Orchestrator) finalize(st *State, res *Result, base time.Time, reason StopReason, failure *GateFailure, flaggedID string) *Result {
	res.Trace = append(res.Trace, TraceEntry{Round: st.Round, Node: NodeFinalize, At: slotTime(base, st.Round, slotFinalize)})
	res.Rounds = st.Round
	res.StopReason = reason
	res.Outputs = st.Outputs
	res.Positions = st.Positions
	res.OpenQuestions = st.OpenQuestions
	res.GateFailure = failure
	res.FlaggedOutputID = flaggedID
	return res
}

// FlagsCriticalDefect reports whether the output names a critical defect
// or a grade-D material claim.
func FlagsCriticalDefect(o boundary.AgentOutput) bool {
	return len(contentStrings(o, "critical_defects")) > 0 ||
		len(contentStrings(o, "grade_d_material_claim_ids")) > 0
}

// evidenceQuery returns the current round's first non-empty evidence
// request, in dispatch order.
func evidenceQuery(st *State) (string, bool) {
	for _, out := range st.Outputs {
		if out.RoundNumber != st.Round {
			continue
		}
		if q, ok := out.Content["evidence_request"].(string); ok && strings.TrimSpace(q) != "" {
			return q, true
		}
	}
	return "", false
}

func consensusReached(conf map[Role]float64, spread float64) bool {
	if len(conf) < len(Roles()) {
		return false
	}
	first := true
	var lo, hi float64
	for _, c := range conf {
		if first {
			lo, hi = c, c
			first = false
			continue
		}
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return hi-lo <= spread+spreadEpsilon
}

func stableDissent(history []map[Role]string, window int) bool {
	if len(history) < window {
		return false
	}
	ref := history[len(history)-1]
	for i := len(history) - window; i < len(history)-1; i++ {
		if !samePositions(history[i], ref) {
			return false
		}
	}
	return true
}

func samePositions(a, b map[Role]string) bool {
	if len(a) != len(b) {
		return false
	}
	for role, hash := range a {
		if b[role] != hash {
			return false
		}
	}
	return true
}

// contentStrings reads a list-of-strings content key, tolerating both
// []string and the []any that json decoding produces.
func contentStrings(o boundary.AgentOutput, key string) []string {
	switch v := o.Content[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func debateID(tenantID, dealID string, base time.Time) string {
	name := strings.Join([]string{"debate", tenantID, dealID, base.Format(time.RFC3339Nano)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// outputID derives the stable id for a dispatch slot.
func outputID(tenantID, dealID string, role Role, round, slot int) string {
	name := strings.Join([]string{tenantID, dealID, string(role), strconv.Itoa(round), strconv.Itoa(slot)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// slotTime derives the stable timestamp for a dispatch slot: one minute
// per round, one second per slot, from the topic's base time.
func slotTime(base time.Time, round, slot int) time.Time {
	return base.Add(time.Duration(round-1)*time.Minute + time.Duration(slot)*time.Second)
}
