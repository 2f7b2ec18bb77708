package claims

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/saga"
	"github.com/idis-platform/idis/pkg/sanad"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// GraphProjector mirrors claims into the graph store. Projection is
// part of the same saga as the relational write, so both stores move
// together or not at all.
type GraphProjector interface {
	ProjectClaim(ctx context.Context, c Claim) error
	RemoveClaim(ctx context.Context, tenantID, claimID string) error
}

// Service is the only mutation path for claims. It enforces the
// entity invariants, runs every write as a dual-write saga, and makes
// the audit emission part of the saga: if the event cannot land, the
// write is rolled back and the caller sees AUDIT_EMIT_FAILED.
type Service struct {
	store Store
	graph GraphProjector
	sagas *saga.Executor
	sink  audit.Sink
	clock func() time.Time
	newID func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithIDFunc overrides claim id generation, for tests.
func WithIDFunc(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// NewService wires the claim service. graph may be nil when no
// projection is configured (snapshot-only deployments).
func NewService(store Store, graph GraphProjector, sagas *saga.Executor, sink audit.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		graph: graph,
		sagas: sagas,
		sink:  sink,
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest is the extract step's input for one new claim.
type RegisterRequest struct {
	DealID        string
	ClaimClass    string
	ClaimText     string
	Predicate     string
	Value         string
	Materiality   sanad.Materiality
	ICBound       bool
	PrimarySpanID string
	SanadID       string
}

// Register creates a claim in its fail-closed initial state: grade D
// and a derived verdict, until the grading step attaches a sanad. The
// row exists only if the claim.registered event landed.
func (s *Service) Register(ctx context.Context, tctx tenancy.TenantContext, req RegisterRequest) (Claim, error) {
	if err := tctx.Validate(); err != nil {
		return Claim{}, err
	}

	now := s.clock()
	c := Claim{
		ClaimID:       s.newID(),
		TenantID:      tctx.TenantID,
		DealID:        req.DealID,
		ClaimClass:    req.ClaimClass,
		ClaimText:     req.ClaimText,
		Predicate:     req.Predicate,
		Value:         req.Value,
		SanadID:       req.SanadID,
		Grade:         sanad.GradeD,
		Materiality:   req.Materiality,
		ICBound:       req.ICBound,
		PrimarySpanID: req.PrimarySpanID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}.Normalize()
	c.Verdict = DeriveVerdict(c, c.Grade, nil)
	c.Action = ActionForVerdict(c.Verdict)
	if err := c.Validate(); err != nil {
		return Claim{}, err
	}

	event := s.event(tctx, "claim.registered", audit.SeverityLow, c.ClaimID, "/claims").
		WithSummary("claim registered").
		WithSafe("deal_id", c.DealID).
		WithSafe("claim_class", c.ClaimClass).
		WithSafe("materiality", string(c.Materiality)).
		WithSafe("ic_bound", c.ICBound).
		WithHash("claim_text_sha256", textHash(c.ClaimText))

	steps := s.writeSteps(
		func(ctx context.Context) error { return s.store.Insert(ctx, c) },
		func(ctx context.Context) error { return s.store.Delete(ctx, c.TenantID, c.ClaimID) },
		c,
		func(ctx context.Context) error { return s.graph.RemoveClaim(ctx, c.TenantID, c.ClaimID) },
		event,
	)
	if _, err := s.sagas.Execute(ctx, tctx.TenantID, "claim.register", saga.NewContext(), steps); err != nil {
		return Claim{}, err
	}
	return c, nil
}

// ApplyEvaluation is the grading step: it binds the claim to its
// sanad, stores the derived grade and verdict, and records the
// transition.
func (s *Service) ApplyEvaluation(ctx context.Context, tctx tenancy.TenantContext, claimID string, eval *sanad.Evaluation) (Claim, error) {
	if err := tctx.Validate(); err != nil {
		return Claim{}, err
	}
	if eval == nil {
		return Claim{}, idiserr.New(idiserr.KindInvalidInput, "claims: evaluation is required")
	}

	prev, err := s.store.Get(ctx, tctx.TenantID, claimID)
	if err != nil {
		return Claim{}, err
	}

	updated := prev
	updated.SanadID = eval.Sanad.SanadID
	updated.Grade = eval.Grade
	updated.DefectIDs = eval.Sanad.DefectIDs
	updated.Verdict = DeriveVerdict(updated, eval.Grade, eval.Defects)
	updated.Action = ActionForVerdict(updated.Verdict)
	updated.UpdatedAt = s.clock()

	event := s.event(tctx, "claim.graded", audit.SeverityMedium, claimID, "/claims/"+claimID+"/grade").
		WithSummary("claim graded").
		WithSafe("deal_id", updated.DealID).
		WithSafe("claim_grade", string(updated.Grade)).
		WithSafe("claim_verdict", string(updated.Verdict)).
		WithSafe("corroboration_status", string(eval.CorroborationStatus)).
		WithSafe("open_defects", len(sanad.OpenDefects(eval.Defects))).
		WithRefs(eval.Sanad.SanadID)

	steps := s.writeSteps(
		func(ctx context.Context) error { return s.store.Update(ctx, updated) },
		func(ctx context.Context) error { return s.store.Update(ctx, prev) },
		updated,
		func(ctx context.Context) error { return s.graph.ProjectClaim(ctx, prev) },
		event,
	)
	if _, err := s.sagas.Execute(ctx, tctx.TenantID, "claim.grade", saga.NewContext(), steps); err != nil {
		return Claim{}, err
	}
	return updated, nil
}

// UpdateVerdict is the reviewer path: a human overrides the derived
// verdict (INFLATED is only reachable here). The reason is mandatory
// and is recorded as hash plus length, never as text.
func (s *Service) UpdateVerdict(ctx context.Context, tctx tenancy.TenantContext, claimID string, verdict Verdict, reason string) (Claim, error) {
	if err := tctx.Validate(); err != nil {
		return Claim{}, err
	}
	if !ValidVerdict(verdict) {
		return Claim{}, idiserr.Newf(idiserr.KindInvalidInput, "claims: verdict %q is unknown", verdict).WithPath("claim_verdict")
	}
	if strings.TrimSpace(reason) == "" {
		return Claim{}, idiserr.New(idiserr.KindInvalidInput, "claims: a verdict override requires a reason").WithPath("reason")
	}

	prev, err := s.store.Get(ctx, tctx.TenantID, claimID)
	if err != nil {
		return Claim{}, err
	}

	updated := prev
	updated.Verdict = verdict
	updated.Action = ActionForVerdict(verdict)
	updated.UpdatedAt = s.clock()

	event := s.event(tctx, "claim.verdict.updated", audit.SeverityHigh, claimID, "/claims/"+claimID+"/verdict").
		WithSummary("claim verdict overridden by reviewer").
		WithSafe("deal_id", updated.DealID).
		WithSafe("from_verdict", string(prev.Verdict)).
		WithSafe("to_verdict", string(verdict)).
		WithSafe("reason_len", len(reason)).
		WithHash("reason_sha256", textHash(reason))

	steps := s.writeSteps(
		func(ctx context.Context) error { return s.store.Update(ctx, updated) },
		func(ctx context.Context) error { return s.store.Update(ctx, prev) },
		updated,
		func(ctx context.Context) error { return s.graph.ProjectClaim(ctx, prev) },
		event,
	)
	if _, err := s.sagas.Execute(ctx, tctx.TenantID, "claim.update_verdict", saga.NewContext(), steps); err != nil {
		return Claim{}, err
	}
	return updated, nil
}

// Get retrieves one claim within the caller's tenant.
func (s *Service) Get(ctx context.Context, tctx tenancy.TenantContext, claimID string) (Claim, error) {
	if err := tctx.Validate(); err != nil {
		return Claim{}, err
	}
	return s.store.Get(ctx, tctx.TenantID, claimID)
}

// ListByDeal retrieves a deal's claims in stable order.
func (s *Service) ListByDeal(ctx context.Context, tctx tenancy.TenantContext, dealID string) ([]Claim, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListByDeal(ctx, tctx.TenantID, dealID)
}

// writeSteps builds the canonical claim-write saga: relational write,
// graph projection, then the audit emission whose failure rolls the
// whole write back.
func (s *Service) writeSteps(rowForward, rowCompensate func(ctx context.Context) error, projected Claim, graphCompensate func(ctx context.Context) error, event audit.Event) []saga.Step {
	steps := []saga.Step{
		{
			Name:       "claim_row",
			Forward:    func(ctx context.Context, _ *saga.Context) error { return rowForward(ctx) },
			Compensate: func(ctx context.Context, _ *saga.Context) error { return rowCompensate(ctx) },
		},
	}
	if s.graph != nil {
		steps = append(steps, saga.Step{
			Name:       "graph_projection",
			Forward:    func(ctx context.Context, _ *saga.Context) error { return s.graph.ProjectClaim(ctx, projected) },
			Compensate: func(ctx context.Context, _ *saga.Context) error { return graphCompensate(ctx) },
		})
	}
	steps = append(steps, saga.Step{
		Name:    "audit_event",
		Forward: func(ctx context.Context, _ *saga.Context) error { return audit.Emit(ctx, s.sink, event) },
	})
	return steps
}

func (s *Service) event(tctx tenancy.TenantContext, eventType string, severity audit.Severity, claimID, path string) audit.Event {
	e := audit.NewEvent(tctx.TenantID, eventType, severity).
		WithActor(audit.Actor{
			ActorType: tctx.ActorType,
			ActorID:   tctx.ActorID,
			Roles:     tctx.RoleStrings(),
			IP:        tctx.IP,
			UserAgent: tctx.UserAgent,
		}).
		WithRequest(audit.Request{
			RequestID:      tctx.RequestID,
			Method:         "POST",
			Path:           path,
			IdempotencyKey: tctx.IdempotencyKey,
		}).
		WithResource("claim", claimID)
	e.OccurredAt = s.clock()
	return e
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
