package run

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Service owns run rows and fronts the orchestrator. Creating a run is
// audited fail-closed; executing (or resuming) one delegates to the
// orchestrator and records the resulting status.
type Service struct {
	runs  RunStore
	orch  *Orchestrator
	sink  audit.Sink
	clock func() time.Time
	newID func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithServiceIDFunc overrides run id generation, for tests.
func WithServiceIDFunc(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// NewService wires the run service.
func NewService(runs RunStore, orch *Orchestrator, sink audit.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		runs:  runs,
		orch:  orch,
		sink:  sink,
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest names the deal and the sequence to run.
type CreateRequest struct {
	DealID string
	Mode   Mode
}

// Create registers a new run in RUNNING state. The row exists only if
// the run.created event landed.
func (s *Service) Create(ctx context.Context, tctx tenancy.TenantContext, req CreateRequest) (Run, error) {
	if err := tctx.Validate(); err != nil {
		return Run{}, err
	}
	if strings.TrimSpace(req.DealID) == "" {
		return Run{}, idiserr.New(idiserr.KindInvalidInput, "run: deal_id is required").WithPath("deal_id")
	}
	if _, err := Sequence(req.Mode); err != nil {
		return Run{}, err
	}

	now := s.clock()
	r := Run{
		RunID:     s.newID(),
		TenantID:  tctx.TenantID,
		DealID:    req.DealID,
		Mode:      req.Mode,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.runs.Create(ctx, r); err != nil {
		return Run{}, err
	}

	event := audit.NewEvent(tctx.TenantID, "run.created", audit.SeverityLow).
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
			Path:           "/runs",
			IdempotencyKey: tctx.IdempotencyKey,
		}).
		WithResource("run", r.RunID).
		WithSummary("run created").
		WithSafe("deal_id", r.DealID).
		WithSafe("mode", string(r.Mode))
	event.OccurredAt = now
	if err := audit.Emit(ctx, s.sink, event); err != nil {
		if delErr := s.runs.Delete(ctx, r.TenantID, r.RunID); delErr != nil {
			return Run{}, idiserr.Wrap(idiserr.KindSagaCompensationFail, delErr,
				"run: created row could not be compensated after emit failure")
		}
		return Run{}, err
	}
	return r, nil
}

// Get retrieves one run within the caller's tenant.
func (s *Service) Get(ctx context.Context, tctx tenancy.TenantContext, runID string) (Run, error) {
	if err := tctx.Validate(); err != nil {
		return Run{}, err
	}
	return s.runs.Get(ctx, tctx.TenantID, runID)
}

// Execute walks the run's sequence and records the outcome status. A
// second call on the same run resumes from the ledger, so Execute is
// also the resume path.
func (s *Service) Execute(ctx context.Context, tctx tenancy.TenantContext, runID string) (Run, *Outcome, error) {
	if err := tctx.Validate(); err != nil {
		return Run{}, nil, err
	}
	r, err := s.runs.Get(ctx, tctx.TenantID, runID)
	if err != nil {
		return Run{}, nil, err
	}

	outcome, err := s.orch.Execute(ctx, tctx, r)
	if err != nil {
		return r, nil, err
	}

	now := s.clock()
	if err := s.runs.UpdateStatus(ctx, tctx.TenantID, runID, outcome.Status, now); err != nil {
		return r, outcome, err
	}
	r.Status = outcome.Status
	r.UpdatedAt = now
	return r, outcome, nil
}
