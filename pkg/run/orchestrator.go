package run

import (
	"context"
	"strings"
	"time"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// State is what a handler sees: run identity plus the merged result
// summaries of every completed step so far.
type State struct {
	RunID    string
	TenantID string
	DealID   string
	Mode     Mode
	Values   map[string]any
}

// HandlerFunc performs one step's business logic and returns its result
// summary. The orchestrator merges the summary into State.Values for
// later steps.
type HandlerFunc func(ctx context.Context, st *State) (map[string]any, error)

// Handlers maps steps to their callables.
type Handlers map[Step]HandlerFunc

// DefaultImplementedSteps are the steps this build executes. Steps in a
// sequence but outside this set produce a BLOCKED row instead of running.
var DefaultImplementedSteps = []Step{
	StepIngestCheck, StepExtract, StepGrade, StepCalc, StepDebate, StepDeliverables,
}

const errorMessageLimit = 256

// Outcome reports where an execution ended. A handler failure or a
// blocked step is an outcome, not an error: the ledger holds the detail
// and a later Execute resumes from it.
type Outcome struct {
	RunID        string         `json:"run_id"`
	Status       Status         `json:"status"`
	Steps        []StepRecord   `json:"steps"`
	FailedStep   Step           `json:"failed_step,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	BlockedStep  Step           `json:"blocked_step,omitempty"`
	BlockReason  string         `json:"block_reason,omitempty"`
	Context      map[string]any `json:"context"`
}

// Orchestrator walks a run through its sequence against the ledger.
type Orchestrator struct {
	ledger      StepLedger
	sink        audit.Sink
	handlers    Handlers
	implemented map[Step]bool
	clock       func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithImplementedSteps replaces the implemented-step set.
func WithImplementedSteps(steps ...Step) OrchestratorOption {
	return func(o *Orchestrator) {
		o.implemented = make(map[Step]bool, len(steps))
		for _, s := range steps {
			o.implemented[s] = true
		}
	}
}

// NewOrchestrator wires an orchestrator. Handlers may cover fewer steps
// than the sequence; execution fails closed when a needed one is absent.
func NewOrchestrator(ledger StepLedger, sink audit.Sink, handlers Handlers, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		ledger:   ledger,
		sink:     sink,
		handlers: handlers,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	o.implemented = make(map[Step]bool, len(DefaultImplementedSteps))
	for _, s := range DefaultImplementedSteps {
		o.implemented[s] = true
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute walks the run's sequence from wherever the ledger says it
// stopped. COMPLETED steps are skipped with their summaries merged;
// everything else follows started → handler → completed/failed with a
// fail-closed audit event per transition.
func (o *Orchestrator) Execute(ctx context.Context, tctx tenancy.TenantContext, r Run) (*Outcome, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	sequence, err := Sequence(r.Mode)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{RunID: r.RunID, Context: map[string]any{}}
	st := &State{RunID: r.RunID, TenantID: r.TenantID, DealID: r.DealID, Mode: r.Mode, Values: outcome.Context}
	completedAny := false

	for _, step := range sequence {
		if err := ctx.Err(); err != nil {
			return nil, idiserr.Wrap(idiserr.KindConflict, err, "run: cancelled before step "+string(step))
		}

		prior, found, err := o.prior(ctx, r, step)
		if err != nil {
			return nil, err
		}
		if found && prior.Status == StepStatusCompleted {
			mergeValues(st.Values, prior.ResultSummary)
			outcome.Steps = append(outcome.Steps, prior)
			completedAny = true
			continue
		}

		if !o.implemented[step] {
			rec := o.newAttempt(r, step, prior, found)
			rec.Status = StepStatusBlocked
			rec.BlockReason = BlockReasonNotImplemented
			if err := o.ledger.Upsert(ctx, rec); err != nil {
				return nil, err
			}
			outcome.Steps = append(outcome.Steps, rec)
			outcome.Status = StatusBlocked
			outcome.BlockedStep = step
			outcome.BlockReason = rec.BlockReason
			return outcome, nil
		}

		handler := o.handlers[step]
		if handler == nil {
			return nil, idiserr.New(idiserr.KindInvalidInput,
				strings.ToLower(string(step))+"_fn not provided").WithPath(string(step))
		}

		rec := o.newAttempt(r, step, prior, found)
		rec.Status = StepStatusRunning
		if err := o.ledger.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		if err := o.emit(ctx, tctx, r, step, "started", rec, nil); err != nil {
			return nil, err
		}

		summary, handlerErr := handler(ctx, st)
		if handlerErr != nil {
			rec.Status = StepStatusFailed
			rec.ErrorCode = errorCode(handlerErr)
			rec.ErrorMessage = truncate(handlerErr.Error(), errorMessageLimit)
			rec.UpdatedAt = o.clock()
			if err := o.ledger.Upsert(ctx, rec); err != nil {
				return nil, err
			}
			if err := o.emit(ctx, tctx, r, step, "failed", rec, handlerErr); err != nil {
				return nil, err
			}
			outcome.Steps = append(outcome.Steps, rec)
			outcome.Status = StatusFailed
			if completedAny {
				outcome.Status = StatusPartial
			}
			outcome.FailedStep = step
			outcome.ErrorCode = rec.ErrorCode
			outcome.ErrorMessage = rec.ErrorMessage
			return outcome, nil
		}

		rec.Status = StepStatusCompleted
		rec.ResultSummary = summary
		rec.UpdatedAt = o.clock()
		if err := o.ledger.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		if err := o.emit(ctx, tctx, r, step, "completed", rec, nil); err != nil {
			// The completed row may not outlive its missing event: put the
			// step back into a retryable state before propagating.
			rec.Status = StepStatusFailed
			rec.ErrorCode = string(idiserr.KindAuditEmitFailed)
			rec.ErrorMessage = "completed event could not be emitted"
			rec.UpdatedAt = o.clock()
			if revertErr := o.ledger.Upsert(ctx, rec); revertErr != nil {
				return nil, revertErr
			}
			return nil, err
		}
		mergeValues(st.Values, summary)
		outcome.Steps = append(outcome.Steps, rec)
		completedAny = true
	}

	outcome.Status = StatusCompleted
	return outcome, nil
}

func (o *Orchestrator) prior(ctx context.Context, r Run, step Step) (StepRecord, bool, error) {
	rec, err := o.ledger.Get(ctx, r.TenantID, r.RunID, step)
	if err != nil {
		if idiserr.IsKind(err, idiserr.KindNotFound) {
			return StepRecord{}, false, nil
		}
		return StepRecord{}, false, err
	}
	return rec, true, nil
}

// newAttempt starts a fresh ledger row for this attempt. Any prior
// non-completed row means we are retrying, so the counter moves.
func (o *Orchestrator) newAttempt(r Run, step Step, prior StepRecord, found bool) StepRecord {
	now := o.clock()
	rec := StepRecord{
		RunID:     r.RunID,
		TenantID:  r.TenantID,
		Step:      step,
		StartedAt: now,
		UpdatedAt: now,
	}
	if found {
		rec.RetryCount = prior.RetryCount + 1
	}
	return rec
}

func (o *Orchestrator) emit(ctx context.Context, tctx tenancy.TenantContext, r Run, step Step, transition string, rec StepRecord, cause error) error {
	severity := audit.SeverityLow
	if transition == "failed" {
		severity = audit.SeverityHigh
	}
	e := audit.NewEvent(tctx.TenantID, step.EventName(transition), severity).
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
			Path:           "/runs/" + r.RunID + "/execute",
			IdempotencyKey: tctx.IdempotencyKey,
		}).
		WithResource("run", r.RunID).
		WithSummary("run step " + strings.ToLower(string(step)) + " " + transition).
		WithSafe("deal_id", r.DealID).
		WithSafe("mode", string(r.Mode)).
		WithSafe("step", string(step)).
		WithSafe("retry_count", rec.RetryCount)
	if cause != nil {
		e = e.WithSafe("error_code", errorCode(cause)).
			WithHash("error_sha256", canonical.HashString(cause.Error()))
	}
	e.OccurredAt = o.clock()
	return audit.Emit(ctx, o.sink, e)
}

func errorCode(err error) string {
	if kind := idiserr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "ERROR"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func mergeValues(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
