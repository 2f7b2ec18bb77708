// Package saga executes dual-write sequences with structured
// compensation. A saga describes a write that must land in more than
// one store as an ordered list of steps, each carrying a forward
// action and a reverse compensation. The executor never touches
// storage itself; callers inject the concrete actions, which keeps
// the write paths testable with pure callables.
package saga

import (
	"context"
	"time"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
)

// StepStatus tracks one step through the saga lifecycle.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// Status is the terminal state of a whole saga.
type Status string

const (
	StatusCompleted          Status = "COMPLETED"
	StatusRolledBack         Status = "ROLLED_BACK"
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
)

// Step is one forward action with its reverse compensation. A nil
// Compensate marks the step as having no side effect to undo.
type Step struct {
	Name       string
	Forward    func(ctx context.Context, sc *Context) error
	Compensate func(ctx context.Context, sc *Context) error
}

// Context is the shared mutable map threaded through steps, letting
// later steps read ids produced by earlier ones. Each saga variant
// documents its keys. It is not safe for concurrent use; a saga runs
// its steps sequentially on one goroutine.
type Context struct {
	values map[string]any
}

// NewContext returns an empty saga context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores a value under key.
func (c *Context) Set(key string, v any) { c.values[key] = v }

// Get returns the value under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the string value under key, or "".
func (c *Context) String(key string) string {
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return ""
}

// StepRecord is the executed state of one step.
type StepRecord struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Result is the outcome of one saga execution.
type Result struct {
	SagaName   string       `json:"saga_name"`
	Status     Status       `json:"status"`
	Steps      []StepRecord `json:"steps"`
	FailedStep string       `json:"failed_step,omitempty"`
}

// Executor runs sagas. The audit sink is used only for the
// compensation-failure event; success-path events belong to callers.
type Executor struct {
	sink  audit.Sink
	clock func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(x *Executor) { x.clock = clock }
}

// NewExecutor constructs an executor emitting compensation failures
// to sink.
func NewExecutor(sink audit.Sink, opts ...Option) *Executor {
	x := &Executor{
		sink:  sink,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs steps in order. When step k fails, compensations for
// steps k-1..0 run in reverse order and the original error is
// returned. A compensation failure abandons further rollback, puts
// the saga into COMPENSATION_FAILED, emits `saga.compensation.failed`
// (CRITICAL), and surfaces SAGA_COMPENSATION_FAILED: the stores are
// inconsistent and an operator must reconcile by hand.
func (x *Executor) Execute(ctx context.Context, tenantID, sagaName string, sc *Context, steps []Step) (*Result, error) {
	if tenantID == "" || sagaName == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "saga: tenant_id and saga name are required")
	}
	if len(steps) == 0 {
		return nil, idiserr.New(idiserr.KindInvalidInput, "saga: at least one step is required")
	}
	for _, s := range steps {
		if s.Name == "" || s.Forward == nil {
			return nil, idiserr.New(idiserr.KindInvalidInput, "saga: every step requires a name and a forward action")
		}
	}
	if sc == nil {
		sc = NewContext()
	}

	result := &Result{SagaName: sagaName, Steps: make([]StepRecord, len(steps))}
	for i, s := range steps {
		result.Steps[i] = StepRecord{Name: s.Name, Status: StepPending}
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			result.FailedStep = s.Name
			return x.rollback(ctx, tenantID, result, steps, i, idiserr.Wrap(idiserr.KindConflict, err, "saga: cancelled before step "+s.Name), sc)
		}
		if err := s.Forward(ctx, sc); err != nil {
			result.Steps[i].Status = StepFailed
			result.Steps[i].Error = err.Error()
			result.FailedStep = s.Name
			return x.rollback(ctx, tenantID, result, steps, i, err, sc)
		}
		result.Steps[i].Status = StepCompleted
	}

	result.Status = StatusCompleted
	return result, nil
}

// rollback compensates steps failedIdx-1..0 in reverse order.
func (x *Executor) rollback(ctx context.Context, tenantID string, result *Result, steps []Step, failedIdx int, cause error, sc *Context) (*Result, error) {
	for i := failedIdx - 1; i >= 0; i-- {
		if steps[i].Compensate == nil {
			result.Steps[i].Status = StepCompensated
			continue
		}
		if err := steps[i].Compensate(ctx, sc); err != nil {
			result.Status = StatusCompensationFailed
			result.Steps[i].Error = err.Error()
			x.emitCompensationFailure(ctx, tenantID, result.SagaName, result.FailedStep, steps[i].Name)
			return result, idiserr.Wrapf(idiserr.KindSagaCompensationFail, err,
				"saga %s: compensation for step %s failed after step %s; manual reconciliation required",
				result.SagaName, steps[i].Name, result.FailedStep)
		}
		result.Steps[i].Status = StepCompensated
	}
	result.Status = StatusRolledBack
	return result, cause
}

// emitCompensationFailure records the operator-alert event. The saga
// is already in its worst state; an emit failure cannot make it
// worse, so the error is deliberately not propagated over the
// compensation failure itself.
func (x *Executor) emitCompensationFailure(ctx context.Context, tenantID, sagaName, failedStep, compensationStep string) {
	e := audit.NewEvent(tenantID, "saga.compensation.failed", audit.SeverityCritical).
		WithSummary("saga compensation failed; stores may be inconsistent, manual reconciliation required").
		WithResource("saga", sagaName).
		WithSafe("saga_name", sagaName).
		WithSafe("failed_step", failedStep).
		WithSafe("compensation_step", compensationStep)
	e.OccurredAt = x.clock()
	_ = audit.Emit(ctx, x.sink, e)
}
