package run_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/run"
	"github.com/idis-platform/idis/pkg/tenancy"
)

const (
	testTenant = "66666666-6666-4666-8666-666666666666"
	testDeal   = "deal-001"
	testRunID  = "run-1"
)

var testNow = time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC)

func testCtx() tenancy.TenantContext {
	return tenancy.TenantContext{
		TenantID:  testTenant,
		ActorID:   "analyst-1",
		ActorType: "user",
		Roles:     []tenancy.Role{tenancy.RoleAnalyst},
		RequestID: "req-1",
	}
}

func testRun(mode run.Mode) run.Run {
	return run.Run{
		RunID:    testRunID,
		TenantID: testTenant,
		DealID:   testDeal,
		Mode:     mode,
		Status:   run.StatusRunning,
	}
}

func okHandler(key string) run.HandlerFunc {
	return func(_ context.Context, _ *run.State) (map[string]any, error) {
		return map[string]any{key: true}, nil
	}
}

func snapshotHandlers() run.Handlers {
	return run.Handlers{
		run.StepIngestCheck: okHandler("ingested"),
		run.StepExtract:     okHandler("extracted"),
		run.StepGrade:       okHandler("graded"),
		run.StepCalc:        okHandler("calculated"),
	}
}

func newOrchestrator(ledger run.StepLedger, sink audit.Sink, handlers run.Handlers, opts ...run.OrchestratorOption) *run.Orchestrator {
	opts = append([]run.OrchestratorOption{run.WithClock(func() time.Time { return testNow })}, opts...)
	return run.NewOrchestrator(ledger, sink, handlers, opts...)
}

func TestSequence_CanonicalOrders(t *testing.T) {
	snap, err := run.Sequence(run.ModeSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []run.Step{run.StepIngestCheck, run.StepExtract, run.StepGrade, run.StepCalc}, snap)

	full, err := run.Sequence(run.ModeFull)
	require.NoError(t, err)
	require.Len(t, full, 9)
	assert.Equal(t, run.StepDeliverables, full[8])

	_, err = run.Sequence(run.Mode("PARTIAL"))
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestExecute_SnapshotCompletes(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := audit.NewMemorySink()
	orch := newOrchestrator(ledger, sink, snapshotHandlers())

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)

	assert.Equal(t, run.StatusCompleted, outcome.Status)
	require.Len(t, outcome.Steps, 4)
	for _, rec := range outcome.Steps {
		assert.Equal(t, run.StepStatusCompleted, rec.Status)
		assert.Zero(t, rec.RetryCount)
	}
	assert.Equal(t, map[string]any{
		"ingested": true, "extracted": true, "graded": true, "calculated": true,
	}, outcome.Context)

	types := make([]string, 0)
	for _, e := range sink.Events() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		"run.step.ingest_check.started", "run.step.ingest_check.completed",
		"run.step.extract.started", "run.step.extract.completed",
		"run.step.grade.started", "run.step.grade.completed",
		"run.step.calc.started", "run.step.calc.completed",
	}, types)
}

func TestExecute_HandlerSeesMergedContext(t *testing.T) {
	handlers := snapshotHandlers()
	var sawIngested bool
	handlers[run.StepCalc] = func(_ context.Context, st *run.State) (map[string]any, error) {
		_, sawIngested = st.Values["ingested"]
		return map[string]any{"calculated": true}, nil
	}
	orch := newOrchestrator(run.NewMemoryLedger(), audit.NewMemorySink(), handlers)

	_, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)
	assert.True(t, sawIngested, "later steps read earlier summaries")
}

func TestExecute_HandlerFailureIsPartial(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := audit.NewMemorySink()
	handlers := snapshotHandlers()
	handlers[run.StepGrade] = func(_ context.Context, _ *run.State) (map[string]any, error) {
		return nil, idiserr.New(idiserr.KindCalcIntegrity, "grading engine exploded")
	}
	orch := newOrchestrator(ledger, sink, handlers)

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)

	assert.Equal(t, run.StatusPartial, outcome.Status, "two steps completed before the failure")
	assert.Equal(t, run.StepGrade, outcome.FailedStep)
	assert.Equal(t, "CALC_INTEGRITY", outcome.ErrorCode)
	assert.Contains(t, outcome.ErrorMessage, "grading engine exploded")

	rec, err := ledger.Get(context.Background(), testTenant, testRunID, run.StepGrade)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusFailed, rec.Status)
	assert.Equal(t, "CALC_INTEGRITY", rec.ErrorCode)

	failed := sink.EventsOfType("run.step.grade.failed")
	require.Len(t, failed, 1)
	assert.Equal(t, audit.SeverityHigh, failed[0].Severity)
	assert.Equal(t, "CALC_INTEGRITY", failed[0].Payload.Safe["error_code"])

	_, err = ledger.Get(context.Background(), testTenant, testRunID, run.StepCalc)
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound), "run stops at the failed step")
}

func TestExecute_FirstStepFailureIsFailed(t *testing.T) {
	handlers := snapshotHandlers()
	handlers[run.StepIngestCheck] = func(_ context.Context, _ *run.State) (map[string]any, error) {
		return nil, errors.New("no documents")
	}
	orch := newOrchestrator(run.NewMemoryLedger(), audit.NewMemorySink(), handlers)

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, outcome.Status)
	assert.Equal(t, "ERROR", outcome.ErrorCode, "plain errors map to a generic code")
}

func TestExecute_ResumeSkipsCompletedAndCountsRetry(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := audit.NewMemorySink()
	handlers := snapshotHandlers()
	broken := true
	handlers[run.StepGrade] = func(_ context.Context, _ *run.State) (map[string]any, error) {
		if broken {
			return nil, errors.New("sanad engine offline")
		}
		return map[string]any{"graded": true}, nil
	}
	orch := newOrchestrator(ledger, sink, handlers)

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)
	require.Equal(t, run.StatusPartial, outcome.Status)

	broken = false
	outcome, err = orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, outcome.Status)

	assert.Len(t, sink.EventsOfType("run.step.ingest_check.started"), 1, "completed steps are not re-run")
	assert.Len(t, sink.EventsOfType("run.step.grade.started"), 2)

	rec, err := ledger.Get(context.Background(), testTenant, testRunID, run.StepGrade)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	assert.Equal(t, map[string]any{
		"ingested": true, "extracted": true, "graded": true, "calculated": true,
	}, outcome.Context, "skipped steps still contribute their summaries")
}

func TestExecute_MissingHandlerFailsClosed(t *testing.T) {
	handlers := snapshotHandlers()
	delete(handlers, run.StepGrade)
	orch := newOrchestrator(run.NewMemoryLedger(), audit.NewMemorySink(), handlers)

	_, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "grade_fn not provided")
}

func TestExecute_UnimplementedStepBlocks(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := audit.NewMemorySink()
	handlers := snapshotHandlers()
	handlers[run.StepDebate] = okHandler("debated")
	handlers[run.StepDeliverables] = okHandler("delivered")
	orch := newOrchestrator(ledger, sink, handlers)

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeFull))
	require.NoError(t, err)

	assert.Equal(t, run.StatusBlocked, outcome.Status)
	assert.Equal(t, run.StepEnrichment, outcome.BlockedStep)
	assert.Equal(t, run.BlockReasonNotImplemented, outcome.BlockReason)

	rec, err := ledger.Get(context.Background(), testTenant, testRunID, run.StepEnrichment)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusBlocked, rec.Status)
	assert.Equal(t, run.BlockReasonNotImplemented, rec.BlockReason)

	assert.Empty(t, sink.EventsOfType("run.step.debate.started"), "run stops at the blocked step")
}

func TestExecute_FullRunsWhenAllStepsImplemented(t *testing.T) {
	handlers := run.Handlers{}
	full, err := run.Sequence(run.ModeFull)
	require.NoError(t, err)
	for _, step := range full {
		handlers[step] = okHandler(string(step))
	}
	orch := newOrchestrator(run.NewMemoryLedger(), audit.NewMemorySink(), handlers,
		run.WithImplementedSteps(full...))

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeFull))
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, outcome.Status)
	assert.Len(t, outcome.Steps, 9)
}

func TestExecute_AuditFailureAbortsTransition(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := audit.NewMemorySink()
	sink.FailWith(errors.New("disk full"))
	invoked := false
	handlers := snapshotHandlers()
	handlers[run.StepIngestCheck] = func(_ context.Context, _ *run.State) (map[string]any, error) {
		invoked = true
		return map[string]any{}, nil
	}
	orch := newOrchestrator(ledger, sink, handlers)

	_, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindAuditEmitFailed))
	assert.False(t, invoked, "handler must not run when the started event cannot land")
}

// failNth passes events through until the nth emit, which fails.
type failNth struct {
	inner *audit.MemorySink
	n     int
	seen  int
}

func (f *failNth) Emit(ctx context.Context, e audit.Event) error {
	f.seen++
	if f.seen == f.n {
		return errors.New("sink down")
	}
	return f.inner.Emit(ctx, e)
}

func TestExecute_CompletedEmitFailureLeavesStepRetryable(t *testing.T) {
	ledger := run.NewMemoryLedger()
	sink := &failNth{inner: audit.NewMemorySink(), n: 2} // started lands, completed fails
	orch := newOrchestrator(ledger, sink, snapshotHandlers())

	_, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindAuditEmitFailed))

	rec, err := ledger.Get(context.Background(), testTenant, testRunID, run.StepIngestCheck)
	require.NoError(t, err)
	assert.Equal(t, run.StepStatusFailed, rec.Status, "a completed row may not outlive its missing event")
	assert.Equal(t, "AUDIT_EMIT_FAILED", rec.ErrorCode)

	outcome, err := orch.Execute(context.Background(), testCtx(), testRun(run.ModeSnapshot))
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, outcome.Status, "the step retries once the sink recovers")
}

func TestExecute_CancelledBeforeStep(t *testing.T) {
	orch := newOrchestrator(run.NewMemoryLedger(), audit.NewMemorySink(), snapshotHandlers())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Execute(ctx, testCtx(), testRun(run.ModeSnapshot))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func newService(sink audit.Sink) (*run.Service, *run.MemoryRunStore) {
	store := run.NewMemoryRunStore()
	orch := newOrchestrator(run.NewMemoryLedger(), sink, snapshotHandlers())
	svc := run.NewService(store, orch, sink,
		run.WithServiceClock(func() time.Time { return testNow }),
		run.WithServiceIDFunc(func() string { return testRunID }),
	)
	return svc, store
}

func TestService_CreateAuditsFailClosed(t *testing.T) {
	sink := audit.NewMemorySink()
	svc, store := newService(sink)

	r, err := svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: testDeal, Mode: run.ModeSnapshot})
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, r.Status)
	require.Len(t, sink.EventsOfType("run.created"), 1)

	sink.FailWith(errors.New("disk full"))
	_, err = svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: "deal-002", Mode: run.ModeSnapshot})
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindAuditEmitFailed))

	runs, err := store.ListByDeal(context.Background(), testTenant, "deal-002")
	require.NoError(t, err)
	assert.Empty(t, runs, "no row without its event")
}

func TestService_CreateValidatesInput(t *testing.T) {
	svc, _ := newService(audit.NewMemorySink())

	_, err := svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: " ", Mode: run.ModeSnapshot})
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	_, err = svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: testDeal, Mode: run.Mode("TURBO")})
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestService_ExecuteUpdatesRunStatus(t *testing.T) {
	svc, _ := newService(audit.NewMemorySink())
	created, err := svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: testDeal, Mode: run.ModeSnapshot})
	require.NoError(t, err)

	r, outcome, err := svc.Execute(context.Background(), testCtx(), created.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, outcome.Status)
	assert.Equal(t, run.StatusCompleted, r.Status)

	got, err := svc.Get(context.Background(), testCtx(), created.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
}

func TestService_ExecuteUnknownRun(t *testing.T) {
	svc, _ := newService(audit.NewMemorySink())
	_, _, err := svc.Execute(context.Background(), testCtx(), "run-ghost")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestService_GetCrossTenantIsNotFound(t *testing.T) {
	svc, _ := newService(audit.NewMemorySink())
	created, err := svc.Create(context.Background(), testCtx(), run.CreateRequest{DealID: testDeal, Mode: run.ModeSnapshot})
	require.NoError(t, err)

	other := testCtx()
	other.TenantID = "77777777-7777-4777-8777-777777777777"
	_, err = svc.Get(context.Background(), other, created.RunID)
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}
