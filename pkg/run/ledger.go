package run

import (
	"context"
	"sync"
	"time"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// StepStatus is the per-step ledger state.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusBlocked   StepStatus = "BLOCKED"
)

// BlockReasonNotImplemented marks a step declared in the sequence that
// this build does not implement.
const BlockReasonNotImplemented = "STEP_NOT_IMPLEMENTED"

// StepRecord is one (run, step) row. ResultSummary holds what the
// handler returned; ErrorCode/ErrorMessage capture the last failure.
type StepRecord struct {
	RunID         string         `json:"run_id"`
	TenantID      string         `json:"tenant_id"`
	Step          Step           `json:"step"`
	Status        StepStatus     `json:"status"`
	ResultSummary map[string]any `json:"result_summary,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	BlockReason   string         `json:"block_reason,omitempty"`
	RetryCount    int            `json:"retry_count"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StepLedger is the durable record of step transitions. Get returns
// NOT_FOUND for a step the run has not touched.
type StepLedger interface {
	Get(ctx context.Context, tenantID, runID string, step Step) (StepRecord, error)
	Upsert(ctx context.Context, rec StepRecord) error
	ListByRun(ctx context.Context, tenantID, runID string) ([]StepRecord, error)
}

// MemoryLedger is the in-process StepLedger.
type MemoryLedger struct {
	mu   sync.RWMutex
	rows map[string]StepRecord
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: make(map[string]StepRecord)}
}

func stepKey(tenantID, runID string, step Step) string {
	return tenantID + "/" + runID + "/" + string(step)
}

// Get returns the record for (run, step).
func (l *MemoryLedger) Get(_ context.Context, tenantID, runID string, step Step) (StepRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.rows[stepKey(tenantID, runID, step)]
	if !ok {
		return StepRecord{}, idiserr.New(idiserr.KindNotFound, "step not in ledger").WithPath(string(step))
	}
	return rec, nil
}

// Upsert writes the record, replacing any prior row for (run, step).
func (l *MemoryLedger) Upsert(_ context.Context, rec StepRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[stepKey(rec.TenantID, rec.RunID, rec.Step)] = rec
	return nil
}

// ListByRun returns the run's records in canonical step order.
func (l *MemoryLedger) ListByRun(_ context.Context, tenantID, runID string) ([]StepRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []StepRecord
	for _, step := range fullSequence {
		if rec, ok := l.rows[stepKey(tenantID, runID, step)]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
