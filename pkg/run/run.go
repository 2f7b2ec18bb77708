// Package run drives a deal through its canonical step sequence. The
// orchestrator owns no business logic: callers supply a handler per step,
// the ledger records every transition, and each transition is audited
// fail-closed. Re-executing a run resumes from the ledger.
package run

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Mode selects the step sequence.
type Mode string

const (
	ModeSnapshot Mode = "SNAPSHOT"
	ModeFull     Mode = "FULL"
)

// Step is one named stage of a run.
type Step string

const (
	StepIngestCheck  Step = "INGEST_CHECK"
	StepExtract      Step = "EXTRACT"
	StepGrade        Step = "GRADE"
	StepCalc         Step = "CALC"
	StepEnrichment   Step = "ENRICHMENT"
	StepDebate       Step = "DEBATE"
	StepAnalysis     Step = "ANALYSIS"
	StepScoring      Step = "SCORING"
	StepDeliverables Step = "DELIVERABLES"
)

var snapshotSequence = []Step{StepIngestCheck, StepExtract, StepGrade, StepCalc}

var fullSequence = []Step{
	StepIngestCheck, StepExtract, StepGrade, StepCalc,
	StepEnrichment, StepDebate, StepAnalysis, StepScoring, StepDeliverables,
}

// Sequence returns the canonical step order for a mode.
func Sequence(mode Mode) ([]Step, error) {
	switch mode {
	case ModeSnapshot:
		return append([]Step(nil), snapshotSequence...), nil
	case ModeFull:
		return append([]Step(nil), fullSequence...), nil
	default:
		return nil, idiserr.New(idiserr.KindInvalidInput, "unknown run mode "+string(mode))
	}
}

// EventName builds the audit event type for a step transition, with the
// step name lowercased (run.step.ingest_check.started).
func (s Step) EventName(transition string) string {
	return "run.step." + strings.ToLower(string(s)) + "." + transition
}

// Status is the run-level outcome.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusPartial   Status = "PARTIAL"
	StatusBlocked   Status = "BLOCKED"
)

// Run is the persistent record of one orchestration.
type Run struct {
	RunID     string    `json:"run_id"`
	TenantID  string    `json:"tenant_id"`
	DealID    string    `json:"deal_id"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStore persists run rows. Implementations must scope every read and
// write to the tenant. Delete exists only to compensate a create whose
// audit event could not be emitted.
type RunStore interface {
	Create(ctx context.Context, r Run) error
	Get(ctx context.Context, tenantID, runID string) (Run, error)
	UpdateStatus(ctx context.Context, tenantID, runID string, status Status, at time.Time) error
	Delete(ctx context.Context, tenantID, runID string) error
}

// MemoryRunStore is the in-process RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewMemoryRunStore returns an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func runKey(tenantID, runID string) string { return tenantID + "/" + runID }

// Create inserts a run row; duplicate ids conflict.
func (s *MemoryRunStore) Create(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(r.TenantID, r.RunID)
	if _, exists := s.runs[key]; exists {
		return idiserr.New(idiserr.KindConflict, "run already exists").WithPath(r.RunID)
	}
	s.runs[key] = r
	return nil
}

// Get returns the run, NOT_FOUND outside the tenant.
func (s *MemoryRunStore) Get(_ context.Context, tenantID, runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runKey(tenantID, runID)]
	if !ok {
		return Run{}, idiserr.New(idiserr.KindNotFound, "run not found").WithPath(runID)
	}
	return r, nil
}

// UpdateStatus moves the run to a new status.
func (s *MemoryRunStore) UpdateStatus(_ context.Context, tenantID, runID string, status Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(tenantID, runID)
	r, ok := s.runs[key]
	if !ok {
		return idiserr.New(idiserr.KindNotFound, "run not found").WithPath(runID)
	}
	r.Status = status
	r.UpdatedAt = at
	s.runs[key] = r
	return nil
}

// Delete removes a run row.
func (s *MemoryRunStore) Delete(_ context.Context, tenantID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runKey(tenantID, runID))
	return nil
}

// ListByDeal returns a deal's runs ordered by creation time then id.
func (s *MemoryRunStore) ListByDeal(_ context.Context, tenantID, dealID string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Run
	for _, r := range s.runs {
		if r.TenantID == tenantID && r.DealID == dealID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}
