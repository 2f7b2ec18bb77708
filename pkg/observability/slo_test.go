package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "run.step.GRADE",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("run.step.GRADE")
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "calc.run",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// Add 100 successful observations under latency target
	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "calc.run", Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status("calc.run")
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "gate.no_free_facts",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// Add 90 success + 10 failures = 90% (below 99% target)
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "gate.no_free_facts", Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "gate.no_free_facts", Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("gate.no_free_facts")
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "run.step.EXTRACT",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 1,
	})

	// 5% error rate → burn rate = 5x
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: "run.step.EXTRACT", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "run.step.EXTRACT", Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("run.step.EXTRACT")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	_, err := tracker.Status("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestSLOZeroBudgetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "run.step.CALC",
		LatencyP99:  time.Second,
		SuccessRate: 1.0, // no error budget at all
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{Operation: "run.step.CALC", Latency: time.Millisecond, Success: true})
	tracker.Record(SLOObservation{Operation: "run.step.CALC", Latency: time.Millisecond, Success: false})

	status, err := tracker.Status("run.step.CALC")
	if err != nil {
		t.Fatal(err)
	}
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
	if status.ErrorBudgetLeft != 0 {
		t.Fatalf("expected empty budget, got %.2f", status.ErrorBudgetLeft)
	}
}

func TestSLORecordPrunesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "run.step.INGEST_CHECK",
		LatencyP99:  time.Second,
		SuccessRate: 0.9,
		WindowHours: 1,
	})

	stale := SLOObservation{
		Operation: "run.step.INGEST_CHECK",
		Latency:   time.Millisecond,
		Success:   false,
		Timestamp: now.Add(-2 * time.Hour),
	}
	tracker.Record(stale)
	tracker.Record(SLOObservation{Operation: "run.step.INGEST_CHECK", Latency: time.Millisecond, Success: true})

	status, err := tracker.Status("run.step.INGEST_CHECK")
	if err != nil {
		t.Fatal(err)
	}
	if status.ObservationCount != 1 {
		t.Fatalf("expected stale observation pruned, got %d in window", status.ObservationCount)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance once stale failure is pruned")
	}
}
