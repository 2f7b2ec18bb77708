// Package observability provides IDIS-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IDIS-specific semantic convention attributes.
var (
	// Tenancy attributes
	AttrTenantID = attribute.Key("idis.tenant.id")
	AttrActorID  = attribute.Key("idis.actor.id")

	// Run attributes
	AttrDealID    = attribute.Key("idis.deal.id")
	AttrRunID     = attribute.Key("idis.run.id")
	AttrRunMode   = attribute.Key("idis.run.mode")
	AttrRunStep   = attribute.Key("idis.run.step")
	AttrRunStatus = attribute.Key("idis.run.status")

	// Sanad grading attributes
	AttrClaimID    = attribute.Key("idis.claim.id")
	AttrGrade      = attribute.Key("idis.sanad.grade")
	AttrDefectType = attribute.Key("idis.sanad.defect_type")

	// Calc engine attributes
	AttrCalcID     = attribute.Key("idis.calc.id")
	AttrCalcMetric = attribute.Key("idis.calc.metric")

	// Boundary gate attributes
	AttrGateName     = attribute.Key("idis.gate.name")
	AttrGateDecision = attribute.Key("idis.gate.decision")

	// Debate attributes
	AttrDebateRound = attribute.Key("idis.debate.round")
	AttrDebateStop  = attribute.Key("idis.debate.stop_condition")
)

// RunStepOperation creates attributes for orchestrator step execution.
func RunStepOperation(tenantID, runID, step, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrRunID.String(runID),
		AttrRunStep.String(step),
		AttrRunStatus.String(status),
	}
}

// CalcOperation creates attributes for deterministic calc executions.
func CalcOperation(tenantID, dealID, metric, calcID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDealID.String(dealID),
		AttrCalcMetric.String(metric),
		AttrCalcID.String(calcID),
	}
}

// GateOperation creates attributes for boundary gate decisions
// (No-Free-Facts, Muhasabah).
func GateOperation(tenantID, gate, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrGateName.String(gate),
		AttrGateDecision.String(decision),
	}
}

// GradingOperation creates attributes for sanad evaluations.
func GradingOperation(tenantID, claimID, grade string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrClaimID.String(claimID),
		AttrGrade.String(grade),
	}
}

// DebateOperation creates attributes for debate rounds.
func DebateOperation(tenantID, dealID string, round int, stopCondition string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDealID.String(dealID),
		AttrDebateRound.Int(round),
		AttrDebateStop.String(stopCondition),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
