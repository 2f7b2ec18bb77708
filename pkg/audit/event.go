// Package audit implements the append-only audit event contract.
//
// Every mutation in the IDIS core emits exactly one event through a Sink.
// Emission is synchronous and fail-closed: a caller that cannot emit must
// not report success, and callers that already performed a durable write
// must compensate it before propagating the failure.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies an event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Actor identifies who performed the operation.
type Actor struct {
	ActorType string   `json:"actor_type"`
	ActorID   string   `json:"actor_id"`
	Roles     []string `json:"roles"`
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
}

// Request carries the transport correlation fields.
type Request struct {
	RequestID      string `json:"request_id"`
	Method         string `json:"method"`
	Path           string `json:"path"`
	StatusCode     int    `json:"status_code,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Resource names the entity the event is about.
type Resource struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// Payload is the structured event body. Raw sensitive data is forbidden:
// Safe holds ids, category tags and length metadata only; Hashes holds
// tagged sha256 hex strings ("<label>:<64 hex>"); Refs holds opaque ids.
type Payload struct {
	Safe   map[string]any `json:"safe"`
	Hashes []string       `json:"hashes"`
	Refs   []string       `json:"refs"`
}

// Event is one append-only audit record. Wire format is the RFC 8785
// canonical JSON of this structure, one object per line when streamed.
type Event struct {
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	TenantID   string    `json:"tenant_id"`
	Actor      Actor     `json:"actor"`
	Request    Request   `json:"request"`
	Resource   Resource  `json:"resource"`
	EventType  string    `json:"event_type"`
	Severity   Severity  `json:"severity"`
	Summary    string    `json:"summary"`
	Payload    Payload   `json:"payload"`
}

// NewEvent creates an event with a fresh id and a UTC timestamp. The
// remaining fields are the caller's.
func NewEvent(tenantID, eventType string, severity Severity) Event {
	return Event{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		TenantID:   tenantID,
		EventType:  eventType,
		Severity:   severity,
		Payload:    Payload{Safe: map[string]any{}, Hashes: []string{}, Refs: []string{}},
	}
}

// WithActor returns a copy with the actor set.
func (e Event) WithActor(a Actor) Event {
	e.Actor = a
	return e
}

// WithRequest returns a copy with the request correlation set.
func (e Event) WithRequest(r Request) Event {
	e.Request = r
	return e
}

// WithResource returns a copy with the resource set.
func (e Event) WithResource(resourceType, resourceID string) Event {
	e.Resource = Resource{ResourceType: resourceType, ResourceID: resourceID}
	return e
}

// WithSummary returns a copy with the summary set.
func (e Event) WithSummary(summary string) Event {
	e.Summary = summary
	return e
}

// WithSafe returns a copy with one safe payload entry added.
func (e Event) WithSafe(key string, value any) Event {
	safe := make(map[string]any, len(e.Payload.Safe)+1)
	for k, v := range e.Payload.Safe {
		safe[k] = v
	}
	safe[key] = value
	e.Payload.Safe = safe
	return e
}

// WithHash returns a copy with one tagged hash appended.
func (e Event) WithHash(label, hexDigest string) Event {
	hashes := make([]string, len(e.Payload.Hashes), len(e.Payload.Hashes)+1)
	copy(hashes, e.Payload.Hashes)
	e.Payload.Hashes = append(hashes, label+":"+hexDigest)
	return e
}

// WithRefs returns a copy with opaque reference ids appended.
func (e Event) WithRefs(refs ...string) Event {
	combined := make([]string, len(e.Payload.Refs), len(e.Payload.Refs)+len(refs))
	copy(combined, e.Payload.Refs)
	e.Payload.Refs = append(combined, refs...)
	return e
}
