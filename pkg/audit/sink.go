package audit

import (
	"context"
	"sync"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Sink persists audit events. Implementations must be safe for
// concurrent use and must return an error whenever the event was not
// durably recorded; callers treat any error as AUDIT_EMIT_FAILED.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Emit validates an event and writes it through the sink, mapping sink
// failures to AUDIT_EMIT_FAILED. This is the only path services use:
// validation failures are producer bugs and surface as INVALID_INPUT,
// everything after validation is fail-closed.
func Emit(ctx context.Context, sink Sink, e Event) error {
	if sink == nil {
		return idiserr.New(idiserr.KindAuditEmitFailed, "audit: no sink configured")
	}
	if err := Validate(e); err != nil {
		return err
	}
	if err := sink.Emit(ctx, e); err != nil {
		if idiserr.IsKind(err, idiserr.KindAuditEmitFailed) {
			return err
		}
		return idiserr.Wrap(idiserr.KindAuditEmitFailed, err, "audit: sink write failed")
	}
	return nil
}

// MemorySink records events in order. The zero value is usable. FailWith
// arms the sink to reject every emit, which is how fail-closed behavior
// is exercised in tests.
type MemorySink struct {
	mu       sync.Mutex
	events   []Event
	failWith error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event, or returns the armed failure.
func (s *MemorySink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.events = append(s.events, e)
	return nil
}

// FailWith arms the sink to reject all subsequent emits with err.
// Passing nil disarms it.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Events returns a copy of everything recorded so far, in emit order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType returns recorded events matching the given type.
func (s *MemorySink) EventsOfType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many events have been recorded.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
