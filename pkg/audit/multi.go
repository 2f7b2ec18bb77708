package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiSink fans one emit out to several sinks. It fails on the first
// failing sink: partial emission is reported as failure so callers
// compensate rather than assume the trail is complete.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks in emit order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit writes to each sink in order.
func (m *MultiSink) Emit(ctx context.Context, e Event) error {
	for i, s := range m.sinks {
		if err := s.Emit(ctx, e); err != nil {
			return fmt.Errorf("audit: sink %d failed: %w", i, err)
		}
	}
	return nil
}

// IdempotentSink suppresses duplicate emits of the same logical event.
// Retried operations reuse their idempotency key, so the replayed emit
// must not produce a second audit row. Events without a key always
// pass through.
type IdempotentSink struct {
	next Sink

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIdempotentSink wraps next with duplicate suppression.
func NewIdempotentSink(next Sink) *IdempotentSink {
	return &IdempotentSink{next: next, seen: make(map[string]struct{})}
}

// Emit forwards to the wrapped sink unless the same
// (tenant, event_type, idempotency_key) triple was already recorded.
// The key is remembered only after a successful forward, so a failed
// emit stays retryable.
func (s *IdempotentSink) Emit(ctx context.Context, e Event) error {
	if e.Request.IdempotencyKey == "" {
		return s.next.Emit(ctx, e)
	}
	key := e.TenantID + "|" + e.EventType + "|" + e.Request.IdempotencyKey

	s.mu.Lock()
	_, dup := s.seen[key]
	s.mu.Unlock()
	if dup {
		return nil
	}

	if err := s.next.Emit(ctx, e); err != nil {
		return err
	}

	s.mu.Lock()
	s.seen[key] = struct{}{}
	s.mu.Unlock()
	return nil
}
