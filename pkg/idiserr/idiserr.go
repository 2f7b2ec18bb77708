// Package idiserr classifies failures into stable kinds so transports
// can map failures to responses without inspecting internals. Kinds are
// stable strings; callers match with errors.As / idiserr.KindOf.
package idiserr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable error classification.
type Kind string

const (
	KindUnauthenticated      Kind = "UNAUTHENTICATED"
	KindRBACDenied           Kind = "RBAC_DENIED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidInput         Kind = "INVALID_INPUT"
	KindNoFreeFacts          Kind = "NO_FREE_FACTS_VIOLATION"
	KindMuhasabahRejected    Kind = "MUHASABAH_REJECTED"
	KindCalcIntegrity        Kind = "CALC_INTEGRITY"
	KindSagaCompensated      Kind = "SAGA_COMPENSATED"
	KindSagaCompensationFail Kind = "SAGA_COMPENSATION_FAILED"
	KindAuditEmitFailed      Kind = "AUDIT_EMIT_FAILED"
	KindConflict             Kind = "CONFLICT"
	KindBlocked              Kind = "BLOCKED"

	// ABAC denials carry the deal-access outcome in the kind itself.
	KindABACDeniedNoAssignment       Kind = "ABAC_DENIED_NO_ASSIGNMENT"
	KindABACDeniedAuditorMutation    Kind = "ABAC_DENIED_AUDITOR_MUTATION"
	KindABACDeniedBreakGlassRequired Kind = "ABAC_DENIED_BREAK_GLASS_REQUIRED"
	KindABACDeniedUnknownDeal        Kind = "ABAC_DENIED_UNKNOWN_DEAL"
)

const abacDeniedPrefix = "ABAC_DENIED"

// Error is a classified failure. Path optionally locates the offending
// field or resource.
type Error struct {
	Kind Kind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s at %s: %v", e.Kind, e.Msg, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s at %s", e.Kind, e.Msg, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) matches any
// error of that kind regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrapf classifies an underlying error with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithPath returns a copy of the error locating the offending field.
func (e *Error) WithPath(path string) *Error {
	clone := *e
	clone.Path = path
	return &clone
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsABACDenied reports whether err is any of the deal-access denial
// variants.
func IsABACDenied(err error) bool {
	return strings.HasPrefix(string(KindOf(err)), abacDeniedPrefix)
}
