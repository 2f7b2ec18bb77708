// Package tenancy carries tenant identity through the system.
//
// Every operation in the IDIS core runs on behalf of a TenantContext.
// There is no anonymous path and no cross-tenant path: a missing or
// unverified context is UNAUTHENTICATED, and resource reads outside
// the caller's tenant are NOT_FOUND at the service layer.
package tenancy

import (
	"context"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Role is a coarse permission bundle assigned to a principal.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleAnalyst  Role = "ANALYST"
	RoleReviewer Role = "REVIEWER"
	RoleAuditor  Role = "AUDITOR"
	RoleIngest   Role = "INGEST"
)

// AllRoles lists every role the platform recognizes.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleAnalyst, RoleReviewer, RoleAuditor, RoleIngest}
}

// ValidRole reports whether r is a recognized role.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleReviewer, RoleAuditor, RoleIngest:
		return true
	}
	return false
}

// TenantContext is the authenticated identity attached to one request.
// It is immutable once authentication succeeds; break-glass elevation
// produces a derived copy rather than mutating the original.
type TenantContext struct {
	TenantID   string `json:"tenant_id"`
	ActorID    string `json:"actor_id"`
	ActorType  string `json:"actor_type"`
	Roles      []Role `json:"roles"`
	DataRegion string `json:"data_region,omitempty"`

	// RequestID and IdempotencyKey propagate into every audit event
	// emitted under this context.
	RequestID      string `json:"request_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	IP             string `json:"ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`

	// BreakGlass marks an elevated session minted by the policy engine.
	BreakGlass bool `json:"break_glass,omitempty"`
}

// Validate checks the context is complete enough to act on.
func (tc TenantContext) Validate() error {
	if tc.TenantID == "" {
		return idiserr.New(idiserr.KindUnauthenticated, "tenancy: tenant_id missing")
	}
	if tc.ActorID == "" {
		return idiserr.New(idiserr.KindUnauthenticated, "tenancy: actor_id missing")
	}
	if tc.RequestID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "tenancy: request_id missing")
	}
	for _, r := range tc.Roles {
		if !ValidRole(r) {
			return idiserr.Newf(idiserr.KindInvalidInput, "tenancy: unknown role %q", r)
		}
	}
	return nil
}

// HasRole reports whether the context carries the given role.
func (tc TenantContext) HasRole(role Role) bool {
	for _, r := range tc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleStrings returns the roles as plain strings for audit actors.
func (tc TenantContext) RoleStrings() []string {
	out := make([]string, len(tc.Roles))
	for i, r := range tc.Roles {
		out[i] = string(r)
	}
	return out
}

// WithBreakGlass returns a copy marked as break-glass elevated.
func (tc TenantContext) WithBreakGlass() TenantContext {
	tc.BreakGlass = true
	roles := make([]Role, len(tc.Roles))
	copy(roles, tc.Roles)
	tc.Roles = roles
	return tc
}

type contextKey struct{}

// NewContext attaches a TenantContext to a context.Context.
func NewContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the TenantContext placed by transport
// middleware. Absence is an authentication failure, never a default.
func FromContext(ctx context.Context) (TenantContext, error) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	if !ok {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: no tenant context")
	}
	return tc, nil
}
