package policy

import (
	"sync"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// DealAccessOutcome is the result of a deal-level ABAC check.
type DealAccessOutcome string

const (
	DealAllowed                  DealAccessOutcome = "ALLOWED"
	DealDeniedNoAssignment       DealAccessOutcome = "DENIED_NO_ASSIGNMENT"
	DealDeniedAuditorMutation    DealAccessOutcome = "DENIED_AUDITOR_MUTATION"
	DealDeniedBreakGlassRequired DealAccessOutcome = "DENIED_BREAK_GLASS_REQUIRED"
	DealDeniedUnknownDeal        DealAccessOutcome = "DENIED_UNKNOWN_DEAL"
)

// DealDirectory answers assignment questions for ABAC. The relational
// store provides the production implementation; the in-memory one
// serves tests and single-box runs.
type DealDirectory interface {
	KnownDeal(tenantID, dealID string) bool
	IsAssigned(tenantID, dealID, actorID string) bool
	GroupsForDeal(tenantID, dealID string) []string
	GroupsForActor(tenantID, actorID string) []string
}

// MemoryDirectory is an in-memory DealDirectory.
type MemoryDirectory struct {
	mu          sync.RWMutex
	deals       map[string]map[string]bool     // tenant → deal set
	assignments map[string]map[string]bool     // tenant|deal → actor set
	dealGroups  map[string][]string            // tenant|deal → groups
	actorGroups map[string]map[string][]string // tenant → actor → groups
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		deals:       make(map[string]map[string]bool),
		assignments: make(map[string]map[string]bool),
		dealGroups:  make(map[string][]string),
		actorGroups: make(map[string]map[string][]string),
	}
}

func dealKey(tenantID, dealID string) string { return tenantID + "|" + dealID }

// AddDeal registers a deal for a tenant.
func (d *MemoryDirectory) AddDeal(tenantID, dealID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deals[tenantID] == nil {
		d.deals[tenantID] = make(map[string]bool)
	}
	d.deals[tenantID][dealID] = true
}

// Assign grants an actor direct access to a deal.
func (d *MemoryDirectory) Assign(tenantID, dealID, actorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dealKey(tenantID, dealID)
	if d.assignments[key] == nil {
		d.assignments[key] = make(map[string]bool)
	}
	d.assignments[key][actorID] = true
}

// AssignGroup grants a group access to a deal.
func (d *MemoryDirectory) AssignGroup(tenantID, dealID, group string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dealKey(tenantID, dealID)
	d.dealGroups[key] = append(d.dealGroups[key], group)
}

// AddActorToGroup records group membership for an actor.
func (d *MemoryDirectory) AddActorToGroup(tenantID, actorID, group string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.actorGroups[tenantID] == nil {
		d.actorGroups[tenantID] = make(map[string][]string)
	}
	d.actorGroups[tenantID][actorID] = append(d.actorGroups[tenantID][actorID], group)
}

func (d *MemoryDirectory) KnownDeal(tenantID, dealID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deals[tenantID][dealID]
}

func (d *MemoryDirectory) IsAssigned(tenantID, dealID, actorID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.assignments[dealKey(tenantID, dealID)][actorID]
}

func (d *MemoryDirectory) GroupsForDeal(tenantID, dealID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dealGroups[dealKey(tenantID, dealID)]...)
}

func (d *MemoryDirectory) GroupsForActor(tenantID, actorID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.actorGroups[tenantID][actorID]...)
}

// CheckDealAccess applies the deal-level access rules on top of RBAC.
// hasBreakGlass reports whether the caller presented a break-glass
// token already validated for this deal.
func CheckDealAccess(dir DealDirectory, tc tenancy.TenantContext, dealID string, isMutation, hasBreakGlass bool) DealAccessOutcome {
	if !dir.KnownDeal(tc.TenantID, dealID) {
		return DealDeniedUnknownDeal
	}
	if isMutation && tc.HasRole(tenancy.RoleAuditor) {
		return DealDeniedAuditorMutation
	}
	if dir.IsAssigned(tc.TenantID, dealID, tc.ActorID) {
		return DealAllowed
	}
	if groupsOverlap(dir.GroupsForDeal(tc.TenantID, dealID), dir.GroupsForActor(tc.TenantID, tc.ActorID)) {
		return DealAllowed
	}
	if tc.HasRole(tenancy.RoleAdmin) {
		if hasBreakGlass {
			return DealAllowed
		}
		return DealDeniedBreakGlassRequired
	}
	return DealDeniedNoAssignment
}

func groupsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, g := range a {
		set[g] = true
	}
	for _, g := range b {
		if set[g] {
			return true
		}
	}
	return false
}

// DealAccessError converts a denial outcome to its classified error.
// DealAllowed maps to nil.
func DealAccessError(outcome DealAccessOutcome, dealID string) error {
	var kind idiserr.Kind
	switch outcome {
	case DealAllowed:
		return nil
	case DealDeniedNoAssignment:
		kind = idiserr.KindABACDeniedNoAssignment
	case DealDeniedAuditorMutation:
		kind = idiserr.KindABACDeniedAuditorMutation
	case DealDeniedBreakGlassRequired:
		kind = idiserr.KindABACDeniedBreakGlassRequired
	case DealDeniedUnknownDeal:
		kind = idiserr.KindABACDeniedUnknownDeal
	default:
		kind = idiserr.KindABACDeniedNoAssignment
	}
	return idiserr.Newf(kind, "policy: deal %s access denied", dealID)
}
