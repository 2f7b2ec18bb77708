package policy

import (
	"strings"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allow   bool   `json:"allow"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

const (
	CodeAllowed          = "ALLOWED"
	CodeDenied           = "DENIED"
	CodeUnknownOperation = "UNKNOWN_OPERATION"
	CodeEmptyRoles       = "EMPTY_ROLES"
	CodeAuditorMutation  = "AUDITOR_READ_ONLY"
)

// mutating classifies an HTTP-style method. Unknown methods count as
// mutations so a typo cannot open a read path for writes.
func mutating(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD":
		return false
	}
	return true
}

// Check is the deny-by-default RBAC decision: the operation must be in
// the rule table and the actor must hold a permitted role for the
// method class. Auditors are read-only regardless of any other role
// they hold.
func Check(tc tenancy.TenantContext, op Operation, method string) Decision {
	if len(tc.Roles) == 0 {
		return Decision{Code: CodeEmptyRoles, Details: "actor has no roles"}
	}
	rule, known := ruleTable[op]
	if !known {
		return Decision{Code: CodeUnknownOperation, Details: string(op)}
	}

	isMutation := mutating(method)
	if isMutation && tc.HasRole(tenancy.RoleAuditor) {
		return Decision{Code: CodeAuditorMutation, Details: "auditor role is read-only"}
	}

	permitted := rule.Read
	if isMutation {
		permitted = rule.Write
	}
	for _, role := range permitted {
		if tc.HasRole(role) {
			return Decision{Allow: true, Code: CodeAllowed}
		}
	}
	return Decision{Code: CodeDenied, Details: "no permitted role for " + string(op)}
}

// Authorize runs Check and converts a denial into RBAC_DENIED.
func Authorize(tc tenancy.TenantContext, op Operation, method string) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	d := Check(tc, op, method)
	if !d.Allow {
		return idiserr.Newf(idiserr.KindRBACDenied, "policy: %s denied for %s (%s)", op, tc.ActorID, d.Code)
	}
	return nil
}
