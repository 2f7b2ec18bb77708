// Package policy is the deny-by-default decision point for the IDIS
// core: RBAC over a closed operation inventory, ABAC deal-access
// checks, break-glass elevation, and CEL policy-tag rules.
package policy

import "github.com/idis-platform/idis/pkg/tenancy"

// Operation identifies one entry in the published operation inventory.
// The RBAC rule table must cover exactly this set; drift between the
// two is caught by a build-time test.
type Operation string

const (
	OpClaimsRegister      Operation = "claims.register"
	OpClaimsGet           Operation = "claims.get"
	OpClaimsList          Operation = "claims.list"
	OpClaimsUpdateVerdict Operation = "claims.update_verdict"

	OpSanadEvaluate Operation = "sanad.evaluate"
	OpDefectsCure   Operation = "defects.cure"
	OpDefectsWaive  Operation = "defects.waive"

	OpCalcRun    Operation = "calc.run"
	OpCalcVerify Operation = "calc.verify"

	OpRunsCreate Operation = "runs.create"
	OpRunsGet    Operation = "runs.get"
	OpRunsResume Operation = "runs.resume"

	OpDebateRun Operation = "debate.run"

	OpDeliverablesGenerate Operation = "deliverables.generate"
	OpDeliverablesGet      Operation = "deliverables.get"
	OpDeliverablesExport   Operation = "deliverables.export"

	OpPromptsPublish  Operation = "prompts.publish"
	OpPromptsPromote  Operation = "prompts.promote"
	OpPromptsRollback Operation = "prompts.rollback"
	OpPromptsRetire   Operation = "prompts.retire"
	OpPromptsGet      Operation = "prompts.get"
	OpPromptsResolve  Operation = "prompts.resolve"

	OpObjectsPut Operation = "objects.put"
	OpObjectsGet Operation = "objects.get"

	OpAuditQuery  Operation = "audit.query"
	OpAuditExport Operation = "audit.export"

	OpBreakGlassRequest Operation = "breakglass.request"
)

// OperationInventory is the published list of every operation the core
// exposes. Order is stable for documentation output.
func OperationInventory() []Operation {
	return []Operation{
		OpClaimsRegister, OpClaimsGet, OpClaimsList, OpClaimsUpdateVerdict,
		OpSanadEvaluate, OpDefectsCure, OpDefectsWaive,
		OpCalcRun, OpCalcVerify,
		OpRunsCreate, OpRunsGet, OpRunsResume,
		OpDebateRun,
		OpDeliverablesGenerate, OpDeliverablesGet, OpDeliverablesExport,
		OpPromptsPublish, OpPromptsPromote, OpPromptsRollback, OpPromptsRetire, OpPromptsGet, OpPromptsResolve,
		OpObjectsPut, OpObjectsGet,
		OpAuditQuery, OpAuditExport,
		OpBreakGlassRequest,
	}
}

// Rule lists the roles allowed to read and to mutate one operation.
type Rule struct {
	Read  []tenancy.Role
	Write []tenancy.Role
}

var (
	readAll    = []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAnalyst, tenancy.RoleReviewer, tenancy.RoleAuditor}
	analystUp  = []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAnalyst}
	reviewerUp = []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleReviewer}
	adminOnly  = []tenancy.Role{tenancy.RoleAdmin}
	auditRead  = []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAuditor}
)

// ruleTable is the central RBAC table. Every inventory operation has
// exactly one entry; the completeness test enforces the bijection.
var ruleTable = map[Operation]Rule{
	OpClaimsRegister:      {Write: []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAnalyst, tenancy.RoleIngest}},
	OpClaimsGet:           {Read: readAll},
	OpClaimsList:          {Read: readAll},
	OpClaimsUpdateVerdict: {Write: []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAnalyst, tenancy.RoleReviewer}},

	OpSanadEvaluate: {Write: analystUp, Read: readAll},
	OpDefectsCure:   {Write: reviewerUp},
	OpDefectsWaive:  {Write: reviewerUp},

	OpCalcRun:    {Write: analystUp},
	OpCalcVerify: {Read: readAll},

	OpRunsCreate: {Write: analystUp},
	OpRunsGet:    {Read: readAll},
	OpRunsResume: {Write: analystUp},

	OpDebateRun: {Write: analystUp},

	OpDeliverablesGenerate: {Write: analystUp},
	OpDeliverablesGet:      {Read: readAll},
	OpDeliverablesExport:   {Read: readAll},

	OpPromptsPublish:  {Write: adminOnly},
	OpPromptsPromote:  {Write: adminOnly},
	OpPromptsRollback: {Write: adminOnly},
	OpPromptsRetire:   {Write: adminOnly},
	OpPromptsGet:      {Read: readAll},
	OpPromptsResolve:  {Read: readAll},

	OpObjectsPut: {Write: []tenancy.Role{tenancy.RoleAdmin, tenancy.RoleAnalyst, tenancy.RoleIngest}},
	OpObjectsGet: {Read: readAll},

	OpAuditQuery:  {Read: auditRead},
	OpAuditExport: {Read: auditRead},

	OpBreakGlassRequest: {Write: adminOnly},
}

// RuleFor exposes one operation's rule, for the drift test and docs.
func RuleFor(op Operation) (Rule, bool) {
	r, ok := ruleTable[op]
	return r, ok
}

// RuleTableOperations returns the operations the rule table covers.
func RuleTableOperations() []Operation {
	ops := make([]Operation, 0, len(ruleTable))
	for op := range ruleTable {
		ops = append(ops, op)
	}
	return ops
}
