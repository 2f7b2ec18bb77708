package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// TagEvaluator gates access to claims carrying policy tags (PII, MNPI,
// REG_RESTRICTED, ...) with per-tag CEL rules. A tag without a rule
// denies: an unclassified restriction must never default open.
type TagEvaluator struct {
	env   *cel.Env
	rules map[string]string

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// DefaultTagRules cover the tags the ingestion pipeline assigns today.
func DefaultTagRules() map[string]string {
	return map[string]string{
		// PII visible to anyone with a named role on the deal.
		"PII": `actor.roles.exists(r, r in ["ADMIN", "ANALYST", "REVIEWER", "AUDITOR"])`,
		// Material non-public information requires reviewer oversight.
		"MNPI": `actor.roles.exists(r, r in ["ADMIN", "REVIEWER"]) || (operation.startsWith("claims.") && !operation.endsWith("update_verdict") && actor.roles.exists(r, r == "AUDITOR"))`,
		// Regulatory restricted data never leaves read paths.
		"REG_RESTRICTED": `!is_mutation && actor.roles.exists(r, r in ["ADMIN", "REVIEWER", "AUDITOR"])`,
	}
}

// NewTagEvaluator compiles the environment for the given rule set.
func NewTagEvaluator(rules map[string]string) (*TagEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.DynType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("is_mutation", cel.BoolType),
		cel.Variable("tag", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	if rules == nil {
		rules = DefaultTagRules()
	}
	return &TagEvaluator{
		env:      env,
		rules:    rules,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// CheckTags evaluates every tag on a resource. The first denied tag
// fails the whole check.
func (t *TagEvaluator) CheckTags(tc tenancy.TenantContext, op Operation, method string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	input := map[string]any{
		"actor": map[string]any{
			"id":    tc.ActorID,
			"roles": tc.RoleStrings(),
		},
		"operation":   string(op),
		"is_mutation": mutating(method),
	}
	for _, tag := range tags {
		rule, ok := t.rules[tag]
		if !ok {
			return idiserr.Newf(idiserr.KindRBACDenied, "policy: no rule for tag %q (fail-closed)", tag)
		}
		input["tag"] = tag
		allowed, err := t.evaluate(rule, input)
		if err != nil {
			return idiserr.Wrapf(idiserr.KindRBACDenied, err, "policy: tag %q rule evaluation failed", tag)
		}
		if !allowed {
			return idiserr.Newf(idiserr.KindRBACDenied, "policy: tag %q denies %s for %s", tag, op, tc.ActorID)
		}
	}
	return nil
}

func (t *TagEvaluator) evaluate(expr string, input map[string]any) (bool, error) {
	t.mu.RLock()
	prg, hit := t.prgCache[expr]
	t.mu.RUnlock()

	if !hit {
		t.mu.Lock()
		if prg, hit = t.prgCache[expr]; !hit {
			ast, issues := t.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				t.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := t.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				t.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			t.prgCache[expr] = p
			prg = p
		}
		t.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
