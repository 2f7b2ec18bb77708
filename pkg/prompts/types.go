// Package prompts manages versioned prompt artifacts on disk and the
// per-environment registry pointers that select which version serves
// each environment.
//
// Artifacts are immutable once written: promotion, rollback, and
// retirement only ever move pointers, so any deliverable generated
// against a historical version stays reproducible. The loader is
// strict end to end; a prompt that cannot be fully verified is never
// returned in partial form.
package prompts

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Status is the lifecycle state recorded in an artifact's metadata.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusStaging    Status = "STAGING"
	StatusProd       Status = "PROD"
	StatusDeprecated Status = "DEPRECATED"
)

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusStaging, StatusProd, StatusDeprecated:
		return true
	}
	return false
}

// RiskClass drives how much validation evidence a promotion needs.
type RiskClass string

const (
	RiskLow    RiskClass = "LOW"
	RiskMedium RiskClass = "MEDIUM"
	RiskHigh   RiskClass = "HIGH"
)

// ValidRiskClass reports whether rc is a known risk class.
func ValidRiskClass(rc RiskClass) bool {
	switch rc {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Validation gates are numbered 1 through 4. Higher risk classes
// require more of them before a version may serve an environment.

// RequiredGates returns the gate numbers a promotion must satisfy for
// the given risk class, in ascending order. Unknown classes return nil;
// callers fail closed on an empty requirement only after the metadata
// schema has already vouched for the class.
func RequiredGates(rc RiskClass) []int {
	switch rc {
	case RiskLow:
		return []int{1}
	case RiskMedium:
		return []int{1, 2}
	case RiskHigh:
		return []int{1, 2, 3, 4}
	}
	return nil
}

// GateResult is the caller-supplied evidence that one validation gate
// ran against the exact version being promoted.
type GateResult struct {
	Gate    int    `json:"gate"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// Metadata mirrors metadata.json. GatesRequired lists gates the artifact
// demands on top of its risk class; promotion satisfies the union.
type Metadata struct {
	PromptID             string    `json:"prompt_id"`
	Version              string    `json:"version"`
	Status               Status    `json:"status"`
	RiskClass            RiskClass `json:"risk_class"`
	GatesRequired        []int     `json:"validation_gates_required"`
	EvaluationResultsRef string    `json:"evaluation_results_ref"`
	SchemaRef            string    `json:"schema_ref,omitempty"`
	Description          string    `json:"description,omitempty"`
}

// Artifact is one fully verified prompt version: its metadata plus the
// prompt body from prompt.md.
type Artifact struct {
	Metadata
	Body string `json:"-"`
}

// Env names a registry pointer file. The set is closed; anything else
// is rejected before touching the filesystem.
type Env string

const (
	EnvDev     Env = "dev"
	EnvStaging Env = "staging"
	EnvProd    Env = "prod"
)

// ValidEnv reports whether e is a known environment.
func ValidEnv(e Env) bool {
	switch e {
	case EnvDev, EnvStaging, EnvProd:
		return true
	}
	return false
}

// Pointer is the registry file for one environment. Field order matches
// the serialized key order; the prompts map serializes with sorted keys.
type Pointer struct {
	Env       Env               `json:"env"`
	Prompts   map[string]string `json:"prompts"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PromptIDs returns the registered prompt ids in ascending order.
func (p Pointer) PromptIDs() []string {
	ids := make([]string, 0, len(p.Prompts))
	for id := range p.Prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseVersion accepts exactly MAJOR.MINOR.PATCH. Prerelease tags,
// build metadata, and partial versions are all rejected so that a
// version string is always safe to use as a directory name.
func ParseVersion(v string) (*semver.Version, error) {
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindInvalidInput, err, "prompts: version %q is not MAJOR.MINOR.PATCH", v)
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "prompts: version %q is not MAJOR.MINOR.PATCH", v)
	}
	return sv, nil
}
