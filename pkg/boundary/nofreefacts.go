// Package boundary enforces the output boundary: no factual assertion
// leaves the system without evidence references, and no agent output is
// accepted without a complete self-audit record. Both gates fail closed
// and have no bypass path.
package boundary

import (
	"fmt"
	"strings"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// FactSection is one validatable fragment of an output artifact. Anything
// that can expose its content as sections (deliverable sections, agent
// output content blocks) is checked with the same rule.
type FactSection struct {
	Path               string   `json:"path"`
	Text               string   `json:"text"`
	IsFactual          bool     `json:"is_factual"`
	IsSubjective       bool     `json:"is_subjective"`
	ReferencedClaimIDs []string `json:"referenced_claim_ids"`
	ReferencedCalcIDs  []string `json:"referenced_calc_ids"`
}

// Sectioned is implemented by artifacts that can be decomposed into
// fact sections for boundary validation.
type Sectioned interface {
	FactSections() []FactSection
}

// RefRegistry answers whether a referenced claim or calc id exists in the
// deal's registry. Validation with a nil registry checks structure only.
type RefRegistry interface {
	HasClaim(claimID string) bool
	HasCalc(calcID string) bool
}

// Violation describes one failing section. Path identifies the section in
// traversal order so callers can surface the first offending fragment.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Reason
}

// Result of a No-Free-Facts pass. Violations preserve input order, so the
// first entry is the first failing path in deterministic traversal order.
type Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Err converts a failed result into a NO_FREE_FACTS_VIOLATION error naming
// the first failing path. Returns nil when the result passed.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	first := r.Violations[0]
	return idiserr.New(idiserr.KindNoFreeFacts,
		fmt.Sprintf("%s: %s", first.Path, first.Reason)).WithPath(first.Path)
}

// NoFreeFacts validates that every factual, non-subjective section carries
// at least one claim or calc reference, and (when a registry is supplied)
// that every referenced id exists. Sections are visited in input order and
// all violations are collected.
func NoFreeFacts(sections []FactSection, registry RefRegistry) Result {
	var violations []Violation
	for i, s := range sections {
		path := s.Path
		if path == "" {
			path = fmt.Sprintf("sections[%d]", i)
		}
		if s.IsFactual && !s.IsSubjective &&
			len(s.ReferencedClaimIDs) == 0 && len(s.ReferencedCalcIDs) == 0 {
			violations = append(violations, Violation{
				Path:   path,
				Reason: "factual section carries no claim or calc references",
			})
			continue
		}
		if registry == nil {
			continue
		}
		for _, id := range s.ReferencedClaimIDs {
			if !registry.HasClaim(id) {
				violations = append(violations, Violation{
					Path:   path,
					Reason: "references unknown claim " + id,
				})
			}
		}
		for _, id := range s.ReferencedCalcIDs {
			if !registry.HasCalc(id) {
				violations = append(violations, Violation{
					Path:   path,
					Reason: "references unknown calc " + id,
				})
			}
		}
	}
	return Result{Passed: len(violations) == 0, Violations: violations}
}

// Validate runs NoFreeFacts over any Sectioned artifact.
func Validate(artifact Sectioned, registry RefRegistry) Result {
	return NoFreeFacts(artifact.FactSections(), registry)
}

// MemoryRegistry is a map-backed RefRegistry for tests and for callers
// that assemble the deal's claim/calc inventory in memory before a gate.
type MemoryRegistry struct {
	claims map[string]struct{}
	calcs  map[string]struct{}
}

// NewMemoryRegistry builds a registry over the given claim and calc ids.
func NewMemoryRegistry(claimIDs, calcIDs []string) *MemoryRegistry {
	r := &MemoryRegistry{
		claims: make(map[string]struct{}, len(claimIDs)),
		calcs:  make(map[string]struct{}, len(calcIDs)),
	}
	for _, id := range claimIDs {
		r.claims[id] = struct{}{}
	}
	for _, id := range calcIDs {
		r.calcs[id] = struct{}{}
	}
	return r
}

// AddClaim registers a claim id.
func (r *MemoryRegistry) AddClaim(id string) { r.claims[id] = struct{}{} }

// AddCalc registers a calc id.
func (r *MemoryRegistry) AddCalc(id string) { r.calcs[id] = struct{}{} }

// HasClaim reports whether the claim id is known.
func (r *MemoryRegistry) HasClaim(id string) bool {
	_, ok := r.claims[strings.TrimSpace(id)]
	return ok
}

// HasCalc reports whether the calc id is known.
func (r *MemoryRegistry) HasCalc(id string) bool {
	_, ok := r.calcs[strings.TrimSpace(id)]
	return ok
}
