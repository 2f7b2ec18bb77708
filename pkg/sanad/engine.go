package sanad

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Input is everything the engine needs to grade one claim. The engine
// is pure: it reads nothing from storage and emits nothing, so the
// same input always yields the same evaluation.
type Input struct {
	TenantID    string
	DealID      string
	ClaimID     string
	ClaimClass  string
	Materiality Materiality

	Primary       Evidence
	Corroborating []Evidence
	Chain         []TransmissionNode
	Attestations  []ValueAttestation

	Dabt                 DabtDimensions
	ExtractionConfidence float64
	CollusionRisk        float64

	// PriorDefects lets a re-grade after cure or waiver feed the
	// previous defect list back in. Only OPEN ones affect the grade.
	PriorDefects []Defect
}

// Evaluation is the full grading result for one claim.
type Evaluation struct {
	Sanad   Sanad
	Defects []Defect

	Grade               Grade
	CorroborationStatus CorroborationStatus
	DabtScore           float64
	Explanation         []ExplanationEntry
}

// Engine derives sanad grades. Safe for concurrent use.
type Engine struct {
	clock func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDFunc overrides sanad id generation, for tests.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine constructs an engine with real time and random ids.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the grading pipeline: source tiering, dabt, tawatur,
// shudhudh, i'lal and COI analysis, then the grade derivation. The
// explanation records every step in order so an auditor can replay
// the outcome from the persisted sanad alone.
func (e *Engine) Evaluate(in Input) (*Evaluation, error) {
	if in.TenantID == "" || in.DealID == "" || in.ClaimID == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "sanad: tenant_id, deal_id and claim_id are required")
	}

	var explanation []ExplanationEntry
	var seeds []defectSeed

	// Source tiering.
	tier := TierForSourceType(in.Primary.SourceType)
	base := baseGradeForWeight(tier.Weight())
	explanation = append(explanation, ExplanationEntry{
		Step:    "source_tiering",
		ClaimID: in.ClaimID,
		Detail:  fmt.Sprintf("primary source type %q resolved to tier %s (weight %.2f)", in.Primary.SourceType, tier, tier.Weight()),
	})

	if in.Primary.EvidenceID == "" {
		seeds = append(seeds, defectSeed{
			Type:        DefectNoPrimaryEvidence,
			Description: "claim has no primary evidence attached",
		})
	} else if !tier.PrimaryEligible() && in.Materiality == MaterialityHigh && !hasPrimaryEligibleCorroborator(in.Corroborating) {
		seeds = append(seeds, defectSeed{
			Type:        DefectSupportOnlyPrimary,
			Description: fmt.Sprintf("tier %s is support-only and may not solely back a HIGH-materiality claim", tier),
		})
	}

	// Dabt.
	dabtScore := ComputeDabt(in.Dabt)
	dabtCapped := dabtScore < DabtCapThreshold
	detail := fmt.Sprintf("dabt score %.3f", dabtScore)
	if dabtCapped {
		detail += fmt.Sprintf(" is below %.2f: achievable grade capped at B", DabtCapThreshold)
	}
	explanation = append(explanation, ExplanationEntry{Step: "dabt", ClaimID: in.ClaimID, Detail: detail})

	// Tawatur.
	status := ComputeTawatur(in.Primary, in.Corroborating, in.CollusionRisk)
	explanation = append(explanation, ExplanationEntry{
		Step:    "tawatur",
		ClaimID: in.ClaimID,
		Detail:  fmt.Sprintf("corroboration status %s (collusion risk %.2f)", status, in.CollusionRisk),
	})

	// Shudhudh.
	shudhudhSeeds, shudhudhNotes := analyzeShudhudh(in.ClaimClass, in.Attestations)
	seeds = append(seeds, shudhudhSeeds...)
	explanation = append(explanation, stampClaim(shudhudhNotes, in.ClaimID)...)

	// I'lal.
	allEvidence := in.Corroborating
	if in.Primary.EvidenceID != "" {
		allEvidence = append([]Evidence{in.Primary}, in.Corroborating...)
	}
	seeds = append(seeds, analyzeIlal(in.Chain, allEvidence)...)

	// COI.
	coiSeeds, coiCapped, coiNotes := analyzeCOI(in.Primary, in.Corroborating)
	seeds = append(seeds, coiSeeds...)
	explanation = append(explanation, stampClaim(coiNotes, in.ClaimID)...)

	defects := make([]Defect, 0, len(in.PriorDefects)+len(seeds))
	defects = append(defects, in.PriorDefects...)
	for _, seed := range seeds {
		d := NewDefect(in.TenantID, in.DealID, in.ClaimID, seed.Type, in.Materiality, seed.Description)
		d.CreatedAt = e.clock()
		defects = append(defects, d)
		explanation = append(explanation, ExplanationEntry{
			Step:    "defect",
			ClaimID: in.ClaimID,
			Detail:  fmt.Sprintf("%s (%s): %s", seed.Type, d.Severity, seed.Description),
		})
	}

	grade, derivation := deriveGrade(base, OpenDefects(defects), dabtCapped, coiCapped, status)
	explanation = append(explanation, stampClaim(derivation, in.ClaimID)...)

	s := Sanad{
		SanadID:                  e.newID(),
		TenantID:                 in.TenantID,
		ClaimID:                  in.ClaimID,
		DealID:                   in.DealID,
		PrimaryEvidenceID:        in.Primary.EvidenceID,
		CorroboratingEvidenceIDs: sortedEvidenceIDs(in.Corroborating),
		TransmissionChain:        in.Chain,
		ExtractionConfidence:     in.ExtractionConfidence,
		DabtScore:                dabtScore,
		CorroborationStatus:      status,
		SanadGrade:               grade,
		GradeExplanation:         explanation,
		DefectIDs:                defectIDs(defects),
		CreatedAt:                e.clock(),
	}

	return &Evaluation{
		Sanad:               s,
		Defects:             defects,
		Grade:               grade,
		CorroborationStatus: status,
		DabtScore:           dabtScore,
		Explanation:         explanation,
	}, nil
}

// deriveGrade applies the derivation in its fixed order: base grade
// from the primary tier, FATAL terminates at D, each MAJOR downgrades
// one step to a floor of C, then the lower of the dabt and COI caps,
// then the mutawatir upgrade when no MAJOR defect remains. Caps bind
// the achievable grade, so the upgrade is clamped back to them.
func deriveGrade(base Grade, open []Defect, dabtCapped, coiCapped bool, status CorroborationStatus) (Grade, []ExplanationEntry) {
	grade := base
	steps := []ExplanationEntry{{
		Step:   "base_grade",
		Detail: fmt.Sprintf("base grade %s from primary tier weight", base),
	}}

	majors := 0
	for _, d := range open {
		switch d.Severity {
		case SeverityFatal:
			steps = append(steps, ExplanationEntry{
				Step:   "fatal_defect",
				Detail: fmt.Sprintf("open FATAL defect %s forces grade D", d.DefectType),
				Impact: string(grade) + "→D",
			})
			return GradeD, steps
		case SeverityMajor:
			majors++
		}
	}

	for i := 0; i < majors; i++ {
		if !grade.Better(GradeC) {
			break
		}
		next := gradeFromRank(gradeRank(grade) - 1)
		steps = append(steps, ExplanationEntry{
			Step:   "major_downgrade",
			Detail: "open MAJOR defect downgrades one step",
			Impact: string(grade) + "→" + string(next),
		})
		grade = next
	}

	ceiling := GradeA
	if dabtCapped {
		ceiling = GradeB
	}
	if coiCapped {
		ceiling = MinGrade(ceiling, GradeC)
	}
	if grade.Better(ceiling) {
		steps = append(steps, ExplanationEntry{
			Step:   "grade_cap",
			Detail: fmt.Sprintf("precision or conflict cap limits achievable grade to %s", ceiling),
			Impact: string(grade) + "→" + string(ceiling),
		})
		grade = ceiling
	}

	if status == CorroborationMutawatir && majors == 0 && grade.Better(GradeD) && GradeA.Better(grade) {
		next := MinGrade(gradeFromRank(gradeRank(grade)+1), ceiling)
		if next.Better(grade) {
			steps = append(steps, ExplanationEntry{
				Step:   "mutawatir_upgrade",
				Detail: "MUTAWATIR corroboration with no open MAJOR defects upgrades one step",
				Impact: string(grade) + "→" + string(next),
			})
			grade = next
		}
	}

	steps = append(steps, ExplanationEntry{
		Step:   "final_grade",
		Detail: fmt.Sprintf("final grade %s", grade),
	})
	return grade, steps
}

func hasPrimaryEligibleCorroborator(corroborating []Evidence) bool {
	for _, ev := range corroborating {
		if TierForSourceType(ev.SourceType).PrimaryEligible() {
			return true
		}
	}
	return false
}

func stampClaim(entries []ExplanationEntry, claimID string) []ExplanationEntry {
	for i := range entries {
		if entries[i].ClaimID == "" {
			entries[i].ClaimID = claimID
		}
	}
	return entries
}

func sortedEvidenceIDs(evidence []Evidence) []string {
	ids := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		ids = append(ids, ev.EvidenceID)
	}
	sort.Strings(ids)
	return ids
}

func defectIDs(defects []Defect) []string {
	ids := make([]string, 0, len(defects))
	for _, d := range defects {
		ids = append(ids, d.DefectID)
	}
	return ids
}
