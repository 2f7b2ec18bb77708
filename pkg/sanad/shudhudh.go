package sanad

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValueAttestation is one source's statement of the claim's value,
// used for anomaly detection when several sources attest the same
// claim.
type ValueAttestation struct {
	EvidenceID  string          `json:"evidence_id"`
	Tier        Tier            `json:"tier"`
	Value       decimal.Decimal `json:"value"`
	Unit        string          `json:"unit"`
	PeriodStart time.Time       `json:"period_start,omitempty"`
	PeriodEnd   time.Time       `json:"period_end,omitempty"`
}

// ReconciliationTolerance absorbs rounding differences between
// systems; values within it are the same number.
const ReconciliationTolerance = 0.01

// classTolerances is the per-claim-class contradiction threshold: a
// relative gap beyond this is a real contradiction, not noise.
// Financial figures tolerate reporting-basis differences (cash vs
// accrual, FX timing) that other claim classes have no excuse for.
var classTolerances = map[string]float64{
	"FINANCIAL": 0.05,
}

const defaultClassTolerance = ReconciliationTolerance

// ContradictionToleranceFor returns the tolerance for a claim class.
func ContradictionToleranceFor(claimClass string) float64 {
	if t, ok := classTolerances[strings.ToUpper(claimClass)]; ok {
		return t
	}
	return defaultClassTolerance
}

// unitSpec normalizes a unit string to a dimension and a multiplier
// into that dimension's base.
type unitSpec struct {
	dimension  string
	multiplier decimal.Decimal
}

var unitTable = map[string]unitSpec{
	"USD":    {"currency_usd", decimal.New(1, 0)},
	"USD_K":  {"currency_usd", decimal.New(1, 3)},
	"USD_M":  {"currency_usd", decimal.New(1, 6)},
	"USD_B":  {"currency_usd", decimal.New(1, 9)},
	"EUR":    {"currency_eur", decimal.New(1, 0)},
	"EUR_K":  {"currency_eur", decimal.New(1, 3)},
	"EUR_M":  {"currency_eur", decimal.New(1, 6)},
	"GBP":    {"currency_gbp", decimal.New(1, 0)},
	"GBP_M":  {"currency_gbp", decimal.New(1, 6)},
	"PCT":    {"ratio", decimal.New(1, -2)},
	"RATIO":  {"ratio", decimal.New(1, 0)},
	"COUNT":  {"count", decimal.New(1, 0)},
	"MONTHS": {"months", decimal.New(1, 0)},
}

// normalizeUnit resolves an attestation to (dimension, base value).
// Unknown units report failure so the caller can raise a unit
// mismatch instead of comparing incomparable numbers.
func normalizeUnit(v ValueAttestation) (string, decimal.Decimal, bool) {
	spec, ok := unitTable[strings.ToUpper(strings.TrimSpace(v.Unit))]
	if !ok {
		return "", decimal.Zero, false
	}
	return spec.dimension, v.Value.Mul(spec.multiplier), true
}

// defectSeed is a detected flaw before it becomes a persisted Defect.
type defectSeed struct {
	Type        DefectType
	Description string
}

// analyzeShudhudh reconciles multi-source attestations of one claim
// value. Ordering is deterministic: attestations are processed sorted
// by (descending tier weight, evidence id), and the highest-tier
// attestation is the reference everything else reconciles against.
func analyzeShudhudh(claimClass string, attestations []ValueAttestation) ([]defectSeed, []ExplanationEntry) {
	if len(attestations) < 2 {
		return nil, nil
	}

	sorted := make([]ValueAttestation, len(attestations))
	copy(sorted, attestations)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := sorted[i].Tier.Weight(), sorted[j].Tier.Weight()
		if wi != wj {
			return wi > wj
		}
		return sorted[i].EvidenceID < sorted[j].EvidenceID
	})

	reference := sorted[0]
	refDim, refBase, refOK := normalizeUnit(reference)

	var seeds []defectSeed
	var notes []ExplanationEntry
	tolerance := ContradictionToleranceFor(claimClass)

	for _, att := range sorted[1:] {
		dim, base, ok := normalizeUnit(att)
		if !refOK || !ok || dim != refDim {
			seeds = append(seeds, defectSeed{
				Type: DefectShudhudhUnitMismatch,
				Description: fmt.Sprintf("attestation %s unit %q does not reconcile with reference %s unit %q",
					att.EvidenceID, att.Unit, reference.EvidenceID, reference.Unit),
			})
			continue
		}

		if disjointWindows(reference, att) {
			seeds = append(seeds, defectSeed{
				Type: DefectShudhudhTimeWindow,
				Description: fmt.Sprintf("attestation %s covers a different reporting period than reference %s",
					att.EvidenceID, reference.EvidenceID),
			})
			continue
		}

		gap := relativeGap(refBase, base)
		switch {
		case gap <= ReconciliationTolerance:
			notes = append(notes, ExplanationEntry{
				Step:   "shudhudh",
				Detail: fmt.Sprintf("attestation %s reconciles with %s (gap %.2f%%)", att.EvidenceID, reference.EvidenceID, gap*100),
			})
		case gap <= tolerance:
			notes = append(notes, ExplanationEntry{
				Step:   "shudhudh",
				Detail: fmt.Sprintf("attestation %s within class tolerance of %s (gap %.2f%% ≤ %.0f%%)", att.EvidenceID, reference.EvidenceID, gap*100, tolerance*100),
			})
		default:
			seeds = append(seeds, defectSeed{
				Type: DefectShudhudhAnomaly,
				Description: fmt.Sprintf("attestation %s (%s %s, tier %s) contradicts %s (%s %s, tier %s): gap %.1f%% exceeds %.0f%% tolerance",
					att.EvidenceID, att.Value.String(), att.Unit, att.Tier,
					reference.EvidenceID, reference.Value.String(), reference.Unit, reference.Tier,
					gap*100, tolerance*100),
			})
		}
	}
	return seeds, notes
}

// disjointWindows reports whether both attestations carry reporting
// periods that do not overlap at all.
func disjointWindows(a, b ValueAttestation) bool {
	if a.PeriodStart.IsZero() || a.PeriodEnd.IsZero() || b.PeriodStart.IsZero() || b.PeriodEnd.IsZero() {
		return false
	}
	return a.PeriodEnd.Before(b.PeriodStart) || b.PeriodEnd.Before(a.PeriodStart)
}

// relativeGap is |a-b| / max(|a|,|b|); zero when both are zero.
func relativeGap(a, b decimal.Decimal) float64 {
	absA, absB := a.Abs(), b.Abs()
	denominator := absA
	if absB.GreaterThan(absA) {
		denominator = absB
	}
	if denominator.IsZero() {
		return 0
	}
	gap, _ := a.Sub(b).Abs().Div(denominator).Float64()
	return gap
}
