package sanad

import "fmt"

// analyzeCOI inspects every source backing the claim for undisclosed
// high-severity conflicts of interest. An undisclosed HIGH conflict is
// neutralized only when an independent primary-eligible corroborator
// (different upstream origin) also attests the claim; otherwise it
// becomes a defect and caps the grade at C.
func analyzeCOI(primary Evidence, corroborating []Evidence) ([]defectSeed, bool, []ExplanationEntry) {
	all := append([]Evidence{primary}, corroborating...)

	var seeds []defectSeed
	var notes []ExplanationEntry
	capToC := false

	for _, ev := range all {
		if !ev.COIPresent {
			continue
		}
		if ev.COISeverity != COIHigh {
			notes = append(notes, ExplanationEntry{
				Step:   "coi",
				Detail: fmt.Sprintf("evidence %s carries a %s conflict of interest; no grade impact", ev.EvidenceID, ev.COISeverity),
			})
			continue
		}
		if ev.COIDisclosed {
			notes = append(notes, ExplanationEntry{
				Step:   "coi",
				Detail: fmt.Sprintf("evidence %s carries a disclosed HIGH conflict of interest; flagged for reviewer attention", ev.EvidenceID),
			})
			continue
		}

		if cure := independentPrimaryCorroborator(ev, all); cure != "" {
			notes = append(notes, ExplanationEntry{
				Step:   "coi",
				Detail: fmt.Sprintf("undisclosed HIGH conflict on %s neutralized by independent corroborator %s", ev.EvidenceID, cure),
			})
			continue
		}

		seeds = append(seeds, defectSeed{
			Type:        DefectCOIHighUndisclosed,
			Description: fmt.Sprintf("evidence %s carries an undisclosed HIGH conflict of interest with no independent corroboration", ev.EvidenceID),
		})
		capToC = true
	}

	return seeds, capToC, notes
}

// independentPrimaryCorroborator returns the id of a conflict-free,
// primary-eligible source with a different upstream origin than the
// conflicted evidence, or "" when none exists.
func independentPrimaryCorroborator(conflicted Evidence, all []Evidence) string {
	for _, other := range all {
		if other.EvidenceID == conflicted.EvidenceID {
			continue
		}
		if other.IndependenceKey() == conflicted.IndependenceKey() {
			continue
		}
		if other.COIPresent && other.COISeverity == COIHigh && !other.COIDisclosed {
			continue
		}
		if TierForSourceType(other.SourceType).PrimaryEligible() {
			return other.EvidenceID
		}
	}
	return ""
}
