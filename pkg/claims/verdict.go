package claims

import "github.com/idis-platform/idis/pkg/sanad"

// DeriveVerdict resolves a claim's verdict from its grade and open
// defects, in fixed priority order:
//
//  1. subjective claim classes are SUBJECTIVE regardless of evidence;
//  2. no usable primary evidence blocks the claim outright;
//  3. an open anomaly means a better source says a different number:
//     CONTRADICTED;
//  4. grade D or any other open defect leaves the claim UNVERIFIED;
//  5. otherwise VERIFIED.
//
// INFLATED is never derived here: it is a reviewer judgement recorded
// through the verdict-update path.
func DeriveVerdict(c Claim, grade sanad.Grade, defects []sanad.Defect) Verdict {
	if c.Subjective() {
		return VerdictSubjective
	}

	open := sanad.OpenDefects(defects)
	for _, d := range open {
		if d.DefectType == sanad.DefectNoPrimaryEvidence {
			return VerdictBlocked
		}
	}
	if c.ICBound && c.SanadID == "" && c.PrimarySpanID == "" {
		return VerdictBlocked
	}
	for _, d := range open {
		if d.DefectType == sanad.DefectShudhudhAnomaly {
			return VerdictContradicted
		}
	}
	if grade == sanad.GradeD || len(open) > 0 {
		return VerdictUnverified
	}
	return VerdictVerified
}
