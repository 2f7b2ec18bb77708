package sanad

// MutawatirCollusionLimit: at or above this collusion risk the
// multiplicity of witnesses stops counting as independence.
const MutawatirCollusionLimit = 0.30

// ComputeTawatur derives the corroboration status from the distinct
// independence keys across primary and corroborating evidence.
// MUTAWATIR requires at least three independent keys and a collusion
// risk below the limit; otherwise the count downgrades to AHAD_2,
// AHAD_1 or NONE.
func ComputeTawatur(primary Evidence, corroborating []Evidence, collusionRisk float64) CorroborationStatus {
	keys := map[string]bool{}
	if primary.EvidenceID != "" {
		keys[primary.IndependenceKey()] = true
	}
	for _, e := range corroborating {
		keys[e.IndependenceKey()] = true
	}

	switch n := len(keys); {
	case n >= 3 && collusionRisk < MutawatirCollusionLimit:
		return CorroborationMutawatir
	case n >= 3:
		// Enough witnesses, but they may be echoing one another.
		return CorroborationAhad2
	case n == 2:
		return CorroborationAhad2
	case n == 1:
		return CorroborationAhad1
	default:
		return CorroborationNone
	}
}
