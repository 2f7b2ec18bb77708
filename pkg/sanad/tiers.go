package sanad

// Tier is the six-level source reliability classification.
type Tier string

const (
	TierAthbatAlNas  Tier = "ATHBAT_AL_NAS"
	TierThiqahThabit Tier = "THIQAH_THABIT"
	TierThiqah       Tier = "THIQAH"
	TierSaduq        Tier = "SADUQ"
	TierShaykh       Tier = "SHAYKH"
	TierMaqbul       Tier = "MAQBUL"
)

// tierWeights is fixed; weights feed base-grade derivation.
var tierWeights = map[Tier]float64{
	TierAthbatAlNas:  1.00,
	TierThiqahThabit: 0.90,
	TierThiqah:       0.80,
	TierSaduq:        0.65,
	TierShaykh:       0.50,
	TierMaqbul:       0.40,
}

// Weight returns the tier's reliability weight.
func (t Tier) Weight() float64 {
	if w, ok := tierWeights[t]; ok {
		return w
	}
	return tierWeights[TierMaqbul]
}

// PrimaryEligible reports whether the tier may serve as the primary
// backing for a claim. Tiers 5 and 6 are support-only: they may
// corroborate but not carry a HIGH-materiality claim alone.
func (t Tier) PrimaryEligible() bool {
	switch t {
	case TierAthbatAlNas, TierThiqahThabit, TierThiqah, TierSaduq:
		return true
	}
	return false
}

// sourceTypeTiers maps ingestion source types to tiers. Anything not
// listed fails closed to MAQBUL.
var sourceTypeTiers = map[string]Tier{
	"audited_financials":   TierAthbatAlNas,
	"bank_statement":       TierAthbatAlNas,
	"regulatory_filing":    TierAthbatAlNas,
	"contract_executed":    TierThiqahThabit,
	"cap_table_system":     TierThiqahThabit,
	"accounting_system":    TierThiqahThabit,
	"crm_system":           TierThiqah,
	"data_room_document":   TierThiqah,
	"customer_reference":   TierThiqah,
	"financial_model":      TierSaduq,
	"management_interview": TierSaduq,
	"pitch_deck":           TierShaykh,
	"founder_assertion":    TierShaykh,
	"press_coverage":       TierMaqbul,
	"analyst_note":         TierMaqbul,
}

// TierForSourceType resolves an evidence source type to its tier.
// Unknown source types fail closed to MAQBUL.
func TierForSourceType(sourceType string) Tier {
	if t, ok := sourceTypeTiers[sourceType]; ok {
		return t
	}
	return TierMaqbul
}

// baseGradeForWeight maps the primary tier weight to the starting
// grade of the derivation.
func baseGradeForWeight(w float64) Grade {
	switch {
	case w >= 0.90:
		return GradeA
	case w >= 0.70:
		return GradeB
	case w >= 0.50:
		return GradeC
	default:
		return GradeD
	}
}
