package sanad

// DabtDimensions are the four precision measurements for a sanad, each
// in [0,1]. A nil pointer means the dimension was never measured and
// counts as zero; silent exclusion would inflate the score.
type DabtDimensions struct {
	Documentation *float64 `json:"documentation_precision"`
	Transmission  *float64 `json:"transmission_precision"`
	Temporal      *float64 `json:"temporal_precision"`
	Cognitive     *float64 `json:"cognitive_precision"`
}

// Dabt weighting: documentation carries the most signal for written
// evidence, the remaining dimensions split the rest.
const (
	dabtWeightDocumentation = 0.35
	dabtWeightTransmission  = 0.25
	dabtWeightTemporal      = 0.20
	dabtWeightCognitive     = 0.20
)

// DabtCapThreshold: a sanad with final dabt below this cannot grade
// above B.
const DabtCapThreshold = 0.50

// ComputeDabt returns the weighted precision score.
func ComputeDabt(d DabtDimensions) float64 {
	val := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		if *p < 0 {
			return 0
		}
		if *p > 1 {
			return 1
		}
		return *p
	}
	return val(d.Documentation)*dabtWeightDocumentation +
		val(d.Transmission)*dabtWeightTransmission +
		val(d.Temporal)*dabtWeightTemporal +
		val(d.Cognitive)*dabtWeightCognitive
}
