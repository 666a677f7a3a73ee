package kinetic

import "math"

// Buxton evaluates the single-compartment pCASL kinetic model at each LD/PLD
// condition and returns the predicted signal magnitudes. m0 scales the
// output; cbf is in raw model units (1/ms scale) and att in ms.
//
// The model follows Buxton et al. 1998 for a pCASL bolus of duration LD
// observed at t = LD + PLD:
//
//	t <  ATT:          no labeled blood has arrived, signal is 0
//	ATT <= t < ATT+LD: inflow phase, the bolus is still arriving
//	t >= ATT+LD:       decay phase, the full bolus decays with T1'
//
// where 1/T1' = 1/T1blood + CBF/Lambda is the apparent tissue relaxation
// rate. The evaluator is finite for any cbf >= 0 and att >= 0.
func Buxton(conditions []Condition, m0, cbf, att float64, c Constants) []float64 {
	out := make([]float64, len(conditions))
	buxtonSignal(conditions, m0, cbf, att, c, out)
	return out
}

func buxtonSignal(conditions []Condition, m0, cbf, att float64, c Constants, out []float64) {
	t1prime := 1.0 / (1.0/c.T1Blood + cbf/c.Lambda)
	scale := 2.0 * m0 * cbf * t1prime * c.Alpha * math.Exp(-att/c.T1Blood)

	for i, cond := range conditions {
		out[i] = buxtonMagnitude(cond, cond.LD+cond.PLD, att, t1prime, scale)
	}
}
