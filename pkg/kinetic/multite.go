package kinetic

import "math"

// MultiTE evaluates the two-compartment multi-echo exchange model. The
// longitudinal kinetics are the Buxton magnitude at each LD/PLD pair; the
// echo-time dependence splits that magnitude between a blood pool decaying
// with T2blood and a grey matter pool decaying with T2gm. The fraction still
// in blood at observation time t is exp(-(t-ATT)/T1blGM), so a short
// exchange time constant shifts signal weight to the tissue T2 quickly.
//
// CBF and ATT are fixed inputs from an upstream single-compartment fit;
// t1blgm is the fitted exchange time constant (ms), clamped away from zero
// so bound-probing solvers never divide by zero.
func MultiTE(conditions []Condition, m0, cbf, att, t1blgm float64, c Constants) []float64 {
	out := make([]float64, len(conditions))
	multiTESignal(conditions, m0, cbf, att, t1blgm, c, out)
	return out
}

func multiTESignal(conditions []Condition, m0, cbf, att, t1blgm float64, c Constants, out []float64) {
	if t1blgm < epsTime {
		t1blgm = epsTime
	}
	t1prime := 1.0 / (1.0/c.T1Blood + cbf/c.Lambda)
	scale := 2.0 * m0 * cbf * t1prime * c.Alpha * math.Exp(-att/c.T1Blood)

	for i, cond := range conditions {
		t := cond.LD + cond.PLD
		mag := buxtonMagnitude(cond, t, att, t1prime, scale)
		if mag == 0 {
			out[i] = 0
			continue
		}
		bloodFrac := math.Exp(-math.Max(t-att, 0) / t1blgm)
		out[i] = mag * (bloodFrac*math.Exp(-cond.TE/c.T2Blood) +
			(1.0-bloodFrac)*math.Exp(-cond.TE/c.T2GM))
	}
}

// buxtonMagnitude is the piecewise Buxton kinetic term with the condition
// independent factors precomputed.
func buxtonMagnitude(cond Condition, t, att, t1prime, scale float64) float64 {
	switch {
	case t < att:
		return 0.0
	case t < att+cond.LD:
		return scale * (1.0 - math.Exp(-(t-att)/t1prime))
	default:
		return scale * (1.0 - math.Exp(-cond.LD/t1prime)) *
			math.Exp(-(t-cond.LD-att)/t1prime)
	}
}
