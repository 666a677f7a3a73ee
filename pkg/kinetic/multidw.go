package kinetic

import "math"

// MultiDW evaluates the two-compartment diffusion-weighted ASL model. The
// Buxton kinetic magnitude at each LD/PLD pair is attenuated by a
// biexponential diffusion term over the acquisition b-values:
//
//	S(LD, PLD, b) = Buxton(LD, PLD) * (A1 exp(-b D1) + A2 exp(-b D2))
//
// Compartment 1 is conventionally the fast (pseudo-diffusion, intravascular)
// pool and compartment 2 the slow (tissue) pool, but the model itself is
// symmetric in the two pairs. CBF and ATT are fixed upstream inputs.
func MultiDW(conditions []Condition, m0, cbf, att, a1, d1, a2, d2 float64, c Constants) []float64 {
	out := make([]float64, len(conditions))
	multiDWSignal(conditions, m0, cbf, att, a1, d1, a2, d2, c, out)
	return out
}

func multiDWSignal(conditions []Condition, m0, cbf, att, a1, d1, a2, d2 float64, c Constants, out []float64) {
	t1prime := 1.0 / (1.0/c.T1Blood + cbf/c.Lambda)
	scale := 2.0 * m0 * cbf * t1prime * c.Alpha * math.Exp(-att/c.T1Blood)

	for i, cond := range conditions {
		mag := buxtonMagnitude(cond, cond.LD+cond.PLD, att, t1prime, scale)
		out[i] = mag * (a1*math.Exp(-cond.B*d1) + a2*math.Exp(-cond.B*d2))
	}
}

// WaterExchangeRate derives the kw estimate from fitted compartment
// amplitudes and the transit time: the extravascular signal fraction divided
// by ATT, in 1/ms. Degenerate inputs (no amplitude, no transit time) yield
// zero rather than a non-finite value.
func WaterExchangeRate(a1, a2, att float64) float64 {
	total := a1 + a2
	if total <= 0 || att <= 0 {
		return 0
	}
	return (a2 / total) / att
}
