package kinetic

import "math"

// T2Decay evaluates the mono-exponential echo decay S(TE) = S0 exp(-TE/T2)
// used by the T2 scalar mapping. T2 is clamped away from zero so the model
// stays finite at the lower bound.
func T2Decay(te []float64, s0, t2 float64) []float64 {
	conditions := make([]Condition, len(te))
	for i, t := range te {
		conditions[i] = Condition{TE: t}
	}
	out := make([]float64, len(conditions))
	t2DecaySignal(conditions, s0, t2, out)
	return out
}

func t2DecaySignal(conditions []Condition, s0, t2 float64, out []float64) {
	if t2 < epsTime {
		t2 = epsTime
	}
	for i, cond := range conditions {
		out[i] = s0 * math.Exp(-cond.TE/t2)
	}
}
