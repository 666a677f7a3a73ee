package kinetic

import (
	"math"

	"github.com/pkg/errors"
)

// Kind tags the model variant a fit is configured with. Model polymorphism
// is carried by this tag plus the evaluator closure, not by a type
// hierarchy: every variant exposes the same descriptor surface.
type Kind int

const (
	// KindBuxton is the single-compartment model fitting [CBF, ATT].
	KindBuxton Kind = iota
	// KindMultiTE is the multi-echo exchange model fitting [T1blGM] with
	// CBF and ATT held fixed.
	KindMultiTE
	// KindMultiDW is the two-compartment diffusion model fitting
	// [A1, D1, A2, D2] with CBF and ATT held fixed.
	KindMultiDW
	// KindT2Decay is the mono-exponential echo decay fitting [S0, T2].
	KindT2Decay
)

func (k Kind) String() string {
	switch k {
	case KindBuxton:
		return "buxton"
	case KindMultiTE:
		return "multi-te"
	case KindMultiDW:
		return "multi-dw"
	case KindT2Decay:
		return "t2-decay"
	}
	return "unknown"
}

// Condition is one acquisition condition the signal is predicted at: an
// LD/PLD pair, optionally refined by an echo time or a diffusion b-value.
type Condition struct {
	LD  float64 // labeling duration, ms
	PLD float64 // post-labeling delay, ms
	TE  float64 // echo time, ms (multi-TE models)
	B   float64 // diffusion b-value (multi-DW models)
}

// Conditions expands timing sequences into the flat condition list in
// pair-major order: all extra (TE or DW) values of pair 0, then pair 1, and
// so on. This is the same order acquisition volumes are stored in.
func Conditions(ld, pld, te, dw []float64) []Condition {
	extra := 1
	if len(te) > 0 {
		extra = len(te)
	} else if len(dw) > 0 {
		extra = len(dw)
	}
	out := make([]Condition, 0, len(ld)*extra)
	for i := range ld {
		for j := 0; j < extra; j++ {
			c := Condition{LD: ld[i], PLD: pld[i]}
			if len(te) > 0 {
				c.TE = te[j]
			}
			if len(dw) > 0 {
				c.B = dw[j]
			}
			out = append(out, c)
		}
	}
	return out
}

// Model describes one fit problem: the evaluator the solver calls, the
// parameter count it solves for, and the default box the search runs in.
// Eval must write one predicted signal value per condition into out and be
// safe for concurrent use (the fitting engine calls it from many workers).
type Model struct {
	Kind      Kind
	NumParams int

	// Names are the output map keys for the fitted parameters, in order.
	Names []string

	// DefaultLower, DefaultUpper and DefaultGuess configure the solver when
	// the caller does not override them.
	DefaultLower []float64
	DefaultUpper []float64
	DefaultGuess []float64

	// Eval computes the predicted signal for parameter vector p.
	Eval func(p []float64, out []float64)

	conditions []Condition
}

// NumConditions returns the length of the predicted signal vector.
func (m *Model) NumConditions() int { return len(m.conditions) }

// CheckFitConfig validates caller-supplied bounds and initial guess against
// the model's parameter count. Any mismatch is a fatal configuration error
// raised before fitting starts.
func (m *Model) CheckFitConfig(lb, ub, p0 []float64) error {
	for name, s := range map[string][]float64{"lb": lb, "ub": ub, "par0": p0} {
		if len(s) != m.NumParams {
			return errors.Errorf("%s has length %d, model %s expects %d parameters",
				name, len(s), m.Kind, m.NumParams)
		}
	}
	for i := range lb {
		if lb[i] > ub[i] {
			return errors.Errorf("lower bound %g exceeds upper bound %g for parameter %d",
				lb[i], ub[i], i)
		}
		if p0[i] < lb[i] || p0[i] > ub[i] {
			return errors.Errorf("initial guess %g outside bounds [%g, %g] for parameter %d",
				p0[i], lb[i], ub[i], i)
		}
	}
	return nil
}

// NewBuxton builds the single-compartment model for the given conditions.
// Default bounds follow the conventional search box: CBF in raw model units
// up to 1.0 and ATT up to 5000 ms.
func NewBuxton(conditions []Condition, c Constants) *Model {
	m := &Model{
		Kind:         KindBuxton,
		NumParams:    2,
		Names:        []string{"cbf", "att"},
		DefaultLower: []float64{0.0, 0.0},
		DefaultUpper: []float64{1.0, 5000.0},
		DefaultGuess: []float64{1e-5, 1000.0},
		conditions:   conditions,
	}
	m.Eval = func(p []float64, out []float64) {
		buxtonSignal(conditions, 1.0, p[0], p[1], c, out)
	}
	return m
}

// NewMultiTE builds the multi-echo exchange model with CBF and ATT held
// fixed at the supplied values. The single fitted parameter is T1blGM, the
// blood to grey matter exchange time constant (ms).
func NewMultiTE(conditions []Condition, cbf, att float64, c Constants) *Model {
	m := &Model{
		Kind:         KindMultiTE,
		NumParams:    1,
		Names:        []string{"t1blgm"},
		DefaultLower: []float64{0.0},
		DefaultUpper: []float64{math.Inf(1)},
		DefaultGuess: []float64{400.0},
		conditions:   conditions,
	}
	m.Eval = func(p []float64, out []float64) {
		multiTESignal(conditions, 1.0, cbf, att, p[0], c, out)
	}
	return m
}

// NewMultiDW builds the two-compartment diffusion model with CBF and ATT
// held fixed. The fitted parameters are the compartment amplitudes and
// diffusivities [A1, D1, A2, D2].
func NewMultiDW(conditions []Condition, cbf, att float64, c Constants) *Model {
	m := &Model{
		Kind:         KindMultiDW,
		NumParams:    4,
		Names:        []string{"A1", "D1", "A2", "D2"},
		DefaultLower: []float64{0.0, 0.0, 0.0, 0.0},
		DefaultUpper: []float64{math.Inf(1), 1.0, math.Inf(1), 1.0},
		DefaultGuess: []float64{0.5, 5e-6, 0.5, 5e-5},
		conditions:   conditions,
	}
	m.Eval = func(p []float64, out []float64) {
		multiDWSignal(conditions, 1.0, cbf, att, p[0], p[1], p[2], p[3], c, out)
	}
	return m
}

// NewT2Decay builds the mono-exponential echo decay model over the given
// echo times, fitting [S0, T2].
func NewT2Decay(te []float64) *Model {
	conditions := make([]Condition, len(te))
	for i, t := range te {
		conditions[i] = Condition{TE: t}
	}
	m := &Model{
		Kind:         KindT2Decay,
		NumParams:    2,
		Names:        []string{"s0", "t2"},
		DefaultLower: []float64{0.0, 0.0},
		DefaultUpper: []float64{math.Inf(1), 5000.0},
		DefaultGuess: []float64{1.0, 100.0},
		conditions:   conditions,
	}
	m.Eval = func(p []float64, out []float64) {
		t2DecaySignal(conditions, p[0], p[1], out)
	}
	return m
}
