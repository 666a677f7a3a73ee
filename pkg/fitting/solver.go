// Package fitting implements the per-voxel non-linear least-squares engine:
// a bounded solver around gonum's optimizers, a data-parallel voxel loop and
// the assembly of fitted parameters into dense named maps.
package fitting

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"aslkit/pkg/kinetic"
)

// ErrNoConvergence reports a per-voxel solver failure. Callers inside the
// engine treat it as recoverable: the voxel falls back to the zero vector.
var ErrNoConvergence = errors.New("solver did not converge")

// solver performs one bounded curve fit: argmin_p ||y - model(p)||^2 with
// lb <= p <= ub. The search runs in box-scaled coordinates so parameters of
// very different magnitudes (raw CBF ~1e-2 against ATT ~1e3 ms) span
// comparable ranges, with a quadratic penalty pulling excursions back inside
// the box. Nelder-Mead is used because the models are cheap, low-dimensional
// and not everywhere differentiable (the Buxton model has kinks at the
// arrival boundaries).
type solver struct {
	model *kinetic.Model
	lb    []float64
	ub    []float64

	// scale maps one unit of search space to parameter units per dimension.
	scale []float64
}

const (
	boundPenalty  = 1e6
	maxIterations = 2000
)

func newSolver(model *kinetic.Model, lb, ub []float64) *solver {
	s := &solver{
		model: model,
		lb:    lb,
		ub:    ub,
		scale: make([]float64, model.NumParams),
	}
	for i := range s.scale {
		switch {
		case !math.IsInf(ub[i], 1):
			s.scale[i] = ub[i] - lb[i]
		default:
			// Open upper bound: scale by the default guess magnitude so the
			// simplex starts with a sensible step size.
			s.scale[i] = math.Max(math.Abs(model.DefaultGuess[i]), 1.0)
		}
		if s.scale[i] == 0 {
			s.scale[i] = 1.0
		}
	}
	return s
}

func (s *solver) encode(p []float64) []float64 {
	u := make([]float64, len(p))
	for i := range p {
		u[i] = (p[i] - s.lb[i]) / s.scale[i]
	}
	return u
}

// decode maps search coordinates back to clamped parameters and returns the
// squared bound violation used as penalty.
func (s *solver) decode(u []float64, p []float64) float64 {
	violation := 0.0
	for i := range u {
		p[i] = s.lb[i] + u[i]*s.scale[i]
		if p[i] < s.lb[i] {
			d := (s.lb[i] - p[i]) / s.scale[i]
			violation += d * d
			p[i] = s.lb[i]
		} else if p[i] > s.ub[i] {
			d := (p[i] - s.ub[i]) / s.scale[i]
			violation += d * d
			p[i] = s.ub[i]
		}
	}
	return violation
}

// fit solves for the parameter vector best matching the observed signal y.
// p0 is the initial guess in parameter units. The returned vector always
// lies inside the bounds.
func (s *solver) fit(y []float64, p0 []float64) ([]float64, error) {
	if len(y) != s.model.NumConditions() {
		return nil, errors.Errorf("observed signal has %d samples, model predicts %d",
			len(y), s.model.NumConditions())
	}

	n := s.model.NumParams
	params := make([]float64, n)
	predicted := make([]float64, len(y))

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			violation := s.decode(u, params)
			s.model.Eval(params, predicted)
			sse := 0.0
			for i := range y {
				r := y[i] - predicted[i]
				sse += r * r
			}
			return sse + boundPenalty*violation
		},
	}

	settings := &optimize.Settings{
		MajorIterations: maxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, s.encode(p0), settings, &optimize.NelderMead{})
	if err != nil {
		return nil, errors.Wrap(ErrNoConvergence, err.Error())
	}
	// Limit statuses still carry the best point found; accept it as long as
	// the residual is finite.
	if result == nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, ErrNoConvergence
	}

	out := make([]float64, n)
	s.decode(result.X, out)
	for i := range out {
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, ErrNoConvergence
		}
	}
	return out, nil
}
