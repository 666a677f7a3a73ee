package fitting

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"aslkit/pkg/asldata"
	"aslkit/pkg/kinetic"
)

// autoCoreReserve is how many logical cores the automatic setting leaves for
// the rest of the system.
const autoCoreReserve = 2

// Options configures one fitting run. Zero-value bounds/guess mean "use the
// model defaults".
type Options struct {
	// LowerBounds, UpperBounds and InitialGuess must all match the model's
	// parameter count when set. A length mismatch is a fatal configuration
	// error.
	LowerBounds  []float64
	UpperBounds  []float64
	InitialGuess []float64

	// Cores selects the parallelism degree: 0 picks all logical cores minus
	// a small reserve, 1 runs strictly sequentially, larger values run a
	// fixed worker pool. Values above the available cores degrade to the
	// maximum; negative values are a configuration error.
	Cores int
}

// Stats reports per-run diagnostics: how many voxels were fitted, how many
// fell back to the zero vector, and a validity mask distinguishing true
// zero-valued fits from defaulted failures.
type Stats struct {
	Fitted  int
	Failed  int
	Skipped int

	// Valid is 1 where the solver converged and the reference value was
	// usable, 0 elsewhere (outside the mask or defaulted).
	Valid *asldata.Volume
}

// Engine fits a kinetic model to every voxel inside a region mask. Voxels
// are independent; workers write to disjoint output slots, which is what
// makes the unordered parallel execution safe and the output identical to a
// sequential run.
type Engine struct {
	model *kinetic.Model
	ref   *asldata.Volume
	mask  *asldata.Volume

	// series holds one volume per acquisition condition, in model condition
	// order.
	series []*asldata.Volume

	// build and fixed are set for voxelwise models: build constructs the
	// model for one voxel from the fixed parameter values sampled at that
	// voxel. When build is nil the shared model is used everywhere.
	build func(fixed []float64) *kinetic.Model
	fixed []*asldata.Volume
}

// NewEngine validates the geometry of a fitting run. The series must carry
// exactly one volume per model condition and every volume, the mask and the
// reference must share the same spatial shape. All violations are fatal
// before any fitting begins.
func NewEngine(model *kinetic.Model, series []*asldata.Volume, ref, mask *asldata.Volume) (*Engine, error) {
	if model == nil {
		return nil, errors.New("model must be set")
	}
	if ref == nil {
		return nil, errors.New("reference image must be set")
	}
	if len(series) != model.NumConditions() {
		return nil, errors.Errorf("series has %d volumes, model has %d conditions",
			len(series), model.NumConditions())
	}
	if mask == nil {
		mask = asldata.FullMask(ref)
	}
	if !mask.SameShape(ref) {
		return nil, errors.Errorf("mask is %dx%dx%d, reference is %dx%dx%d",
			mask.Width, mask.Height, mask.Depth, ref.Width, ref.Height, ref.Depth)
	}
	for i, vol := range series {
		if !vol.SameShape(ref) {
			return nil, errors.Errorf("series volume %d is %dx%dx%d, reference is %dx%dx%d",
				i, vol.Width, vol.Height, vol.Depth, ref.Width, ref.Height, ref.Depth)
		}
	}
	return &Engine{model: model, ref: ref, mask: mask, series: series}, nil
}

// NewVoxelwiseEngine builds an engine whose model is parameterized per voxel:
// build receives the values of the fixed maps at one voxel and returns the
// model to fit there. The prototype call build(zeros) supplies the parameter
// count, names and default box; build must return models with a consistent
// descriptor surface across voxels.
func NewVoxelwiseEngine(build func(fixed []float64) *kinetic.Model, fixed []*asldata.Volume,
	series []*asldata.Volume, ref, mask *asldata.Volume) (*Engine, error) {

	if build == nil {
		return nil, errors.New("model builder must be set")
	}
	proto := build(make([]float64, len(fixed)))
	eng, err := NewEngine(proto, series, ref, mask)
	if err != nil {
		return nil, err
	}
	for i, vol := range fixed {
		if vol == nil {
			return nil, errors.Errorf("fixed map %d must be set", i)
		}
		if !vol.SameShape(ref) {
			return nil, errors.Errorf("fixed map %d is %dx%dx%d, reference is %dx%dx%d",
				i, vol.Width, vol.Height, vol.Depth, ref.Width, ref.Height, ref.Depth)
		}
	}
	eng.build = build
	eng.fixed = fixed
	return eng, nil
}

// resolveCores turns the caller's parallelism request into a worker count.
func resolveCores(requested int) (int, error) {
	available := runtime.NumCPU()
	switch {
	case requested < 0:
		return 0, errors.Errorf("cores must be non-negative, got %d", requested)
	case requested == 0:
		n := available - autoCoreReserve
		if n < 1 {
			n = 1
		}
		return n, nil
	case requested > available:
		log.WithFields(log.Fields{"requested": requested, "available": available}).
			Warn("requested parallelism exceeds available cores, degrading")
		return available, nil
	default:
		return requested, nil
	}
}

// Run fits every masked voxel and returns the named parameter maps plus the
// run diagnostics. Maps are freshly allocated, zero outside the mask, and
// never alias engine state.
func (e *Engine) Run(opts Options) (map[string]*asldata.Volume, *Stats, error) {
	lb, ub, p0 := opts.LowerBounds, opts.UpperBounds, opts.InitialGuess
	if lb == nil {
		lb = e.model.DefaultLower
	}
	if ub == nil {
		ub = e.model.DefaultUpper
	}
	if p0 == nil {
		p0 = e.model.DefaultGuess
	}
	if err := e.model.CheckFitConfig(lb, ub, p0); err != nil {
		return nil, nil, err
	}
	workers, err := resolveCores(opts.Cores)
	if err != nil {
		return nil, nil, err
	}

	numParams := e.model.NumParams
	results := make([]*asldata.Volume, numParams)
	for i := range results {
		results[i] = asldata.NewVolumeLike(e.ref)
	}
	valid := asldata.NewVolumeLike(e.ref)

	// Collect the masked voxel indices up front so workers can take disjoint
	// chunks of comparable size.
	voxels := make([]int, 0, e.mask.NumVoxels())
	skipped := 0
	for i, m := range e.mask.Data {
		if m != 0 {
			voxels = append(voxels, i)
		} else {
			skipped++
		}
	}

	fitted := make([]int64, workers)
	failed := make([]int64, workers)

	chunk := (len(voxels) + workers - 1) / workers
	grp := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(voxels) {
			break
		}
		end := start + chunk
		if end > len(voxels) {
			end = len(voxels)
		}
		worker := w
		indices := voxels[start:end]
		grp.Go(func() error {
			e.fitChunk(indices, lb, ub, p0, results, valid,
				&fitted[worker], &failed[worker])
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, nil, err
	}

	stats := &Stats{Skipped: skipped, Valid: valid}
	for w := 0; w < workers; w++ {
		stats.Fitted += int(fitted[w])
		stats.Failed += int(failed[w])
	}
	log.WithFields(log.Fields{
		"model":   e.model.Kind.String(),
		"fitted":  stats.Fitted,
		"failed":  stats.Failed,
		"skipped": stats.Skipped,
		"workers": workers,
	}).Info("voxel fitting completed")

	return e.assemble(results), stats, nil
}

// fitChunk processes a disjoint set of voxel indices. Each worker owns its
// solver instance and scratch buffers; the only shared writes land in the
// per-voxel output slots of this chunk.
func (e *Engine) fitChunk(indices []int, lb, ub, p0 []float64,
	results []*asldata.Volume, valid *asldata.Volume, fitted, failed *int64) {

	shared := newSolver(e.model, lb, ub)
	y := make([]float64, len(e.series))
	fixedVals := make([]float64, len(e.fixed))

	for _, idx := range indices {
		refVal := e.ref.Data[idx]
		if refVal == 0 || math.IsNaN(refVal) || math.IsInf(refVal, 0) {
			// Defined fallback: zero vector, voxel marked invalid.
			*failed++
			continue
		}

		// Normalize the observed curve by the reference value; the models
		// are evaluated with unit M0.
		for c, vol := range e.series {
			y[c] = vol.Data[idx] / refVal
		}

		slv := shared
		if e.build != nil {
			for i, vol := range e.fixed {
				fixedVals[i] = vol.Data[idx]
			}
			slv = newSolver(e.build(fixedVals), lb, ub)
		}

		params, err := slv.fit(y, p0)
		if err != nil {
			// Recoverable numerical failure: leave the zero vector in place
			// and keep going. A single voxel must never abort the map.
			*failed++
			continue
		}
		for p := range params {
			results[p].Data[idx] = params[p]
		}
		valid.Data[idx] = 1
		*fitted++
	}
}

// assemble pairs the fitted parameter volumes with their model names.
func (e *Engine) assemble(results []*asldata.Volume) map[string]*asldata.Volume {
	out := make(map[string]*asldata.Volume, len(results))
	for i, name := range e.model.Names {
		out[name] = results[i]
	}
	return out
}
