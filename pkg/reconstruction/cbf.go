package reconstruction

import (
	"github.com/pkg/errors"

	"aslkit/pkg/asldata"
	"aslkit/pkg/fitting"
	"aslkit/pkg/kinetic"
)

// CBFMapping fits the single-compartment Buxton model voxel by voxel and
// produces the CBF and ATT maps. One volume per LD/PLD pair is consumed;
// when the acquisition carries an extra TE or diffusion dimension, the
// first extra condition of each pair is used for this stage.
type CBFMapping struct {
	data      *asldata.ASLData
	constants kinetic.Constants
	mask      *asldata.Volume

	cbf *asldata.Volume
	att *asldata.Volume

	stats *fitting.Stats
}

// NewCBFMapping creates the orchestrator with the default model constants.
// The container must carry at least one LD/PLD pair.
func NewCBFMapping(data *asldata.ASLData) (*CBFMapping, error) {
	if data == nil {
		return nil, errors.New("ASL data container must be set")
	}
	if len(data.LD()) == 0 || len(data.PLD()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingLDPLD, "CBF mapping")
	}
	return &CBFMapping{data: data, constants: kinetic.DefaultConstants()}, nil
}

// SetConstants overrides the physical model constants for subsequent fits.
// Constants are read-only while a fit is in flight; callers must not change
// them concurrently with CreateMap.
func (c *CBFMapping) SetConstants(constants kinetic.Constants) {
	c.constants = constants
}

// SetBrainMask binarizes mask against label and restricts fitting to the
// selected voxels.
func (c *CBFMapping) SetBrainMask(mask *asldata.Volume, label float64) error {
	bin, err := asldata.BinarizeMask(mask, c.data.M0(), label)
	if err != nil {
		return err
	}
	c.mask = bin
	return nil
}

// CreateMap fits every masked voxel and returns the "cbf", "cbf_norm" and
// "att" maps. Each call re-runs the fit; nothing is reused from a previous
// invocation.
func (c *CBFMapping) CreateMap(opts CreateOpts) (map[string]*asldata.Volume, error) {
	conditions := pairConditions(c.data)
	model := kinetic.NewBuxton(conditions, c.constants)

	series := make([]*asldata.Volume, len(conditions))
	for i := range conditions {
		series[i] = c.data.VolumeAt(i, 0)
	}

	engine, err := fitting.NewEngine(model, series, c.data.M0(), c.mask)
	if err != nil {
		return nil, err
	}
	maps, stats, err := engine.Run(fitting.Options{
		LowerBounds:  opts.LowerBounds,
		UpperBounds:  opts.UpperBounds,
		InitialGuess: opts.InitialGuess,
		Cores:        opts.Cores,
	})
	if err != nil {
		return nil, err
	}

	if maps["cbf"], err = maybeSmooth(maps["cbf"], opts.SmoothSigma); err != nil {
		return nil, err
	}
	if maps["att"], err = maybeSmooth(maps["att"], opts.SmoothSigma); err != nil {
		return nil, err
	}
	c.cbf = maps["cbf"]
	c.att = maps["att"]
	c.stats = stats

	return map[string]*asldata.Volume{
		"cbf":      c.cbf,
		"cbf_norm": normalizedCBF(c.cbf),
		"att":      c.att,
	}, nil
}

// Stats returns the diagnostics of the most recent CreateMap call, or nil
// when no fit has run yet.
func (c *CBFMapping) Stats() *fitting.Stats { return c.stats }
