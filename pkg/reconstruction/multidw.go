package reconstruction

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"aslkit/pkg/asldata"
	"aslkit/pkg/fitting"
	"aslkit/pkg/kinetic"
)

// MultiDW fits the two-compartment diffusion model and produces the
// compartment amplitude and diffusivity maps plus the derived water
// exchange rate. Like the multi-echo variant it holds CBF and ATT fixed
// per voxel, running the single-compartment stage first unless the maps
// were pre-supplied.
type MultiDW struct {
	data      *asldata.ASLData
	constants kinetic.Constants
	mask      *asldata.Volume

	cbf *asldata.Volume
	att *asldata.Volume

	stats *fitting.Stats
}

// NewMultiDW creates the orchestrator. The container must carry diffusion
// b-values alongside its LD/PLD pairs.
func NewMultiDW(data *asldata.ASLData) (*MultiDW, error) {
	if data == nil {
		return nil, errors.New("ASL data container must be set")
	}
	if len(data.DW()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingDW, "multi-DW mapping")
	}
	if len(data.LD()) == 0 || len(data.PLD()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingLDPLD, "multi-DW mapping")
	}
	return &MultiDW{
		data:      data,
		constants: kinetic.DefaultConstants(),
		cbf:       asldata.NewVolumeLike(data.M0()),
		att:       asldata.NewVolumeLike(data.M0()),
	}, nil
}

// SetConstants overrides the physical model constants for subsequent fits.
func (m *MultiDW) SetConstants(constants kinetic.Constants) {
	m.constants = constants
}

// SetBrainMask binarizes mask against label and restricts fitting to the
// selected voxels.
func (m *MultiDW) SetBrainMask(mask *asldata.Volume, label float64) error {
	bin, err := asldata.BinarizeMask(mask, m.data.M0(), label)
	if err != nil {
		return err
	}
	m.mask = bin
	return nil
}

// SetCBFMap attaches a previously computed raw-unit CBF map, bypassing the
// internal first-stage fit.
func (m *MultiDW) SetCBFMap(cbf *asldata.Volume) error {
	if cbf == nil || !cbf.SameShape(m.data.M0()) {
		return errors.Wrap(asldata.ErrShapeMismatch, "CBF map")
	}
	m.cbf = cbf
	return nil
}

// SetATTMap attaches a previously computed ATT map, bypassing the internal
// first-stage fit.
func (m *MultiDW) SetATTMap(att *asldata.Volume) error {
	if att == nil || !att.SameShape(m.data.M0()) {
		return errors.Wrap(asldata.ErrShapeMismatch, "ATT map")
	}
	m.att = att
	return nil
}

// CBFMap returns the CBF map the diffusion fit will hold fixed.
func (m *MultiDW) CBFMap() *asldata.Volume { return m.cbf }

// ATTMap returns the ATT map the diffusion fit will hold fixed.
func (m *MultiDW) ATTMap() *asldata.Volume { return m.att }

func (m *MultiDW) ensureBasicMaps(cores int) error {
	if meanValue(m.cbf) != 0 && meanValue(m.att) != 0 {
		return nil
	}
	log.Info("CBF/ATT maps not provided, running single-compartment stage first")
	basic, err := NewCBFMapping(m.data)
	if err != nil {
		return err
	}
	if m.mask != nil {
		basic.mask = m.mask
	}
	maps, err := basic.CreateMap(CreateOpts{Cores: cores})
	if err != nil {
		return errors.Wrap(err, "single-compartment stage")
	}
	m.cbf = maps["cbf"]
	m.att = maps["att"]
	return nil
}

// CreateMap runs the two-stage fit and returns the "cbf", "cbf_norm",
// "att", "A1", "D1", "A2", "D2" and "kw" maps. The water exchange rate kw
// is derived per voxel from the fitted compartment amplitudes and the
// fixed arterial transit time.
func (m *MultiDW) CreateMap(opts CreateOpts) (map[string]*asldata.Volume, error) {
	if err := m.ensureBasicMaps(opts.Cores); err != nil {
		return nil, err
	}

	conditions := kinetic.Conditions(m.data.LD(), m.data.PLD(), nil, m.data.DW())
	constants := m.constants
	build := func(fixed []float64) *kinetic.Model {
		return kinetic.NewMultiDW(conditions, fixed[0], fixed[1], constants)
	}

	engine, err := fitting.NewVoxelwiseEngine(build,
		[]*asldata.Volume{m.cbf, m.att},
		m.data.Series(), m.data.M0(), m.mask)
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
	m.stats = stats

	kw := asldata.NewVolumeLike(m.data.M0())
	a1, a2 := maps["A1"], maps["A2"]
	for i := range kw.Data {
		kw.Data[i] = kinetic.WaterExchangeRate(a1.Data[i], a2.Data[i], m.att.Data[i])
	}

	for _, name := range []string{"A1", "D1", "A2", "D2"} {
		if maps[name], err = maybeSmooth(maps[name], opts.SmoothSigma); err != nil {
			return nil, err
		}
	}
	if kw, err = maybeSmooth(kw, opts.SmoothSigma); err != nil {
		return nil, err
	}

	return map[string]*asldata.Volume{
		"cbf":      m.cbf,
		"cbf_norm": normalizedCBF(m.cbf),
		"att":      m.att,
		"A1":       maps["A1"],
		"D1":       maps["D1"],
		"A2":       maps["A2"],
		"D2":       maps["D2"],
		"kw":       kw,
	}, nil
}

// Stats returns the diagnostics of the most recent diffusion-stage fit, or
// nil when no fit has run yet.
func (m *MultiDW) Stats() *fitting.Stats { return m.stats }
