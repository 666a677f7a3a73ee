package reconstruction

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"aslkit/pkg/asldata"
	"aslkit/pkg/fitting"
	"aslkit/pkg/kinetic"
)

// t1blgmOutlierFactor bounds the accepted exchange-time fits relative to the
// initial guess; values above factor*guess are non-physical and zeroed.
const t1blgmOutlierFactor = 4.0

// MultiTE fits the multi-echo exchange model and produces the T1blGM map,
// the blood to grey matter exchange time. The model holds CBF and ATT fixed
// per voxel, so the fit runs in two stages: a single-compartment pass
// producing CBF/ATT, then the exchange pass over the full TE-resolved
// series. Pre-computed CBF/ATT maps supplied through SetCBFMap/SetATTMap
// skip the first stage entirely and are used unchanged.
type MultiTE struct {
	data      *asldata.ASLData
	constants kinetic.Constants
	mask      *asldata.Volume

	cbf *asldata.Volume
	att *asldata.Volume

	t1blgm *asldata.Volume
	stats  *fitting.Stats
}

// NewMultiTE creates the orchestrator. The container must carry TE values
// alongside its LD/PLD pairs.
func NewMultiTE(data *asldata.ASLData) (*MultiTE, error) {
	if data == nil {
		return nil, errors.New("ASL data container must be set")
	}
	if len(data.TE()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingTE, "multi-TE mapping")
	}
	if len(data.LD()) == 0 || len(data.PLD()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingLDPLD, "multi-TE mapping")
	}
	return &MultiTE{
		data:      data,
		constants: kinetic.DefaultConstants(),
		cbf:       asldata.NewVolumeLike(data.M0()),
		att:       asldata.NewVolumeLike(data.M0()),
	}, nil
}

// SetConstants overrides the physical model constants for subsequent fits.
func (m *MultiTE) SetConstants(constants kinetic.Constants) {
	m.constants = constants
}

// SetBrainMask binarizes mask against label and restricts fitting to the
// selected voxels.
func (m *MultiTE) SetBrainMask(mask *asldata.Volume, label float64) error {
	bin, err := asldata.BinarizeMask(mask, m.data.M0(), label)
	if err != nil {
		return err
	}
	m.mask = bin
	return nil
}

// SetCBFMap attaches a previously computed CBF map, bypassing the internal
// first-stage fit. The map must be in raw model units, not the normalized
// mL/100g/min form.
func (m *MultiTE) SetCBFMap(cbf *asldata.Volume) error {
	if cbf == nil || !cbf.SameShape(m.data.M0()) {
		return errors.Wrap(asldata.ErrShapeMismatch, "CBF map")
	}
	m.cbf = cbf
	return nil
}

// SetATTMap attaches a previously computed ATT map, bypassing the internal
// first-stage fit.
func (m *MultiTE) SetATTMap(att *asldata.Volume) error {
	if att == nil || !att.SameShape(m.data.M0()) {
		return errors.Wrap(asldata.ErrShapeMismatch, "ATT map")
	}
	m.att = att
	return nil
}

// CBFMap returns the CBF map the exchange fit will hold fixed, whether
// supplied or internally computed.
func (m *MultiTE) CBFMap() *asldata.Volume { return m.cbf }

// ATTMap returns the ATT map the exchange fit will hold fixed.
func (m *MultiTE) ATTMap() *asldata.Volume { return m.att }

// ensureBasicMaps runs the single-compartment stage when the attached
// CBF/ATT maps are empty. An all-zero map is treated as absent.
func (m *MultiTE) ensureBasicMaps(cores int) error {
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

// CreateMap runs the two-stage fit and returns the "cbf", "cbf_norm", "att"
// and "t1blgm" maps. Stage two starts only after stage one's maps are fully
// assembled; the exchange fit never observes a partial CBF/ATT map.
func (m *MultiTE) CreateMap(opts CreateOpts) (map[string]*asldata.Volume, error) {
	if err := m.ensureBasicMaps(opts.Cores); err != nil {
		return nil, err
	}

	conditions := kinetic.Conditions(m.data.LD(), m.data.PLD(), m.data.TE(), nil)
	constants := m.constants
	build := func(fixed []float64) *kinetic.Model {
		return kinetic.NewMultiTE(conditions, fixed[0], fixed[1], constants)
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

	guess := opts.InitialGuess
	if guess == nil {
		guess = build(make([]float64, 2)).DefaultGuess
	}
	m.t1blgm = maps["t1blgm"]
	clampToRange(m.t1blgm, 0, t1blgmOutlierFactor*guess[0])
	if m.t1blgm, err = maybeSmooth(m.t1blgm, opts.SmoothSigma); err != nil {
		return nil, err
	}
	m.stats = stats

	return map[string]*asldata.Volume{
		"cbf":      m.cbf,
		"cbf_norm": normalizedCBF(m.cbf),
		"att":      m.att,
		"t1blgm":   m.t1blgm,
	}, nil
}

// Stats returns the diagnostics of the most recent exchange-stage fit, or
// nil when no fit has run yet.
func (m *MultiTE) Stats() *fitting.Stats { return m.stats }
