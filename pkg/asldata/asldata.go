// Package asldata provides the data containers for Arterial Spin Labeling
// acquisitions: the labeled perfusion series, the M0 reference image and the
// acquisition timing parameters that the kinetic models are fitted against.
package asldata

import (
	"github.com/pkg/errors"
)

// Sentinel errors raised by container validation. These are configuration
// errors in the sense of the fitting contract: they surface before any
// voxel work begins and are never recovered internally.
var (
	ErrMissingM0      = errors.New("ASL data is incomplete: an M0 reference image is required")
	ErrMissingSeries  = errors.New("ASL data is incomplete: a labeled perfusion series is required")
	ErrMissingTE      = errors.New("ASL data is incomplete: a list of TE values is required")
	ErrMissingDW      = errors.New("ASL data is incomplete: a list of DW b-values is required")
	ErrMissingLDPLD   = errors.New("LD or PLD list of values must be provided")
	ErrVolumeCount    = errors.New("series volume count does not match the timing parameter lengths")
	ErrShapeMismatch  = errors.New("series volume shape does not match the M0 reference image")
	ErrLabelNotFound  = errors.New("label value is not found in the mask provided")
	ErrMaskShape      = errors.New("mask dimensions do not match the reference image")
)

// TimingParameters holds the acquisition timing sequences. LD and PLD are in
// milliseconds and must be equal length and strictly positive. TE (ms) and
// DW (s/mm2 b-values) are optional and only present for the multi-echo and
// multi-diffusion protocols respectively.
type TimingParameters struct {
	LD  []float64 `yaml:"ld"`
	PLD []float64 `yaml:"pld"`
	TE  []float64 `yaml:"te,omitempty"`
	DW  []float64 `yaml:"dw,omitempty"`
}

// ExtraFactor returns the multiplicity the TE or DW sequence adds to the
// acquisition: the series must hold one volume per LD/PLD pair times this
// factor. A protocol never carries both TE and DW sequences.
func (t TimingParameters) ExtraFactor() int {
	if len(t.TE) > 0 {
		return len(t.TE)
	}
	if len(t.DW) > 0 {
		return len(t.DW)
	}
	return 1
}

// NumConditions returns the expected number of acquisition conditions, which
// equals the required series volume count.
func (t TimingParameters) NumConditions() int {
	return len(t.LD) * t.ExtraFactor()
}

func (t TimingParameters) validate() error {
	if len(t.LD) == 0 || len(t.PLD) == 0 {
		return ErrMissingLDPLD
	}
	if len(t.LD) != len(t.PLD) {
		return errors.Errorf("LD and PLD sequences must have equal length, got %d and %d",
			len(t.LD), len(t.PLD))
	}
	if err := checkPositive(t.LD, "LD"); err != nil {
		return err
	}
	if err := checkPositive(t.PLD, "PLD"); err != nil {
		return err
	}
	if len(t.TE) > 0 {
		if err := checkPositive(t.TE, "TE"); err != nil {
			return err
		}
	}
	if len(t.DW) > 0 {
		// b=0 is a valid (unweighted) diffusion condition.
		for _, v := range t.DW {
			if v < 0 {
				return errors.New("DW values must be non-negative numbers")
			}
		}
	}
	if len(t.TE) > 0 && len(t.DW) > 0 {
		return errors.New("TE and DW sequences cannot be combined in one acquisition")
	}
	return nil
}

func checkPositive(values []float64, name string) error {
	for _, v := range values {
		if v <= 0 {
			return errors.Errorf("%s values must be positive non zero numbers", name)
		}
	}
	return nil
}

// ASLData bundles a labeled perfusion acquisition with its M0 reference and
// timing parameters. The series is stored as individual 3D volumes ordered
// pair-major: volume index = pairIdx*ExtraFactor() + extraIdx, where extraIdx
// walks the TE or DW sequence when present.
type ASLData struct {
	series  []*Volume
	m0      *Volume
	timing  TimingParameters
}

// New creates a validated ASLData container. The volume count of the series
// must equal len(LD)*extra where extra is the TE or DW sequence length, and
// every series volume must share the M0 spatial shape. Violations are fatal
// configuration errors; no partially usable container is ever returned.
func New(series []*Volume, m0 *Volume, timing TimingParameters) (*ASLData, error) {
	if m0 == nil {
		return nil, ErrMissingM0
	}
	if err := validateVolume(m0, "m0"); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, ErrMissingSeries
	}
	if err := timing.validate(); err != nil {
		return nil, err
	}
	if len(series) != timing.NumConditions() {
		return nil, errors.Wrapf(ErrVolumeCount,
			"got %d volumes, timing declares %d conditions (%d LD/PLD pairs x %d)",
			len(series), timing.NumConditions(), len(timing.LD), timing.ExtraFactor())
	}
	for i, vol := range series {
		if err := validateVolume(vol, "series"); err != nil {
			return nil, errors.Wrapf(err, "series volume %d", i)
		}
		if !vol.SameShape(m0) {
			return nil, errors.Wrapf(ErrShapeMismatch,
				"series volume %d is %dx%dx%d, m0 is %dx%dx%d",
				i, vol.Width, vol.Height, vol.Depth, m0.Width, m0.Height, m0.Depth)
		}
	}
	return &ASLData{series: series, m0: m0, timing: timing}, nil
}

// Series returns the ordered acquisition volumes.
func (d *ASLData) Series() []*Volume { return d.series }

// M0 returns the reference image.
func (d *ASLData) M0() *Volume { return d.m0 }

// Timing returns the acquisition timing parameters.
func (d *ASLData) Timing() TimingParameters { return d.timing }

// LD returns the labeling duration sequence in ms.
func (d *ASLData) LD() []float64 { return d.timing.LD }

// PLD returns the post-labeling delay sequence in ms.
func (d *ASLData) PLD() []float64 { return d.timing.PLD }

// TE returns the echo time sequence in ms, or nil.
func (d *ASLData) TE() []float64 { return d.timing.TE }

// DW returns the diffusion b-value sequence, or nil.
func (d *ASLData) DW() []float64 { return d.timing.DW }

// VolumeAt returns the series volume for a given LD/PLD pair index and
// extra (TE or DW) index.
func (d *ASLData) VolumeAt(pairIdx, extraIdx int) *Volume {
	return d.series[pairIdx*d.timing.ExtraFactor()+extraIdx]
}

// SignalAt gathers the observed signal across all acquisition conditions for
// a single voxel, in condition order. The out slice must have NumConditions
// capacity; it is returned for convenience.
func (d *ASLData) SignalAt(x, y, z int, out []float64) []float64 {
	out = out[:0]
	for _, vol := range d.series {
		out = append(out, vol.At(x, y, z))
	}
	return out
}
