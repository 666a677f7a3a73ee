package reconstruction

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"aslkit/pkg/asldata"
	"aslkit/pkg/fitting"
	"aslkit/pkg/kinetic"
)

// T2Scalar estimates a T2 relaxation map per LD/PLD pair by fitting a
// mono-exponential decay across the echo-time dimension of a multi-TE
// acquisition. Unlike the kinetic orchestrators it fits no perfusion
// parameters; each pair yields an independent T2 map plus its mean value.
type T2Scalar struct {
	data *asldata.ASLData
	mask *asldata.Volume

	t2Maps  []*asldata.Volume
	meanT2s []float64
}

// NewT2Scalar creates the orchestrator. The container must carry an echo
// time dimension.
func NewT2Scalar(data *asldata.ASLData) (*T2Scalar, error) {
	if data == nil {
		return nil, errors.New("ASL data container must be set")
	}
	if len(data.TE()) == 0 {
		return nil, errors.Wrap(asldata.ErrMissingTE, "T2 mapping")
	}
	return &T2Scalar{data: data}, nil
}

// SetBrainMask binarizes mask against label and restricts fitting to the
// selected voxels.
func (t *T2Scalar) SetBrainMask(mask *asldata.Volume, label float64) error {
	bin, err := asldata.BinarizeMask(mask, t.data.M0(), label)
	if err != nil {
		return err
	}
	t.mask = bin
	return nil
}

// T2Maps returns the per-pair T2 maps of the most recent CreateMap call.
func (t *T2Scalar) T2Maps() []*asldata.Volume { return t.t2Maps }

// MeanT2s returns the mean T2 of each per-pair map, taken over the masked
// voxels only (the whole volume when no mask is set).
func (t *T2Scalar) MeanT2s() []float64 { return t.meanT2s }

// CreateMap fits the decay model for every LD/PLD pair in turn and returns
// the stacked "t2" maps. Bounds and guess from opts apply to the [S0, T2]
// parameter pair of every fit.
func (t *T2Scalar) CreateMap(opts CreateOpts) (map[string]*asldata.Volume, error) {
	numPairs := len(t.data.LD())
	model := kinetic.NewT2Decay(t.data.TE())

	t2Maps := make([]*asldata.Volume, 0, numPairs)
	meanT2s := make([]float64, 0, numPairs)
	for pair := 0; pair < numPairs; pair++ {
		log.WithFields(log.Fields{"pair": pair, "pld": t.data.PLD()[pair]}).
			Info("fitting T2 decay")

		series := make([]*asldata.Volume, len(t.data.TE()))
		for te := range series {
			series[te] = t.data.VolumeAt(pair, te)
		}
		engine, err := fitting.NewEngine(model, series, t.data.M0(), t.mask)
		if err != nil {
			return nil, err
		}
		maps, _, err := engine.Run(fitting.Options{
			LowerBounds:  opts.LowerBounds,
			UpperBounds:  opts.UpperBounds,
			InitialGuess: opts.InitialGuess,
			Cores:        opts.Cores,
		})
		if err != nil {
			return nil, err
		}
		t2 := maps["t2"]
		if t2, err = maybeSmooth(t2, opts.SmoothSigma); err != nil {
			return nil, err
		}
		t2Maps = append(t2Maps, t2)
		meanT2s = append(meanT2s, maskedMean(t2, t.mask))
	}
	t.t2Maps = t2Maps
	t.meanT2s = meanT2s

	// The named result keys one map per pair, matching the stacked layout
	// the per-pair accessors expose.
	out := make(map[string]*asldata.Volume, numPairs)
	for pair, m := range t2Maps {
		out[t2MapKey(pair)] = m
	}
	return out, nil
}

// t2MapKey names the per-pair output maps: "t2" for the first pair,
// "t2_1", "t2_2" and so on for the rest.
func t2MapKey(pair int) string {
	if pair == 0 {
		return "t2"
	}
	return fmt.Sprintf("t2_%d", pair)
}
