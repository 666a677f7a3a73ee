// Package reconstruction provides the quantitative ASL reconstruction
// orchestrators. Each orchestrator pairs an acquisition container with the
// right kinetic model and drives the per-voxel fitting engine, exposing the
// resulting named parameter maps.
//
// The orchestrators share a simple lifecycle:
//  1. Created: holds the data container and the default model constants.
//  2. Configured: a brain mask and, for the composite variants, previously
//     computed CBF/ATT maps optionally attached.
//  3. Mapped: CreateMap has been invoked and the results cached on the
//     instance. Calling CreateMap again re-runs the fit from scratch; no
//     result is ever reused implicitly across calls.
package reconstruction

import (
	"math"

	"aslkit/pkg/asldata"
	"aslkit/pkg/kinetic"
	"aslkit/pkg/smooth"
)

// cbfNormScale converts the raw fitted CBF value (model units, per ms) into
// the conventional physiological unit of mL/100g/min.
const cbfNormScale = 60 * 60 * 1000

// CreateOpts carries the optional fitting configuration accepted by every
// orchestrator's CreateMap. Nil bound/guess slices select the model
// defaults; a length mismatch against the model's parameter count is a
// fatal configuration error.
type CreateOpts struct {
	LowerBounds  []float64
	UpperBounds  []float64
	InitialGuess []float64

	// Cores is the parallelism degree: 0 selects the automatic setting
	// (all logical cores minus a small reserve), 1 forces sequential
	// execution, negative values are rejected.
	Cores int

	// SmoothSigma, when non-zero, applies a Gaussian filter with the given
	// per-axis sigma (in voxels) to the maps fitted by this call. Maps held
	// fixed from a previous stage are returned unfiltered.
	SmoothSigma [3]float64
}

// Mapper is the capability set every reconstruction orchestrator implements.
// Model polymorphism lives behind this interface: callers configure a mask,
// run CreateMap, and receive a name-to-volume mapping whose key set depends
// on the variant.
type Mapper interface {
	// SetBrainMask restricts fitting to the voxels of mask equal to label.
	// The mask must match the reference image shape.
	SetBrainMask(mask *asldata.Volume, label float64) error

	// CreateMap runs the fit and returns the named parameter maps. Maps
	// fitted by the call are freshly allocated and zero outside the mask;
	// composite variants hand back maps attached for an earlier stage
	// unchanged.
	CreateMap(opts CreateOpts) (map[string]*asldata.Volume, error)
}

// meanValue is the emptiness test used to decide whether a pre-supplied map
// was actually populated: an all-zero map has mean zero and triggers the
// internal first-stage fit.
func meanValue(v *asldata.Volume) float64 {
	if v == nil || len(v.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v.Data {
		sum += x
	}
	return sum / float64(len(v.Data))
}

// maskedMean averages a map over the voxels selected by a binary mask. A nil
// mask selects the whole volume.
func maskedMean(v, mask *asldata.Volume) float64 {
	if mask == nil {
		return meanValue(v)
	}
	sum, count := 0.0, 0
	for i, x := range v.Data {
		if mask.Data[i] == 0 {
			continue
		}
		sum += x
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// clampToRange zeroes every voxel outside [lower, upper] in place. The
// composite fits use it to strip non-physical outliers from an exchange-time
// map before returning it.
func clampToRange(v *asldata.Volume, lower, upper float64) {
	for i, x := range v.Data {
		if x < lower || x > upper || math.IsNaN(x) {
			v.Data[i] = 0
		}
	}
}

// normalizedCBF derives the physiological-unit CBF map from the raw fitted
// map. The scaling is a fixed linear post-process, applied uniformly, and
// never part of the solver itself.
func normalizedCBF(cbf *asldata.Volume) *asldata.Volume {
	norm := asldata.NewVolumeLike(cbf)
	for i, x := range cbf.Data {
		norm.Data[i] = x * cbfNormScale
	}
	return norm
}

// maybeSmooth applies the optional Gaussian post-filter from opts to a
// fitted map, in place of the original. A zero sigma is a no-op.
func maybeSmooth(v *asldata.Volume, sigma [3]float64) (*asldata.Volume, error) {
	if sigma == [3]float64{} {
		return v, nil
	}
	return smooth.Gaussian(v, sigma)
}

// pairConditions expands the container's LD/PLD sequences into the flat
// condition list for single-compartment fitting, ignoring any TE or DW
// dimension the acquisition may carry.
func pairConditions(data *asldata.ASLData) []kinetic.Condition {
	ld, pld := data.LD(), data.PLD()
	out := make([]kinetic.Condition, len(ld))
	for i := range ld {
		out[i] = kinetic.Condition{LD: ld[i], PLD: pld[i]}
	}
	return out
}
