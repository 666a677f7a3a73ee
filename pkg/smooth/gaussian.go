// Package smooth provides spatial filtering for parameter maps. Voxel-wise
// fits are independent by construction, so the resulting maps carry no
// spatial regularization; a light Gaussian smoothing pass trades resolution
// for SNR as a post-process.
package smooth

import (
	"math"

	"github.com/pkg/errors"

	"aslkit/pkg/asldata"
)

// kernelTruncate is the kernel half-width in units of sigma.
const kernelTruncate = 4.0

// Gaussian applies an isotropic or anisotropic Gaussian filter to a volume
// and returns a new volume; the input is never modified. Sigma is given in
// voxels per axis (X, Y, Z); a zero sigma skips that axis entirely. The
// filter is separable, so the three axes are convolved independently.
func Gaussian(v *asldata.Volume, sigma [3]float64) (*asldata.Volume, error) {
	for _, s := range sigma {
		if s < 0 || math.IsNaN(s) {
			return nil, errors.Errorf("sigma must be non-negative, got %v", sigma)
		}
	}
	out := v.Clone()
	tmp := asldata.NewVolumeLike(v)

	if k := kernel(sigma[0]); k != nil {
		convolveAxis(out, tmp, k, v.Width, strideX(v), linesX(v))
		out, tmp = tmp, out
	}
	if k := kernel(sigma[1]); k != nil {
		convolveAxis(out, tmp, k, v.Height, strideY(v), linesY(v))
		out, tmp = tmp, out
	}
	if k := kernel(sigma[2]); k != nil {
		convolveAxis(out, tmp, k, v.Depth, strideZ(v), linesZ(v))
		out, tmp = tmp, out
	}
	return out, nil
}

// kernel builds the normalized 1D Gaussian taps for one axis, or nil when
// the axis needs no filtering.
func kernel(sigma float64) []float64 {
	if sigma == 0 {
		return nil
	}
	radius := int(math.Ceil(kernelTruncate * sigma))
	if radius < 1 {
		radius = 1
	}
	taps := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range taps {
		d := float64(i - radius)
		taps[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// Each axis is described by the stride between consecutive elements along
// the axis and the starting offsets of its scan lines, both for the flat
// X-fastest layout.

func strideX(v *asldata.Volume) int { return 1 }
func strideY(v *asldata.Volume) int { return v.Width }
func strideZ(v *asldata.Volume) int { return v.Width * v.Height }

func linesX(v *asldata.Volume) []int {
	offsets := make([]int, 0, v.Height*v.Depth)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			offsets = append(offsets, (z*v.Height+y)*v.Width)
		}
	}
	return offsets
}

func linesY(v *asldata.Volume) []int {
	offsets := make([]int, 0, v.Width*v.Depth)
	for z := 0; z < v.Depth; z++ {
		for x := 0; x < v.Width; x++ {
			offsets = append(offsets, z*v.Height*v.Width+x)
		}
	}
	return offsets
}

func linesZ(v *asldata.Volume) []int {
	offsets := make([]int, 0, v.Width*v.Height)
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			offsets = append(offsets, y*v.Width+x)
		}
	}
	return offsets
}

// convolveAxis filters every scan line of one axis from src into dst.
// Borders are handled by edge clamping, which keeps flat regions flat.
func convolveAxis(src, dst *asldata.Volume, taps []float64, length, stride int, offsets []int) {
	radius := len(taps) / 2
	for _, base := range offsets {
		for i := 0; i < length; i++ {
			acc := 0.0
			for t, w := range taps {
				j := i + t - radius
				if j < 0 {
					j = 0
				} else if j >= length {
					j = length - 1
				}
				acc += w * src.Data[base+j*stride]
			}
			dst.Data[base+i*stride] = acc
		}
	}
}
