package asldata

import (
	"github.com/pkg/errors"
)

// CollectVolumes splits a flat N-dimensional acquisition array into its
// individual 3D volumes. The last three entries of shape are the spatial
// dimensions (Z, Y, X, matching the on-disk NIfTI ordering); any leading
// dimensions are collapsed into the volume count. The original shape is
// returned alongside so the set can be reassembled with Restack.
func CollectVolumes(data []float64, shape []int) ([]*Volume, []int, error) {
	if len(shape) < 3 {
		return nil, nil, errors.New("acquisition array must have at least 3 dimensions")
	}
	total := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, nil, errors.Errorf("invalid dimension %d in shape %v", d, shape)
		}
		total *= d
	}
	if total != len(data) {
		return nil, nil, errors.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	depth := shape[len(shape)-3]
	height := shape[len(shape)-2]
	width := shape[len(shape)-1]
	volSize := width * height * depth
	numVolumes := total / volSize

	volumes := make([]*Volume, 0, numVolumes)
	for i := 0; i < numVolumes; i++ {
		vol := NewVolume(width, height, depth)
		copy(vol.Data, data[i*volSize:(i+1)*volSize])
		volumes = append(volumes, vol)
	}
	return volumes, shape, nil
}

// Restack reassembles volumes produced by CollectVolumes into a single flat
// array with the original shape.
func Restack(volumes []*Volume, shape []int) ([]float64, error) {
	if len(volumes) == 0 {
		return nil, errors.New("no volumes to restack")
	}
	volSize := volumes[0].NumVoxels()
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != volSize*len(volumes) {
		return nil, errors.Errorf("shape %v does not hold %d volumes of %d voxels",
			shape, len(volumes), volSize)
	}

	data := make([]float64, 0, total)
	for i, vol := range volumes {
		if vol.NumVoxels() != volSize {
			return nil, errors.Errorf("volume %d has %d voxels, expected %d",
				i, vol.NumVoxels(), volSize)
		}
		data = append(data, vol.Data...)
	}
	return data, nil
}
