package asldata

import (
	"github.com/pkg/errors"
)

// Volume is a dense 3D scalar image stored as a 1D array in row-major order
// (x fastest, then y, then z), matching the slice stacking convention used
// by the NIfTI loaders.
type Volume struct {
	// Data is the voxel data as a 1D array in row-major order
	Data []float64

	// Width, Height, Depth are the spatial dimensions in voxels (X, Y, Z)
	Width, Height, Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume with the given dimensions.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1.0, 1.0, 1.0
	return v
}

// NewVolumeLike allocates a zero-filled volume with the same dimensions and
// voxel size as the reference volume.
func NewVolumeLike(ref *Volume) *Volume {
	v := NewVolume(ref.Width, ref.Height, ref.Depth)
	v.VoxelSize = ref.VoxelSize
	return v
}

// Index returns the flat array index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the value of voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the value of voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// NumVoxels returns the total voxel count.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// SameShape reports whether two volumes share the same spatial dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Clone returns a deep copy of the volume. Returned maps must never alias
// internal buffers, so every map handed to a caller goes through here.
func (v *Volume) Clone() *Volume {
	out := NewVolumeLike(v)
	copy(out.Data, v.Data)
	return out
}

// Fill sets every voxel to the given value.
func (v *Volume) Fill(value float64) {
	for i := range v.Data {
		v.Data[i] = value
	}
}

// validateVolume checks the internal consistency of a volume.
func validateVolume(v *Volume, name string) error {
	if v == nil {
		return errors.Errorf("%s volume must be set", name)
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return errors.Errorf("%s volume has invalid dimensions %dx%dx%d",
			name, v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.NumVoxels() {
		return errors.Errorf("%s volume data length %d does not match dimensions %dx%dx%d",
			name, len(v.Data), v.Width, v.Height, v.Depth)
	}
	return nil
}
