// Package imageio bridges volumetric medical-image files and the in-memory
// volume representation. It reads NIfTI-1 images (compressed or not),
// writes fitted parameter maps back out, and resolves images inside a
// BIDS-organized dataset tree.
package imageio

import (
	"github.com/henghuang/nifti"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"aslkit/pkg/asldata"
)

// loadNifti wraps the nifti library's loader, which panics on malformed
// input; the panic is captured and surfaced as a regular error.
func loadNifti(path string) (img nifti.Nifti1Image, hdr nifti.Nifti1Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("reading %s: %v", path, r)
		}
	}()
	img.LoadImage(path, true)
	hdr.LoadHeader(path)
	return img, hdr, nil
}

// LoadVolume reads a single 3D volume from a NIfTI-1 file. Files with a
// time dimension are rejected; use LoadSeries for 4D acquisitions.
func LoadVolume(path string) (*asldata.Volume, error) {
	vols, err := LoadSeries(path)
	if err != nil {
		return nil, err
	}
	if len(vols) != 1 {
		return nil, errors.Errorf("%s holds %d volumes, expected a single 3D image", path, len(vols))
	}
	return vols[0], nil
}

// LoadSeries reads a NIfTI-1 file and returns its volumes in acquisition
// order, one per time point. A plain 3D image yields a single volume.
// Voxel spacing is taken from the header grid and carried on every volume.
func LoadSeries(path string) ([]*asldata.Volume, error) {
	img, hdr, err := loadNifti(path)
	if err != nil {
		return nil, err
	}

	dims := img.GetDims()
	width, height, depth, points := dims[0], dims[1], dims[2], dims[3]
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, errors.Errorf("%s has degenerate dimensions %v", path, dims)
	}
	if points <= 0 {
		points = 1
	}

	log.WithFields(log.Fields{
		"path":   path,
		"shape":  [3]int{width, height, depth},
		"points": points,
	}).Debug("loaded NIfTI image")

	vols := make([]*asldata.Volume, points)
	for t := 0; t < points; t++ {
		vol := asldata.NewVolume(width, height, depth)
		vol.VoxelSize.X = float64(hdr.Pixdim[1])
		vol.VoxelSize.Y = float64(hdr.Pixdim[2])
		vol.VoxelSize.Z = float64(hdr.Pixdim[3])
		for z := 0; z < depth; z++ {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					vol.Set(x, y, z, float64(img.GetAt(x, y, z, t)))
				}
			}
		}
		vols[t] = vol
	}
	return vols, nil
}
