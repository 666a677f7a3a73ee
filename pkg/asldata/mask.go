package asldata

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BinarizeMask converts a possibly multi-label mask into a strict 0/1 mask by
// selecting the given label value. The mask must match the reference shape
// and contain the label somewhere; both violations are configuration errors.
// A mask with more than two distinct values is accepted with a warning, the
// way a segmentation image would be.
func BinarizeMask(mask, ref *Volume, label float64) (*Volume, error) {
	if err := validateVolume(mask, "mask"); err != nil {
		return nil, err
	}
	if !mask.SameShape(ref) {
		return nil, errors.Wrapf(ErrMaskShape,
			"mask is %dx%dx%d, reference is %dx%dx%d",
			mask.Width, mask.Height, mask.Depth, ref.Width, ref.Height, ref.Depth)
	}

	distinct := map[float64]struct{}{}
	labelFound := false
	for _, v := range mask.Data {
		distinct[v] = struct{}{}
		if v == label {
			labelFound = true
		}
	}
	if !labelFound {
		return nil, ErrLabelNotFound
	}
	if len(distinct) > 2 {
		log.WithField("values", len(distinct)).
			Warn("mask image is not binary; only the selected label is used as foreground")
	}

	out := NewVolumeLike(mask)
	for i, v := range mask.Data {
		if v == label {
			out.Data[i] = 1
		}
	}
	return out, nil
}

// FullMask returns an all-ones mask with the reference shape, the default
// when the caller fits every voxel.
func FullMask(ref *Volume) *Volume {
	m := NewVolumeLike(ref)
	m.Fill(1)
	return m
}
