package imageio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"aslkit/pkg/asldata"
)

// NIfTI-1 constants for the single-file layout: a 348-byte header, a
// 4-byte extension flag, then the voxel payload at offset 352.
const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
	dtFloat32       = 16
	bitpixFloat32   = 32
	xyztUnitsMM     = 2
)

// nifti1Header mirrors the on-disk NIfTI-1 header layout, field for field.
// Reserved fields keep their historical names so the binary size works out
// to exactly 348 bytes under encoding/binary.
type nifti1Header struct {
	SizeofHdr      int32
	DataTypeUnused [10]byte
	DbNameUnused   [18]byte
	ExtentsUnused  int32
	SessionUnused  int16
	RegularUnused  byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XyztUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	GlmaxUnused    int32
	GlminUnused    int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// buildHeader fills a single-file NIfTI-1 header for the given volumes.
// All volumes share one spatial grid; points > 1 adds a fourth dimension.
func buildHeader(ref *asldata.Volume, points int) nifti1Header {
	h := nifti1Header{
		SizeofHdr: niftiHeaderSize,
		Datatype:  dtFloat32,
		Bitpix:    bitpixFloat32,
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XyztUnits: xyztUnitsMM,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	if points > 1 {
		h.Dim = [8]int16{4, int16(ref.Width), int16(ref.Height), int16(ref.Depth), int16(points), 1, 1, 1}
	} else {
		h.Dim = [8]int16{3, int16(ref.Width), int16(ref.Height), int16(ref.Depth), 1, 1, 1, 1}
	}
	h.Pixdim = [8]float32{1,
		float32(ref.VoxelSize.X), float32(ref.VoxelSize.Y), float32(ref.VoxelSize.Z),
		1, 1, 1, 1}
	// Identity orientation; fitted maps stay in the acquisition frame.
	h.SrowX = [4]float32{float32(ref.VoxelSize.X), 0, 0, 0}
	h.SrowY = [4]float32{0, float32(ref.VoxelSize.Y), 0, 0}
	h.SrowZ = [4]float32{0, 0, float32(ref.VoxelSize.Z), 0}
	copy(h.Descrip[:], "aslkit parameter map")
	return h
}

// SaveVolume writes one volume to a NIfTI-1 file. A path ending in .gz is
// gzip-compressed on the way out.
func SaveVolume(path string, vol *asldata.Volume) error {
	return SaveSeries(path, []*asldata.Volume{vol})
}

// SaveSeries writes a stack of same-shaped volumes to a single NIfTI-1
// file, one time point per volume. Voxel values are stored as float32 in
// little-endian order.
func SaveSeries(path string, vols []*asldata.Volume) error {
	if len(vols) == 0 {
		return errors.New("no volumes to save")
	}
	ref := vols[0]
	for i, vol := range vols {
		if !vol.SameShape(ref) {
			return errors.Errorf("volume %d is %dx%dx%d, volume 0 is %dx%dx%d",
				i, vol.Width, vol.Height, vol.Depth, ref.Width, ref.Height, ref.Depth)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	var w io.Writer = bufio.NewWriterSize(f, 1<<20)
	flush := w.(*bufio.Writer).Flush
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(w)
		inner := flush
		w = gz
		flush = func() error {
			if err := gz.Close(); err != nil {
				return err
			}
			return inner()
		}
	}

	header := buildHeader(ref, len(vols))
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return errors.Wrapf(err, "writing header to %s", path)
	}
	// Extension flag: four zero bytes meaning "no extensions".
	if err := binary.Write(w, binary.LittleEndian, [4]byte{}); err != nil {
		return errors.Wrapf(err, "writing extension flag to %s", path)
	}

	buf := make([]float32, ref.NumVoxels())
	for _, vol := range vols {
		for i, v := range vol.Data {
			buf[i] = float32(v)
		}
		if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
			return errors.Wrapf(err, "writing voxel data to %s", path)
		}
	}
	return flush()
}
