package asldata

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dataset file layout: a short magic, a length-prefixed YAML metadata header
// (timing parameters, shapes, voxel sizes), then the M0 and series voxel data
// as consecutive little-endian float64 blocks in series order.
var datasetMagic = [4]byte{'A', 'S', 'L', 'K'}

type datasetHeader struct {
	Timing    TimingParameters `yaml:"timing"`
	Width     int              `yaml:"width"`
	Height    int              `yaml:"height"`
	Depth     int              `yaml:"depth"`
	Volumes   int              `yaml:"volumes"`
	VoxelSize [3]float64       `yaml:"voxelSize"`
}

// Save serializes the full container to a single file so an acquisition can
// be reloaded without re-specifying its timing metadata.
func Save(d *ASLData, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating dataset file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeDataset(w, d); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flushing dataset file")
	}
	return nil
}

func writeDataset(w io.Writer, d *ASLData) error {
	hdr := datasetHeader{
		Timing:  d.timing,
		Width:   d.m0.Width,
		Height:  d.m0.Height,
		Depth:   d.m0.Depth,
		Volumes: len(d.series),
		VoxelSize: [3]float64{
			d.m0.VoxelSize.X, d.m0.VoxelSize.Y, d.m0.VoxelSize.Z,
		},
	}
	meta, err := yaml.Marshal(&hdr)
	if err != nil {
		return errors.Wrap(err, "marshaling dataset header")
	}

	if _, err := w.Write(datasetMagic[:]); err != nil {
		return errors.Wrap(err, "writing magic")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(meta))); err != nil {
		return errors.Wrap(err, "writing header length")
	}
	if _, err := w.Write(meta); err != nil {
		return errors.Wrap(err, "writing header")
	}

	if err := binary.Write(w, binary.LittleEndian, d.m0.Data); err != nil {
		return errors.Wrap(err, "writing m0 data")
	}
	for i, vol := range d.series {
		if err := binary.Write(w, binary.LittleEndian, vol.Data); err != nil {
			return errors.Wrapf(err, "writing series volume %d", i)
		}
	}
	return nil
}

// Load reads a container previously written with Save. The decoded data goes
// through the same validation as New, so a corrupt or truncated file cannot
// produce a container that violates the model invariants.
func Load(path string) (*ASLData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening dataset file")
	}
	defer f.Close()
	return readDataset(bufio.NewReader(f))
}

func readDataset(r io.Reader) (*ASLData, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if magic != datasetMagic {
		return nil, errors.New("not an ASL dataset file")
	}

	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, errors.Wrap(err, "reading header length")
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var hdr datasetHeader
	if err := yaml.Unmarshal(meta, &hdr); err != nil {
		return nil, errors.Wrap(err, "parsing dataset header")
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || hdr.Depth <= 0 || hdr.Volumes <= 0 {
		return nil, errors.Errorf("dataset header declares invalid geometry %dx%dx%d x%d",
			hdr.Width, hdr.Height, hdr.Depth, hdr.Volumes)
	}

	readVolume := func() (*Volume, error) {
		vol := NewVolume(hdr.Width, hdr.Height, hdr.Depth)
		vol.VoxelSize.X = hdr.VoxelSize[0]
		vol.VoxelSize.Y = hdr.VoxelSize[1]
		vol.VoxelSize.Z = hdr.VoxelSize[2]
		if err := binary.Read(r, binary.LittleEndian, vol.Data); err != nil {
			return nil, err
		}
		return vol, nil
	}

	m0, err := readVolume()
	if err != nil {
		return nil, errors.Wrap(err, "reading m0 data")
	}
	series := make([]*Volume, 0, hdr.Volumes)
	for i := 0; i < hdr.Volumes; i++ {
		vol, err := readVolume()
		if err != nil {
			return nil, errors.Wrapf(err, "reading series volume %d", i)
		}
		series = append(series, vol)
	}

	return New(series, m0, hdr.Timing)
}
