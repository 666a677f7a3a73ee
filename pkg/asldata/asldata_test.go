package asldata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampVolume(w, h, d int, offset float64) *Volume {
	v := NewVolume(w, h, d)
	for i := range v.Data {
		v.Data[i] = offset + float64(i)
	}
	return v
}

func testTiming() TimingParameters {
	return TimingParameters{
		LD:  []float64{1800, 1800, 1800},
		PLD: []float64{800, 1800, 2800},
	}
}

func TestNewValidContainer(t *testing.T) {
	series := []*Volume{
		rampVolume(4, 3, 2, 0),
		rampVolume(4, 3, 2, 10),
		rampVolume(4, 3, 2, 20),
	}
	m0 := rampVolume(4, 3, 2, 100)

	data, err := New(series, m0, testTiming())
	require.NoError(t, err)
	assert.Equal(t, series, data.Series())
	assert.Equal(t, m0, data.M0())
	assert.Equal(t, []float64{800, 1800, 2800}, data.PLD())
}

func TestNewRejectsMissingM0(t *testing.T) {
	_, err := New([]*Volume{rampVolume(2, 2, 2, 0)}, nil, testTiming())
	assert.ErrorIs(t, err, ErrMissingM0)
}

func TestNewRejectsVolumeCountMismatch(t *testing.T) {
	// Two volumes against three declared LD/PLD pairs must fail, never
	// truncate or pad.
	series := []*Volume{rampVolume(2, 2, 2, 0), rampVolume(2, 2, 2, 0)}
	_, err := New(series, rampVolume(2, 2, 2, 0), testTiming())
	assert.ErrorIs(t, err, ErrVolumeCount)
}

func TestNewRejectsShapeMismatch(t *testing.T) {
	series := []*Volume{
		rampVolume(2, 2, 2, 0),
		rampVolume(2, 2, 2, 0),
		rampVolume(3, 2, 2, 0),
	}
	_, err := New(series, rampVolume(2, 2, 2, 0), testTiming())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewRejectsMissingTiming(t *testing.T) {
	series := []*Volume{rampVolume(2, 2, 2, 0)}
	_, err := New(series, rampVolume(2, 2, 2, 0), TimingParameters{})
	assert.ErrorIs(t, err, ErrMissingLDPLD)
}

func TestTimingValidation(t *testing.T) {
	cases := []struct {
		name   string
		timing TimingParameters
	}{
		{"unequal LD/PLD", TimingParameters{LD: []float64{100}, PLD: []float64{100, 200}}},
		{"zero LD", TimingParameters{LD: []float64{0}, PLD: []float64{100}}},
		{"negative PLD", TimingParameters{LD: []float64{100}, PLD: []float64{-1}}},
		{"negative TE", TimingParameters{LD: []float64{100}, PLD: []float64{100}, TE: []float64{-5}}},
		{"negative DW", TimingParameters{LD: []float64{100}, PLD: []float64{100}, DW: []float64{-5}}},
		{"TE and DW combined", TimingParameters{
			LD: []float64{100}, PLD: []float64{100},
			TE: []float64{10}, DW: []float64{50},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.timing.validate())
		})
	}

	// b=0 is a legal unweighted diffusion condition.
	ok := TimingParameters{LD: []float64{100}, PLD: []float64{100}, DW: []float64{0, 50}}
	assert.NoError(t, ok.validate())
}

func TestVolumeAtPairMajorOrder(t *testing.T) {
	timing := TimingParameters{
		LD:  []float64{1800, 1800},
		PLD: []float64{800, 1800},
		TE:  []float64{13.2, 25.7, 50.4},
	}
	series := make([]*Volume, timing.NumConditions())
	for i := range series {
		series[i] = rampVolume(2, 2, 1, float64(i*100))
	}
	data, err := New(series, rampVolume(2, 2, 1, 0), timing)
	require.NoError(t, err)

	// Volume index = pairIdx*ExtraFactor + extraIdx.
	assert.Same(t, series[0], data.VolumeAt(0, 0))
	assert.Same(t, series[2], data.VolumeAt(0, 2))
	assert.Same(t, series[3], data.VolumeAt(1, 0))
	assert.Same(t, series[5], data.VolumeAt(1, 2))
}

func TestSignalAtGathersConditionOrder(t *testing.T) {
	series := []*Volume{
		rampVolume(2, 2, 2, 0),
		rampVolume(2, 2, 2, 100),
		rampVolume(2, 2, 2, 200),
	}
	data, err := New(series, rampVolume(2, 2, 2, 0), testTiming())
	require.NoError(t, err)

	signal := data.SignalAt(1, 0, 1, make([]float64, 0, 3))
	idx := series[0].Index(1, 0, 1)
	assert.Equal(t, []float64{
		series[0].Data[idx], series[1].Data[idx], series[2].Data[idx],
	}, signal)
}

func TestCollectVolumesAndRestack(t *testing.T) {
	// A 4D block of 3 volumes of shape 2x3x2 (Z, Y, X trailing).
	shape := []int{3, 2, 3, 2}
	flat := make([]float64, 3*2*3*2)
	for i := range flat {
		flat[i] = float64(i)
	}

	vols, origShape, err := CollectVolumes(flat, shape)
	require.NoError(t, err)
	require.Len(t, vols, 3)
	assert.Equal(t, shape, origShape)
	assert.Equal(t, 2, vols[0].Width)
	assert.Equal(t, 3, vols[0].Height)
	assert.Equal(t, 2, vols[0].Depth)

	// First value of the second volume sits one volume length in.
	assert.Equal(t, float64(2*3*2), vols[1].Data[0])

	back, err := Restack(vols, shape)
	require.NoError(t, err)
	assert.Equal(t, flat, back)
}

func TestCollectVolumesRejectsBadShape(t *testing.T) {
	_, _, err := CollectVolumes(make([]float64, 8), []int{2, 2})
	assert.Error(t, err)

	// Length not matching the shape product.
	_, _, err = CollectVolumes(make([]float64, 7), []int{2, 2, 2})
	assert.Error(t, err)
}

func TestBinarizeMask(t *testing.T) {
	ref := rampVolume(2, 2, 2, 0)
	mask := NewVolume(2, 2, 2)
	mask.Data = []float64{0, 2, 2, 0, 0, 2, 0, 0}

	bin, err := BinarizeMask(mask, ref, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0, 0, 1, 0, 0}, bin.Data)
}

func TestBinarizeMaskRejectsMissingLabel(t *testing.T) {
	ref := rampVolume(2, 2, 2, 0)
	mask := NewVolume(2, 2, 2)
	mask.Fill(1)

	_, err := BinarizeMask(mask, ref, 3)
	assert.ErrorIs(t, err, ErrLabelNotFound)
}

func TestBinarizeMaskRejectsShapeMismatch(t *testing.T) {
	ref := rampVolume(2, 2, 2, 0)
	mask := NewVolume(3, 2, 2)
	mask.Fill(1)

	_, err := BinarizeMask(mask, ref, 1)
	assert.ErrorIs(t, err, ErrMaskShape)
}

func TestFullMaskCoversEveryVoxel(t *testing.T) {
	mask := FullMask(rampVolume(2, 3, 4, 0))
	for _, v := range mask.Data {
		assert.Equal(t, 1.0, v)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	timing := TimingParameters{
		LD:  []float64{1800, 1800},
		PLD: []float64{800, 1800},
		TE:  []float64{13.2, 25.7},
	}
	series := make([]*Volume, timing.NumConditions())
	for i := range series {
		series[i] = rampVolume(3, 2, 2, float64(i)*7.5)
	}
	m0 := rampVolume(3, 2, 2, 1000)
	m0.VoxelSize.X, m0.VoxelSize.Y, m0.VoxelSize.Z = 3.0, 3.0, 5.0

	data, err := New(series, m0, timing)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dataset.aslk")
	require.NoError(t, Save(data, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, timing, loaded.Timing())
	assert.Equal(t, m0.Data, loaded.M0().Data)
	assert.Equal(t, m0.VoxelSize, loaded.M0().VoxelSize)
	require.Len(t, loaded.Series(), len(series))
	for i := range series {
		assert.Equal(t, series[i].Data, loaded.Series()[i].Data)
	}
}

func TestLoadRejectsCorruptMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.aslk")
	require.NoError(t, os.WriteFile(path, []byte("not a dataset"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
