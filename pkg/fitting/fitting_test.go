package fitting

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aslkit/pkg/asldata"
	"aslkit/pkg/kinetic"
)

func buxtonTestModel() *kinetic.Model {
	conditions := []kinetic.Condition{
		{LD: 1800, PLD: 800},
		{LD: 1800, PLD: 1800},
		{LD: 1800, PLD: 2800},
	}
	return kinetic.NewBuxton(conditions, kinetic.DefaultConstants())
}

// syntheticData builds a noise-free acquisition whose every voxel follows
// the Buxton model at the given parameters, with a non-trivial M0.
func syntheticData(model *kinetic.Model, cbf, att float64) (series []*asldata.Volume, ref *asldata.Volume) {
	const m0Value = 1000.0

	ref = asldata.NewVolume(2, 2, 2)
	ref.Fill(m0Value)

	signal := make([]float64, model.NumConditions())
	model.Eval([]float64{cbf, att}, signal)

	series = make([]*asldata.Volume, model.NumConditions())
	for c := range series {
		vol := asldata.NewVolume(2, 2, 2)
		vol.Fill(m0Value * signal[c])
		series[c] = vol
	}
	return series, ref
}

func TestSolverRecoversExponentialDecay(t *testing.T) {
	model := kinetic.NewT2Decay([]float64{10, 20, 40, 80})
	slv := newSolver(model, model.DefaultLower, model.DefaultUpper)

	y := kinetic.T2Decay([]float64{10, 20, 40, 80}, 2.0, 80)
	params, err := slv.fit(y, model.DefaultGuess)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.0, params[0], 0.1)
	assert.InEpsilon(t, 80.0, params[1], 0.1)
}

func TestSolverRecoversBuxtonParameters(t *testing.T) {
	model := buxtonTestModel()
	slv := newSolver(model, model.DefaultLower, model.DefaultUpper)

	y := make([]float64, model.NumConditions())
	model.Eval([]float64{0.01, 1200}, y)

	params, err := slv.fit(y, model.DefaultGuess)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.01, params[0], 0.2)
	assert.InEpsilon(t, 1200.0, params[1], 0.2)
}

func TestSolverResultStaysInsideBounds(t *testing.T) {
	model := buxtonTestModel()
	slv := newSolver(model, model.DefaultLower, model.DefaultUpper)

	// A curve no bounded parameter set reproduces: huge negative values.
	y := []float64{-10, -10, -10}
	params, err := slv.fit(y, model.DefaultGuess)
	if err != nil {
		return // non-convergence is an accepted outcome here
	}
	for i := range params {
		assert.GreaterOrEqual(t, params[i], model.DefaultLower[i])
		assert.LessOrEqual(t, params[i], model.DefaultUpper[i])
	}
}

func TestSolverRejectsSignalLengthMismatch(t *testing.T) {
	model := buxtonTestModel()
	slv := newSolver(model, model.DefaultLower, model.DefaultUpper)

	_, err := slv.fit([]float64{1, 2}, model.DefaultGuess)
	assert.Error(t, err)
}

func TestEngineRecoversParametersInsideMask(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)

	engine, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)

	maps, stats, err := engine.Run(Options{Cores: 1})
	require.NoError(t, err)
	require.Contains(t, maps, "cbf")
	require.Contains(t, maps, "att")

	assert.Equal(t, ref.NumVoxels(), stats.Fitted)
	assert.Zero(t, stats.Failed)
	for i := range maps["cbf"].Data {
		assert.InEpsilon(t, 0.01, maps["cbf"].Data[i], 0.2)
		assert.InEpsilon(t, 1200.0, maps["att"].Data[i], 0.2)
		assert.Equal(t, 1.0, stats.Valid.Data[i])
	}
}

func TestEngineZeroOutsideMask(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)

	mask := asldata.NewVolumeLike(ref)
	mask.Set(0, 0, 0, 1)
	mask.Set(1, 1, 1, 1)

	engine, err := NewEngine(model, series, ref, mask)
	require.NoError(t, err)
	maps, stats, err := engine.Run(Options{Cores: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fitted)
	assert.Equal(t, ref.NumVoxels()-2, stats.Skipped)
	for i, m := range mask.Data {
		if m == 0 {
			assert.Zerof(t, maps["cbf"].Data[i], "voxel %d outside mask", i)
			assert.Zerof(t, maps["att"].Data[i], "voxel %d outside mask", i)
			assert.Zerof(t, stats.Valid.Data[i], "voxel %d outside mask", i)
		}
	}
}

func TestEngineSequentialMatchesParallel(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)

	sequential, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)
	seqMaps, _, err := sequential.Run(Options{Cores: 1})
	require.NoError(t, err)

	parallel, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)
	parMaps, _, err := parallel.Run(Options{Cores: 4})
	require.NoError(t, err)

	// Voxels are independent and each fit is deterministic, so the degree
	// of parallelism cannot change the result.
	assert.Equal(t, seqMaps["cbf"].Data, parMaps["cbf"].Data)
	assert.Equal(t, seqMaps["att"].Data, parMaps["att"].Data)
}

func TestEngineInvalidReferenceFallsBackToZero(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)
	ref.Set(0, 0, 0, 0) // dead reference voxel

	engine, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)
	maps, stats, err := engine.Run(Options{Cores: 1})
	require.NoError(t, err)

	idx := ref.Index(0, 0, 0)
	assert.Zero(t, maps["cbf"].Data[idx])
	assert.Zero(t, maps["att"].Data[idx])
	assert.Zero(t, stats.Valid.Data[idx])
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, ref.NumVoxels()-1, stats.Fitted)
}

func TestEngineRejectsSeriesCountMismatch(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)

	_, err := NewEngine(model, series[:2], ref, nil)
	assert.Error(t, err)
}

func TestEngineRejectsMaskShapeMismatch(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)
	mask := asldata.NewVolume(3, 3, 3)
	mask.Fill(1)

	_, err := NewEngine(model, series, ref, mask)
	assert.Error(t, err)
}

func TestEngineRejectsMalformedBounds(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)
	engine, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)

	// Wrong length: fatal before any voxel is processed.
	_, _, err = engine.Run(Options{LowerBounds: []float64{0}, Cores: 1})
	assert.Error(t, err)
}

func TestEngineRejectsNegativeCores(t *testing.T) {
	model := buxtonTestModel()
	series, ref := syntheticData(model, 0.01, 1200)
	engine, err := NewEngine(model, series, ref, nil)
	require.NoError(t, err)

	_, _, err = engine.Run(Options{Cores: -1})
	assert.Error(t, err)
}

func TestResolveCores(t *testing.T) {
	available := runtime.NumCPU()

	auto, err := resolveCores(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, available)

	one, err := resolveCores(1)
	require.NoError(t, err)
	assert.Equal(t, 1, one)

	clamped, err := resolveCores(available + 100)
	require.NoError(t, err)
	assert.Equal(t, available, clamped)

	_, err = resolveCores(-2)
	assert.Error(t, err)
}

func TestVoxelwiseEngineUsesFixedMaps(t *testing.T) {
	conditions := kinetic.Conditions(
		[]float64{1800}, []float64{1800}, []float64{13.2, 25.7, 50.4}, nil)
	constants := kinetic.DefaultConstants()
	build := func(fixed []float64) *kinetic.Model {
		return kinetic.NewMultiTE(conditions, fixed[0], fixed[1], constants)
	}

	const m0Value = 500.0
	ref := asldata.NewVolume(2, 2, 1)
	ref.Fill(m0Value)

	cbfMap := asldata.NewVolumeLike(ref)
	cbfMap.Fill(0.01)
	attMap := asldata.NewVolumeLike(ref)
	attMap.Fill(1200)

	// Signal generated at t1blgm=400 with the same fixed CBF/ATT.
	signal := kinetic.MultiTE(conditions, 1.0, 0.01, 1200, 400, constants)
	series := make([]*asldata.Volume, len(signal))
	for c := range series {
		vol := asldata.NewVolumeLike(ref)
		vol.Fill(m0Value * signal[c])
		series[c] = vol
	}

	engine, err := NewVoxelwiseEngine(build,
		[]*asldata.Volume{cbfMap, attMap}, series, ref, nil)
	require.NoError(t, err)

	maps, stats, err := engine.Run(Options{Cores: 1})
	require.NoError(t, err)
	assert.Equal(t, ref.NumVoxels(), stats.Fitted)
	for i := range maps["t1blgm"].Data {
		assert.InEpsilon(t, 400.0, maps["t1blgm"].Data[i], 0.25)
	}
}

func TestVoxelwiseEngineRejectsMismatchedFixedMap(t *testing.T) {
	conditions := kinetic.Conditions(
		[]float64{1800}, []float64{1800}, []float64{13.2}, nil)
	constants := kinetic.DefaultConstants()
	build := func(fixed []float64) *kinetic.Model {
		return kinetic.NewMultiTE(conditions, fixed[0], fixed[1], constants)
	}

	ref := asldata.NewVolume(2, 2, 1)
	ref.Fill(1)
	series := []*asldata.Volume{asldata.NewVolumeLike(ref)}

	bad := asldata.NewVolume(3, 3, 1)
	_, err := NewVoxelwiseEngine(build,
		[]*asldata.Volume{bad, asldata.NewVolumeLike(ref)}, series, ref, nil)
	assert.Error(t, err)
}
