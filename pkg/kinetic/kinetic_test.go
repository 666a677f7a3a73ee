package kinetic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConditions() []Condition {
	return []Condition{
		{LD: 1800, PLD: 800},
		{LD: 1800, PLD: 1800},
		{LD: 1800, PLD: 2800},
	}
}

func TestConditionsPairMajorOrder(t *testing.T) {
	ld := []float64{100, 200}
	pld := []float64{150, 250}
	te := []float64{13.2, 25.7, 50.4}

	conds := Conditions(ld, pld, te, nil)
	require.Len(t, conds, 6)

	// All echoes of the first pair come before the second pair.
	assert.Equal(t, Condition{LD: 100, PLD: 150, TE: 13.2}, conds[0])
	assert.Equal(t, Condition{LD: 100, PLD: 150, TE: 50.4}, conds[2])
	assert.Equal(t, Condition{LD: 200, PLD: 250, TE: 13.2}, conds[3])
}

func TestConditionsWithoutExtraDimension(t *testing.T) {
	conds := Conditions([]float64{100}, []float64{200}, nil, nil)
	require.Len(t, conds, 1)
	assert.Equal(t, Condition{LD: 100, PLD: 200}, conds[0])
}

func TestBuxtonZeroBeforeArrival(t *testing.T) {
	// ATT beyond every acquisition time: no label has arrived yet, so the
	// predicted signal is identically zero.
	signal := Buxton(testConditions(), 1.0, 0.01, 10000, DefaultConstants())
	for i, s := range signal {
		assert.Zerof(t, s, "condition %d", i)
	}
}

func TestBuxtonPositiveAfterArrival(t *testing.T) {
	signal := Buxton(testConditions(), 1.0, 0.01, 1200, DefaultConstants())
	for i, s := range signal {
		assert.Greaterf(t, s, 0.0, "condition %d", i)
	}
}

func TestBuxtonFiniteAtBounds(t *testing.T) {
	c := DefaultConstants()
	cases := [][2]float64{
		{0, 0},
		{0, 5000},
		{1.0, 0},
		{1.0, 5000},
	}
	for _, p := range cases {
		signal := Buxton(testConditions(), 1.0, p[0], p[1], c)
		for i, s := range signal {
			assert.Falsef(t, math.IsNaN(s) || math.IsInf(s, 0),
				"cbf=%g att=%g condition %d not finite: %g", p[0], p[1], i, s)
		}
	}
}

func TestBuxtonScalesWithM0(t *testing.T) {
	conds := testConditions()
	c := DefaultConstants()
	unit := Buxton(conds, 1.0, 0.01, 1200, c)
	scaled := Buxton(conds, 2.5, 0.01, 1200, c)
	for i := range unit {
		assert.InDelta(t, 2.5*unit[i], scaled[i], 1e-12)
	}
}

func TestMultiTEReducesToBuxtonAtZeroEcho(t *testing.T) {
	// With TE=0 both compartments contribute fully and the echo weighting
	// collapses to the plain single-compartment prediction.
	conds := Conditions([]float64{1800}, []float64{1800}, []float64{0}, nil)
	c := DefaultConstants()

	mte := MultiTE(conds, 1.0, 0.01, 1200, 400, c)
	bux := Buxton(conds, 1.0, 0.01, 1200, c)
	require.Len(t, mte, len(bux))
	for i := range mte {
		assert.InDelta(t, bux[i], mte[i], 1e-12)
	}
}

func TestMultiTEDecaysAcrossEchoes(t *testing.T) {
	conds := Conditions([]float64{1800}, []float64{1800}, []float64{13.2, 25.7, 50.4}, nil)
	signal := MultiTE(conds, 1.0, 0.01, 1200, 400, DefaultConstants())
	require.Len(t, signal, 3)
	assert.Greater(t, signal[0], signal[1])
	assert.Greater(t, signal[1], signal[2])
}

func TestMultiTEFiniteAtDegenerateExchangeTime(t *testing.T) {
	conds := Conditions([]float64{1800}, []float64{1800}, []float64{13.2}, nil)
	signal := MultiTE(conds, 1.0, 0.01, 1200, 0, DefaultConstants())
	for _, s := range signal {
		assert.False(t, math.IsNaN(s) || math.IsInf(s, 0))
	}
}

func TestMultiDWAttenuatesWithBValue(t *testing.T) {
	conds := Conditions([]float64{1800}, []float64{1800}, nil, []float64{0, 50, 100, 200})
	signal := MultiDW(conds, 1.0, 0.01, 1200, 0.5, 5e-4, 0.5, 5e-3, DefaultConstants())
	require.Len(t, signal, 4)
	for i := 1; i < len(signal); i++ {
		assert.Less(t, signal[i], signal[i-1])
	}
}

func TestMultiDWZeroBValueMatchesAmplitudeSum(t *testing.T) {
	conds := Conditions([]float64{1800}, []float64{1800}, nil, []float64{0})
	c := DefaultConstants()
	signal := MultiDW(conds, 1.0, 0.01, 1200, 0.3, 5e-4, 0.7, 5e-3, c)
	bux := Buxton([]Condition{{LD: 1800, PLD: 1800}}, 1.0, 0.01, 1200, c)
	assert.InDelta(t, bux[0]*(0.3+0.7), signal[0], 1e-12)
}

func TestWaterExchangeRate(t *testing.T) {
	assert.InDelta(t, (0.7/1.0)/1200.0, WaterExchangeRate(0.3, 0.7, 1200), 1e-15)
	assert.Zero(t, WaterExchangeRate(0, 0, 1200))
	assert.Zero(t, WaterExchangeRate(0.3, 0.7, 0))
	assert.Zero(t, WaterExchangeRate(0.3, 0.7, -5))
}

func TestT2DecayMonoExponential(t *testing.T) {
	te := []float64{10, 20, 40}
	signal := T2Decay(te, 2.0, 80)
	for i, tei := range te {
		assert.InDelta(t, 2.0*math.Exp(-tei/80), signal[i], 1e-12)
	}
}

func TestT2DecayClampsDegenerateT2(t *testing.T) {
	signal := T2Decay([]float64{10}, 1.0, 0)
	assert.False(t, math.IsNaN(signal[0]) || math.IsInf(signal[0], 0))
}

func TestModelEvalMatchesDirectCall(t *testing.T) {
	conds := testConditions()
	c := DefaultConstants()
	model := NewBuxton(conds, c)

	out := make([]float64, model.NumConditions())
	model.Eval([]float64{0.01, 1200}, out)
	direct := Buxton(conds, 1.0, 0.01, 1200, c)
	for i := range out {
		assert.InDelta(t, direct[i], out[i], 1e-15)
	}
}

func TestCheckFitConfig(t *testing.T) {
	model := NewBuxton(testConditions(), DefaultConstants())

	assert.NoError(t, model.CheckFitConfig(
		[]float64{0, 0}, []float64{1, 5000}, []float64{1e-5, 1000}))

	// Wrong length.
	assert.Error(t, model.CheckFitConfig(
		[]float64{0}, []float64{1, 5000}, []float64{1e-5, 1000}))

	// Lower above upper.
	assert.Error(t, model.CheckFitConfig(
		[]float64{2, 0}, []float64{1, 5000}, []float64{1e-5, 1000}))

	// Guess outside the box.
	assert.Error(t, model.CheckFitConfig(
		[]float64{0, 0}, []float64{1, 5000}, []float64{2, 1000}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "buxton", KindBuxton.String())
	assert.Equal(t, "multi-te", KindMultiTE.String())
	assert.Equal(t, "multi-dw", KindMultiDW.String())
	assert.Equal(t, "t2-decay", KindT2Decay.String())
}
