package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcentrationBreakpoints(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{1.5, 2.0},
		{3, 1.0},
		{11.5, 0.55},
		{20, 0.1},
		{40, 0.05},
	}
	for _, tt := range tests {
		got, err := Concentration(tt.ratio)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "ratio %v", tt.ratio)
	}
}

func TestConcentrationStrictlyDecreasing(t *testing.T) {
	// Both breakpoints and their neighbours on either side.
	ratios := []float64{0.5, 2.9, 3.0, 3.1, 10, 19.9, 20.0, 20.1, 40}

	prev, err := Concentration(ratios[0])
	require.NoError(t, err)
	for _, r := range ratios[1:] {
		got, err := Concentration(r)
		require.NoError(t, err)
		assert.Less(t, got, prev, "ratio %v", r)
		prev = got
	}

	prev, err = Concentration(0.5)
	require.NoError(t, err)
	for r := 0.6; r < 60; r += 0.1 {
		got, err := Concentration(r)
		require.NoError(t, err)
		assert.Less(t, got, prev, "ratio %v", r)
		prev = got
	}
}

func TestConcentrationRejectsNonPositiveRatio(t *testing.T) {
	_, err := Concentration(0)
	assert.ErrorIs(t, err, ErrInvalidRatio)
	_, err = Concentration(-1)
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func TestResistanceHelpers(t *testing.T) {
	assert.InDelta(t, ADCRange, Voltage(Resolution), 1e-12)

	rs, err := SensorResistance(2.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rs, 1e-12)

	r0, err := BaselineResistance(2.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/70, r0, 1e-12)

	_, err = SensorResistance(0)
	assert.ErrorIs(t, err, ErrVoltageTooLow)

	_, err = Ratio(1, 0)
	assert.ErrorIs(t, err, ErrNoBaseline)
}
