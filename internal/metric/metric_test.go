package metric

import (
	"math"
	"math/big"
	"testing"

	"github.com/i5heu/cipher-tally/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	got, err := Reduce([]normalize.RawRecord{
		{Item: "Blue Widget", Quantity: 4, Price: 19.99},
		{Item: "Bolt", Quantity: 10, Price: 0.25},
		{Item: "(unknown)", Quantity: 1, Price: 0},
	})
	require.NoError(t, err)
	assert.InDelta(t, 82.46, got, 1e-9)

	_, err = Reduce(nil)
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = Reduce([]normalize.RawRecord{{Quantity: math.MaxFloat64, Price: 10}})
	assert.ErrorIs(t, err, ErrInvalidMetric)
}

func TestScaleRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		metric float64
		factor int64
		want   int64
	}{
		{7.30, 100, 730},
		{0.125, 100, 13},
		{2.5, 1, 3},
		{3.5, 1, 4},
		{2.4999, 1, 2},
		{-2.5, 1, -3},
		{0, 100, 0},
		{82.46, 100, 8246},
	}
	for _, tc := range cases {
		got, err := Scale(tc.metric, tc.factor)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Int64(), "Scale(%v, %d)", tc.metric, tc.factor)
	}
}

func TestScaleRejectsInvalidInput(t *testing.T) {
	_, err := Scale(1, 0)
	assert.ErrorIs(t, err, ErrInvalidScale)
	_, err = Scale(math.NaN(), 100)
	assert.ErrorIs(t, err, ErrInvalidMetric)
	_, err = Scale(math.Inf(1), 100)
	assert.ErrorIs(t, err, ErrInvalidMetric)
	_, err = Scale(math.MaxFloat64, 100)
	assert.ErrorIs(t, err, ErrInvalidMetric)
}

func TestScaleLargeValuesStayExact(t *testing.T) {
	got, err := Scale(1e15, 100)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("100000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(got))
}

func TestFormatScaled(t *testing.T) {
	assert.Equal(t, "7.30", FormatScaled(big.NewInt(730), 100))
	assert.Equal(t, "8.800", FormatScaled(big.NewInt(8800), 1000))
	assert.Equal(t, "12", FormatScaled(big.NewInt(12), 1))
	assert.Equal(t, 2, Places(100))
	assert.Equal(t, 0, Places(1))
	assert.Equal(t, 2, Places(12))
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]normalize.RawRecord{
		{Quantity: 2, Price: 5},
		{Quantity: 1, Price: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Lines)
	assert.Equal(t, 40.0, s.Total)
	assert.Equal(t, 30.0, s.LargestLine)
	assert.Equal(t, 20.0, s.MeanLine)

	_, err = Summarize(nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}
