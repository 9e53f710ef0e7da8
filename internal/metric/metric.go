// Package metric reduces line items to one number and converts it to the
// fixed-point integer that gets encrypted.
package metric

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/i5heu/cipher-tally/internal/normalize"
	"github.com/montanaflynn/stats"
)

const DefaultScale = 100

var (
	ErrNoRecords     = errors.New("metric: no records")
	ErrInvalidMetric = errors.New("metric: value is not finite")
	ErrInvalidScale  = errors.New("metric: scale must be positive")
)

func LineValue(r normalize.RawRecord) float64 {
	return r.Quantity * r.Price
}

func lineValues(records []normalize.RawRecord) stats.Float64Data {
	values := make(stats.Float64Data, len(records))
	for i, r := range records {
		values[i] = LineValue(r)
	}
	return values
}

// Reduce sums quantity × price over all records. No records is an error, not
// a zero metric.
func Reduce(records []normalize.RawRecord) (float64, error) {
	if len(records) == 0 {
		return 0, ErrNoRecords
	}

	sum, err := stats.Sum(lineValues(records))
	if err != nil {
		return 0, fmt.Errorf("summing line values: %w", err)
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, ErrInvalidMetric
	}
	return sum, nil
}

// Scale converts metric to round(metric × factor), rounding halves away from
// zero.
func Scale(metric float64, factor int64) (*big.Int, error) {
	if factor <= 0 {
		return nil, ErrInvalidScale
	}
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		return nil, ErrInvalidMetric
	}

	scaled := metric * float64(factor)
	if math.IsInf(scaled, 0) {
		return nil, ErrInvalidMetric
	}

	rounded, err := stats.Round(scaled, 0)
	if err != nil {
		return nil, fmt.Errorf("rounding %v: %w", scaled, err)
	}

	v, _ := big.NewFloat(rounded).Int(nil)
	return v, nil
}

// Unscale divides an integer by factor exactly.
func Unscale(v *big.Int, factor int64) *big.Rat {
	return new(big.Rat).SetFrac(v, big.NewInt(factor))
}

// Places is the number of decimals needed to show a value at factor.
func Places(factor int64) int {
	if !isPowerOfTen(factor) {
		return len(strconv.FormatInt(factor, 10))
	}
	places := 0
	for f := factor; f >= 10; f /= 10 {
		places++
	}
	return places
}

func isPowerOfTen(f int64) bool {
	for f >= 10 && f%10 == 0 {
		f /= 10
	}
	return f == 1
}

// FormatScaled renders v / factor as a decimal string, e.g. 730 at 100 is
// "7.30".
func FormatScaled(v *big.Int, factor int64) string {
	return Unscale(v, factor).FloatString(Places(factor))
}

type Summary struct {
	Lines       int     `json:"lines"`
	Total       float64 `json:"total"`
	LargestLine float64 `json:"largestLine"`
	MeanLine    float64 `json:"meanLine"`
}

func Summarize(records []normalize.RawRecord) (Summary, error) {
	total, err := Reduce(records)
	if err != nil {
		return Summary{}, err
	}

	values := lineValues(records)
	largest, err := stats.Max(values)
	if err != nil {
		return Summary{}, err
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Lines:       len(records),
		Total:       total,
		LargestLine: largest,
		MeanLine:    mean,
	}, nil
}
