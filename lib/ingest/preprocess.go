package ingest

import (
	"fmt"
	"math"
)

func mean(slice []float64) float64 {
	ret := 0.0
	for _, v := range slice {
		ret += v
	}
	return ret / float64(len(slice))
}

// NormalizeSlice shifts slice to mean 0 and scales it to unit length.
// A constant slice becomes all zeros.
func NormalizeSlice(slice []float64) {
	avg := mean(slice)
	var sumOfSquares float64
	for _, v := range slice {
		diff := v - avg
		sumOfSquares += diff * diff
	}
	normalizingFactor := math.Sqrt(sumOfSquares)
	for i, v := range slice {
		if normalizingFactor == 0.0 {
			slice[i] = 0.0
		} else {
			slice[i] = (v - avg) / normalizingFactor
		}
	}
}

// PAA reduces slice to targetColumnCount columns by dividing it into
// equal-length segments and using their mean values. Trailing values that
// do not fill a segment are dropped.
func PAA(slice []float64, targetColumnCount int) ([]float64, error) {
	if targetColumnCount < 1 {
		return nil, fmt.Errorf("cannot reduce to %d columns", targetColumnCount)
	}
	windowSize := len(slice) / targetColumnCount
	if windowSize < 1 {
		return nil, fmt.Errorf("cannot reduce %d values to %d columns", len(slice), targetColumnCount)
	}
	ret := make([]float64, targetColumnCount)
	for i := 0; i < targetColumnCount; i++ {
		ret[i] = mean(slice[(i * windowSize):((i + 1) * windowSize)])
	}
	return ret, nil
}

// A Preprocessing is applied to every row of a snapshot.
type Preprocessing struct {
	// Normalize every row before reducing it.
	Normalize bool
	// Reduce every row to this many columns with PAA. 0 keeps all columns.
	PaaColumns int
}

func (p Preprocessing) apply(row []float64) ([]float64, error) {
	if p.Normalize {
		NormalizeSlice(row)
	}
	if p.PaaColumns > 0 && p.PaaColumns < len(row) {
		return PAA(row, p.PaaColumns)
	}
	return row, nil
}
