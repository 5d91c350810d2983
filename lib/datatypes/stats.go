package datatypes

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ColumnStats are per-column sums that can be added up across partitions.
type ColumnStats struct {
	Count      int       `json:"count"`
	Sums       []float64 `json:"sums"`
	SquareSums []float64 `json:"squareSums"`
}

func NewColumnStats(m mat.Matrix) *ColumnStats {
	r, c := m.Dims()
	ret := &ColumnStats{
		Count:      r,
		Sums:       make([]float64, c),
		SquareSums: make([]float64, c),
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			ret.Sums[j] += v
			ret.SquareSums[j] += v * v
		}
	}
	return ret
}

// Merge adds other into s.
func (s *ColumnStats) Merge(other *ColumnStats) error {
	if other == nil {
		return fmt.Errorf("cannot merge missing column stats")
	}
	if s.Sums == nil {
		s.Sums = make([]float64, len(other.Sums))
		s.SquareSums = make([]float64, len(other.SquareSums))
	}
	if len(s.Sums) != len(other.Sums) || len(s.SquareSums) != len(other.SquareSums) {
		return fmt.Errorf("column stats mismatch: %d vs %d columns", len(s.Sums), len(other.Sums))
	}
	s.Count += other.Count
	for i := range s.Sums {
		s.Sums[i] += other.Sums[i]
		s.SquareSums[i] += other.SquareSums[i]
	}
	return nil
}

// Variances returns the population variance of every column.
func (s *ColumnStats) Variances() []float64 {
	ret := make([]float64, len(s.Sums))
	if s.Count == 0 {
		return ret
	}
	n := float64(s.Count)
	for i := range s.Sums {
		mean := s.Sums[i] / n
		v := s.SquareSums[i]/n - mean*mean
		// rounding can push an exact zero below zero
		if v < 0 {
			v = 0
		}
		ret[i] = v
	}
	return ret
}

func (s *ColumnStats) TotalVariance() float64 {
	total := 0.0
	for _, v := range s.Variances() {
		total += v
	}
	return total
}
