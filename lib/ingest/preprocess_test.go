package ingest

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeSlice(t *testing.T) {
	slice := []float64{1, 2, 3}
	NormalizeSlice(slice)
	if math.Abs(mean(slice)) > 1e-12 {
		t.Errorf("expected mean 0 after normalizing but got %v", slice)
	}
	if math.Abs(slice[2]-1/math.Sqrt(2)) > 1e-12 {
		t.Errorf("unexpected normalized slice %v", slice)
	}
	constant := []float64{4, 4}
	NormalizeSlice(constant)
	if constant[0] != 0 || constant[1] != 0 {
		t.Errorf("expected a constant slice to normalize to zeros but got %v", constant)
	}
}

func TestPAA(t *testing.T) {
	ret, err := PAA([]float64{1, 3, 5, 7, 9}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret[0] != 2 || ret[1] != 6 {
		t.Errorf("expected [2 6] but got %v", ret)
	}
	if _, err = PAA([]float64{1}, 2); err == nil {
		t.Errorf("expected an error reducing 1 value to 2 columns")
	}
	if _, err = PAA([]float64{1}, 0); err == nil {
		t.Errorf("expected an error reducing to 0 columns")
	}
}

func TestSnapshotWithPreprocessing(t *testing.T) {
	acc := NewAccumulator(4, time.Second)
	acc.Preprocessing = Preprocessing{Normalize: true, PaaColumns: 2}
	now := time.Now()
	for i, v := range []float64{1, 2, 3, 4} {
		acc.AddObservation(&Observation{MetricFingerprint: 1, Value: v, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	m, _, err := acc.Snapshot(1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Columns() != 2 {
		t.Fatalf("expected 2 columns after paa but got %d", m.Columns())
	}
	row := m.Partitions[0].Rows.RawRowView(0)
	if math.Abs(row[0]+row[1]) > 1e-12 || row[0] >= 0 {
		t.Errorf("unexpected preprocessed row %v", row)
	}
	// The accumulated data itself is left alone.
	if acc.buffers[0][3] != 4 {
		t.Errorf("snapshot modified the accumulator: %v", acc.buffers[0])
	}
}
