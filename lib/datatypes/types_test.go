package datatypes

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/kpaschen/disttsvd/lib/settings"
	"gonum.org/v1/gonum/mat"
)

var sampleRows = [][]float64{
	{1.0, 2.0},
	{3.0, 4.0},
	{5.0, 6.0},
	{7.0, 8.0},
	{9.0, 10.0},
}

func TestFromRows(t *testing.T) {
	d, err := FromRows(sampleRows, 2, settings.DTYPE_FLOAT64)
	if err != nil {
		t.Fatalf("unexpected error partitioning rows: %v", err)
	}
	if len(d.Partitions) != 2 {
		t.Fatalf("expected 2 partitions but got %d", len(d.Partitions))
	}
	r0, _ := d.Partitions[0].Rows.Dims()
	r1, _ := d.Partitions[1].Rows.Dims()
	if r0 != 3 || r1 != 2 {
		t.Errorf("expected partitions of 3 and 2 rows but got %d and %d", r0, r1)
	}
	if d.Partitions[1].Key != "part-1" || d.Partitions[1].Index != 1 {
		t.Errorf("unexpected partition identity %s/%d", d.Partitions[1].Key, d.Partitions[1].Index)
	}
	if d.Rows() != 5 || d.Columns() != 2 {
		t.Errorf("expected a 5x2 matrix but got %dx%d", d.Rows(), d.Columns())
	}

	full, err := d.Compute()
	if err != nil {
		t.Fatalf("unexpected error in Compute: %v", err)
	}
	expected := mat.NewDense(5, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if !mat.EqualApprox(full, expected, 0.0001) {
		t.Errorf("expected gathered matrix %v but got %v", mat.Formatted(expected), mat.Formatted(full))
	}
}

func TestFromRowsEdgeCases(t *testing.T) {
	if _, err := FromRows(nil, 2, settings.DTYPE_FLOAT64); err == nil {
		t.Errorf("expected an error for empty input")
	}
	if _, err := FromRows(sampleRows, 0, settings.DTYPE_FLOAT64); err == nil {
		t.Errorf("expected an error for zero partitions")
	}
	ragged := [][]float64{{1, 2}, {3}}
	if _, err := FromRows(ragged, 1, settings.DTYPE_FLOAT64); err == nil {
		t.Errorf("expected an error for ragged rows")
	}
	d, err := FromRows(sampleRows, 10, settings.DTYPE_FLOAT64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Partitions) != 5 {
		t.Errorf("expected partition count to be capped at the row count but got %d", len(d.Partitions))
	}
}

func TestCheck(t *testing.T) {
	_, err := NewDistributedMatrix([]*mat.Dense{
		mat.NewDense(1, 2, []float64{1, 2}),
		mat.NewDense(1, 3, []float64{1, 2, 3}),
	}, settings.DTYPE_FLOAT64)
	if err == nil {
		t.Errorf("expected an error for mismatched column counts")
	}
	empty := &DistributedMatrix{}
	if empty.Check() == nil {
		t.Errorf("expected an error for a matrix without partitions")
	}
}

func TestMarshalPartition(t *testing.T) {
	p := &Partition{Key: "part-3", Index: 3, Rows: mat.NewDense(2, 2, []float64{1, 2, 3, 4})}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	var reconstructed Partition
	if err = json.Unmarshal(b, &reconstructed); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if reconstructed.Key != p.Key || reconstructed.Index != p.Index {
		t.Errorf("partition identity mismatch %s/%d vs %s/%d", reconstructed.Key, reconstructed.Index, p.Key, p.Index)
	}
	if !mat.Equal(reconstructed.Rows, p.Rows) {
		t.Errorf("partition rows mismatch")
	}
}

func TestMarshalTaskResult(t *testing.T) {
	gram := mat.NewSymDense(2, []float64{2, 1, 1, 3})
	res := &TaskResult{
		JobID:        "job",
		Kind:         TASK_PARTIAL_FIT,
		PartitionKey: "part-0",
		Gram:         gram,
		Stats:        &ColumnStats{Count: 2, Sums: []float64{1, 2}, SquareSums: []float64{1, 4}},
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	var reconstructed TaskResult
	if err = json.Unmarshal(b, &reconstructed); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !mat.Equal(reconstructed.Gram, gram) {
		t.Errorf("gram mismatch: %v", mat.Formatted(reconstructed.Gram))
	}
	if reconstructed.Output != nil {
		t.Errorf("expected no output for a partial fit result")
	}
	if reconstructed.Error() != nil {
		t.Errorf("expected no error but got %v", reconstructed.Error())
	}
	if reconstructed.Stats.Count != 2 || reconstructed.Stats.SquareSums[1] != 4 {
		t.Errorf("stats mismatch %+v", reconstructed.Stats)
	}
}

func TestColumnStats(t *testing.T) {
	a := NewColumnStats(mat.NewDense(2, 3, []float64{3, 2, 2, 2, 3, -2}))
	vars := a.Variances()
	expected := []float64{0.25, 0.25, 4.0}
	for i, v := range expected {
		if math.Abs(vars[i]-v) > 0.0001 {
			t.Errorf("expected variance %f for column %d but got %f", v, i, vars[i])
		}
	}

	// Splitting the rows across two partitions must not change the result.
	merged := &ColumnStats{}
	merged.Merge(NewColumnStats(mat.NewDense(1, 3, []float64{3, 2, 2})))
	merged.Merge(NewColumnStats(mat.NewDense(1, 3, []float64{2, 3, -2})))
	if math.Abs(merged.TotalVariance()-4.5) > 0.0001 {
		t.Errorf("expected total variance 4.5 but got %f", merged.TotalVariance())
	}
	if err := merged.Merge(&ColumnStats{Sums: []float64{1}, SquareSums: []float64{1}}); err == nil {
		t.Errorf("expected an error merging stats with different column counts")
	}
}
