package reporter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/parquet-go/parquet-go"
)

func sampleOutput(t *testing.T) *datatypes.DistributedMatrix {
	out, err := datatypes.FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}}, 2, "")
	if err != nil {
		t.Fatalf("failed to create sample output: %v", err)
	}
	return out
}

func sampleSnapshot() *decomposition.Snapshot {
	return &decomposition.Snapshot{
		Components:             [][]float64{{1, 0, 0}, {0, 1, 0}},
		SingularValues:         []float64{5, 3},
		ExplainedVariance:      []float64{0, 4.5},
		ExplainedVarianceRatio: []float64{0, 1},
	}
}

func TestParquetReporter(t *testing.T) {
	tempdir, err := os.MkdirTemp("", "disttsvdTest")
	if err != nil {
		t.Fatalf("failed to create temp dir")
	}
	defer os.RemoveAll(tempdir)

	rep := NewParquetReporter(tempdir, 2)
	if err = rep.AddTransformed(sampleOutput(t)); err == nil {
		t.Errorf("expected an error writing to an uninitialized reporter")
	}
	if err = rep.Initialize("job", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(rep.TransformedPath()) != "transformed_job_20240301120000.pq" {
		t.Errorf("unexpected path %s", rep.TransformedPath())
	}
	if err = rep.AddTransformed(sampleOutput(t)); err != nil {
		t.Fatalf("failed to add transformed rows: %v", err)
	}
	if err = rep.AddModel(sampleSnapshot()); err != nil {
		t.Fatalf("failed to add model: %v", err)
	}
	if err = rep.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	rows, err := parquet.ReadFile[TransformedRow](rep.TransformedPath())
	if err != nil {
		t.Fatalf("failed to read back transformed rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows but got %d", len(rows))
	}
	if rows[2].Partition != "part-1" || rows[2].Row != 0 || rows[2].Values[1] != 6 {
		t.Errorf("unexpected last row %+v", rows[2])
	}

	components, err := parquet.ReadFile[ComponentRow](rep.ModelPath())
	if err != nil {
		t.Fatalf("failed to read back model: %v", err)
	}
	if len(components) != 2 || components[1].SingularValue != 3 || components[1].ExplainedVarianceRatio != 1 {
		t.Errorf("unexpected model rows %+v", components)
	}
}

func TestCsvReporter(t *testing.T) {
	tempdir, err := os.MkdirTemp("", "disttsvdTest")
	if err != nil {
		t.Fatalf("failed to create temp dir")
	}
	defer os.RemoveAll(tempdir)

	rep := NewCsvReporter(tempdir)
	if err = rep.AddModel(sampleSnapshot()); err == nil {
		t.Errorf("expected an error writing to an uninitialized reporter")
	}
	rep.Initialize("job", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err = rep.AddTransformed(sampleOutput(t)); err != nil {
		t.Fatalf("failed to add transformed rows: %v", err)
	}
	if err = rep.AddModel(sampleSnapshot()); err != nil {
		t.Fatalf("failed to add model: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tempdir, "transformed_job_20240301120000.csv"))
	if err != nil {
		t.Fatalf("failed to read transformed csv: %v", err)
	}
	expected := "part-0,0,1,2\npart-0,1,3,4\npart-1,0,5,6\n"
	if string(data) != expected {
		t.Errorf("expected %q but got %q", expected, string(data))
	}
	data, err = os.ReadFile(filepath.Join(tempdir, "model_job_20240301120000.csv"))
	if err != nil {
		t.Fatalf("failed to read model csv: %v", err)
	}
	expected = "component,singular_value,explained_variance,explained_variance_ratio,values...\n" +
		"0,5,0,0,1,0,0\n1,3,4.5,1,0,1,0\n"
	if string(data) != expected {
		t.Errorf("expected %q but got %q", expected, string(data))
	}
}
