package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/reporter"
)

func TestReadText(t *testing.T) {
	input := "# header\n3 2 2\n2,3,-2\n\n1\t0\t1.5"
	rows, err := ReadText(strings.NewReader(input), "input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows but got %d", len(rows))
	}
	if rows[1][2] != -2 || rows[2][2] != 1.5 {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestReadTextErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"only comments", "# nothing\n"},
		{"ragged", "1 2\n3\n"},
		{"not a number", "1 x\n"},
	}
	for _, tc := range testCases {
		if _, err := ReadText(strings.NewReader(tc.input), tc.name); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

func TestReadMatrixParquet(t *testing.T) {
	tempdir, err := os.MkdirTemp("", "disttsvdTest")
	if err != nil {
		t.Fatalf("failed to create temp dir")
	}
	defer os.RemoveAll(tempdir)

	out, err := datatypes.FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}}, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rep := reporter.NewParquetReporter(tempdir, 10)
	rep.Initialize("loader", time.Now())
	if err = rep.AddTransformed(out); err != nil {
		t.Fatalf("unexpected error writing parquet: %v", err)
	}
	if err = rep.Flush(); err != nil {
		t.Fatalf("unexpected error flushing parquet: %v", err)
	}

	rows, err := ReadMatrix(rep.TransformedPath())
	if err != nil {
		t.Fatalf("unexpected error reading parquet: %v", err)
	}
	if len(rows) != 3 || rows[2][0] != 5 {
		t.Errorf("unexpected rows %v", rows)
	}

	textPath := filepath.Join(tempdir, "input.txt")
	os.WriteFile(textPath, []byte("1 2\n3 4\n"), 0640)
	rows, err = ReadMatrix(textPath)
	if err != nil || len(rows) != 2 {
		t.Errorf("unexpected result reading text file: %v, %v", rows, err)
	}
}
