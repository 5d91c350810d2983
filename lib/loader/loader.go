// Package loader reads input matrices from files.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kpaschen/disttsvd/lib/reporter"
	"github.com/parquet-go/parquet-go"
)

// ReadMatrix reads a matrix from path. Files ending in .pq or .parquet are
// read as TransformedRow files, everything else as text.
func ReadMatrix(path string) ([][]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pq", ".parquet":
		return ReadParquet(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadText(file, path)
}

// ReadText reads one row per line. Values are separated by spaces, tabs or
// commas. Blank lines and lines starting with # are skipped.
func ReadText(r io.Reader, name string) ([][]float64, error) {
	rows := make([][]float64, 0)
	columnCount := 0
	lineCount := 0
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		lineCount++
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			if err != nil {
				break
			}
			continue
		}

		parts := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if columnCount == 0 {
			columnCount = len(parts)
		} else if columnCount != len(parts) {
			return nil, fmt.Errorf("inconsistent number of values in line %d of %s: expected %d but got %d",
				lineCount, name, columnCount, len(parts))
		}
		vec := make([]float64, len(parts))
		for i, p := range parts {
			vec[i], err = strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("on line %d of %s, failed to parse %s into a float: %v",
					lineCount, name, p, err)
			}
		}
		rows = append(rows, vec)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s contains no data", name)
	}
	return rows, nil
}

// ReadParquet reads the values column of a file written by reporter.ParquetReporter.
func ReadParquet(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := parquet.NewGenericReader[reporter.TransformedRow](file)
	defer reader.Close()

	rows := make([][]float64, 0, reader.NumRows())
	buffer := make([]reporter.TransformedRow, 1000)
	for {
		n, err := reader.Read(buffer)
		for _, row := range buffer[:n] {
			if len(rows) > 0 && len(row.Values) != len(rows[0]) {
				return nil, fmt.Errorf("row %d of %s has %d values but expected %d",
					len(rows), path, len(row.Values), len(rows[0]))
			}
			rows = append(rows, row.Values)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s contains no data", path)
	}
	return rows, nil
}
