package datatypes

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// A Partition is one row block of a distributed matrix.
// The key decides which worker the partition lives on.
type Partition struct {
	Key   string
	Index int
	Rows  *mat.Dense
}

// A DistributedMatrix is a matrix split into row blocks.
// Partition i holds the rows that come after the rows of partition i-1.
type DistributedMatrix struct {
	Partitions []*Partition
	Dtype      string
}

func PartitionKey(index int) string {
	return fmt.Sprintf("part-%d", index)
}

func NewDistributedMatrix(parts []*mat.Dense, dtype string) (*DistributedMatrix, error) {
	ret := &DistributedMatrix{
		Partitions: make([]*Partition, len(parts)),
		Dtype:      dtype,
	}
	for i, p := range parts {
		ret.Partitions[i] = &Partition{Key: PartitionKey(i), Index: i, Rows: p}
	}
	if err := ret.Check(); err != nil {
		return nil, err
	}
	return ret, nil
}

// FromRows splits rows into nParts partitions of nearly equal size.
// Earlier partitions get the extra rows.
func FromRows(rows [][]float64, nParts int, dtype string) (*DistributedMatrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot partition an empty matrix")
	}
	if nParts < 1 {
		return nil, fmt.Errorf("need at least one partition but got %d", nParts)
	}
	if nParts > len(rows) {
		nParts = len(rows)
	}
	columnCount := len(rows[0])
	size := len(rows) / nParts
	extra := len(rows) % nParts
	parts := make([]*mat.Dense, 0, nParts)
	start := 0
	for i := 0; i < nParts; i++ {
		end := start + size
		if i < extra {
			end++
		}
		data := make([]float64, 0, (end-start)*columnCount)
		for j := start; j < end; j++ {
			if len(rows[j]) != columnCount {
				return nil, fmt.Errorf("row %d has %d columns but row 0 has %d", j, len(rows[j]), columnCount)
			}
			data = append(data, rows[j]...)
		}
		parts = append(parts, mat.NewDense(end-start, columnCount, data))
		start = end
	}
	return NewDistributedMatrix(parts, dtype)
}

// FromDense splits m into nParts partitions.
func FromDense(m *mat.Dense, nParts int, dtype string) (*DistributedMatrix, error) {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = m.RawRowView(i)
	}
	return FromRows(rows, nParts, dtype)
}

// Check verifies that there is at least one partition, that no partition is
// empty and that all partitions have the same column count.
func (d *DistributedMatrix) Check() error {
	if d == nil || len(d.Partitions) == 0 {
		return fmt.Errorf("distributed matrix has no partitions")
	}
	columns := -1
	for i, p := range d.Partitions {
		if p == nil || p.Rows == nil || p.Rows.IsEmpty() {
			return fmt.Errorf("partition %d is empty", i)
		}
		_, c := p.Rows.Dims()
		if columns == -1 {
			columns = c
		} else if c != columns {
			return fmt.Errorf("partition %s has %d columns but expected %d", p.Key, c, columns)
		}
	}
	return nil
}

func (d *DistributedMatrix) Columns() int {
	if d == nil || len(d.Partitions) == 0 || d.Partitions[0].Rows == nil {
		return 0
	}
	_, c := d.Partitions[0].Rows.Dims()
	return c
}

func (d *DistributedMatrix) Rows() int {
	total := 0
	if d == nil {
		return 0
	}
	for _, p := range d.Partitions {
		if p.Rows == nil {
			continue
		}
		r, _ := p.Rows.Dims()
		total += r
	}
	return total
}

// Compute gathers all partitions into one matrix, in partition order.
func (d *DistributedMatrix) Compute() (*mat.Dense, error) {
	if err := d.Check(); err != nil {
		return nil, err
	}
	columns := d.Columns()
	data := make([]float64, 0, d.Rows()*columns)
	for _, p := range d.Partitions {
		r, _ := p.Rows.Dims()
		for i := 0; i < r; i++ {
			data = append(data, p.Rows.RawRowView(i)...)
		}
	}
	return mat.NewDense(d.Rows(), columns, data), nil
}

func denseToRows(m *mat.Dense) [][]float64 {
	if m == nil || m.IsEmpty() {
		return nil
	}
	r, _ := m.Dims()
	ret := make([][]float64, r)
	for i := 0; i < r; i++ {
		ret[i] = m.RawRowView(i)
	}
	return ret
}

func rowsToDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	columns := len(rows[0])
	if columns == 0 {
		return nil, fmt.Errorf("rows have no columns")
	}
	data := make([]float64, 0, len(rows)*columns)
	for i, r := range rows {
		if len(r) != columns {
			return nil, fmt.Errorf("row %d has %d columns but expected %d", i, len(r), columns)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), columns, data), nil
}

func (p *Partition) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Key   string      `json:"key"`
		Index int         `json:"index"`
		Rows  [][]float64 `json:"rows"`
	}{
		Key:   p.Key,
		Index: p.Index,
		Rows:  denseToRows(p.Rows),
	})
}

func (p *Partition) UnmarshalJSON(data []byte) error {
	pp := &struct {
		Key   string      `json:"key"`
		Index int         `json:"index"`
		Rows  [][]float64 `json:"rows"`
	}{}
	if err := json.Unmarshal(data, &pp); err != nil {
		return err
	}
	rows, err := rowsToDense(pp.Rows)
	if err != nil {
		return err
	}
	p.Key = pp.Key
	p.Index = pp.Index
	p.Rows = rows
	return nil
}
