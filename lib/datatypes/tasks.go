package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/kpaschen/disttsvd/lib/settings"
	"gonum.org/v1/gonum/mat"
)

const (
	TASK_PARTIAL_FIT       = "partial_fit"
	TASK_TRANSFORM         = "transform"
	TASK_INVERSE_TRANSFORM = "inverse_transform"
)

// A TaskRequest asks a worker to run one step on one partition.
// Workers keep no model state between tasks, so transform requests carry
// the fitted components.
type TaskRequest struct {
	JobID      string
	Kind       string
	Partition  *Partition
	Components *mat.Dense
	Config     settings.TsvdSettings
}

// A TaskResult is what a worker sends back for one TaskRequest.
type TaskResult struct {
	JobID        string
	Kind         string
	PartitionKey string
	Index        int
	Worker       string

	// Set by partial fit.
	Gram *mat.SymDense
	// Column statistics of the input (partial fit) or of the output (transform).
	Stats *ColumnStats
	// Set by transform and inverse transform.
	Output *mat.Dense

	// Errors travel as strings because they cross process boundaries.
	Err string
}

func (r *TaskResult) Error() error {
	if r.Err == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Err)
}

type wireRequest struct {
	JobID      string                `json:"jobId"`
	Kind       string                `json:"kind"`
	Partition  *Partition            `json:"partition"`
	Components [][]float64           `json:"components,omitempty"`
	Config     settings.TsvdSettings `json:"config"`
}

type wireResult struct {
	JobID        string       `json:"jobId"`
	Kind         string       `json:"kind"`
	PartitionKey string       `json:"partitionKey"`
	Index        int          `json:"index"`
	Worker       string       `json:"worker"`
	Gram         [][]float64  `json:"gram,omitempty"`
	Stats        *ColumnStats `json:"stats,omitempty"`
	Output       [][]float64  `json:"output,omitempty"`
	Err          string       `json:"err,omitempty"`
}

func (r *TaskRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireRequest{
		JobID:      r.JobID,
		Kind:       r.Kind,
		Partition:  r.Partition,
		Components: denseToRows(r.Components),
		Config:     r.Config,
	})
}

func (r *TaskRequest) UnmarshalJSON(data []byte) error {
	w := &wireRequest{}
	if err := json.Unmarshal(data, w); err != nil {
		return err
	}
	components, err := rowsToDense(w.Components)
	if err != nil {
		return err
	}
	r.JobID = w.JobID
	r.Kind = w.Kind
	r.Partition = w.Partition
	r.Components = components
	r.Config = w.Config
	return nil
}

func symToRows(s *mat.SymDense) [][]float64 {
	if s == nil || s.IsEmpty() {
		return nil
	}
	n := s.SymmetricDim()
	ret := make([][]float64, n)
	for i := 0; i < n; i++ {
		ret[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			ret[i][j] = s.At(i, j)
		}
	}
	return ret
}

func rowsToSym(rows [][]float64) (*mat.SymDense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	n := len(rows)
	ret := mat.NewSymDense(n, nil)
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("gram row %d has %d entries but expected %d", i, len(r), n)
		}
		for j := i; j < n; j++ {
			ret.SetSym(i, j, r[j])
		}
	}
	return ret, nil
}

func (r *TaskResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireResult{
		JobID:        r.JobID,
		Kind:         r.Kind,
		PartitionKey: r.PartitionKey,
		Index:        r.Index,
		Worker:       r.Worker,
		Gram:         symToRows(r.Gram),
		Stats:        r.Stats,
		Output:       denseToRows(r.Output),
		Err:          r.Err,
	})
}

func (r *TaskResult) UnmarshalJSON(data []byte) error {
	w := &wireResult{}
	if err := json.Unmarshal(data, w); err != nil {
		return err
	}
	gram, err := rowsToSym(w.Gram)
	if err != nil {
		return err
	}
	output, err := rowsToDense(w.Output)
	if err != nil {
		return err
	}
	r.JobID = w.JobID
	r.Kind = w.Kind
	r.PartitionKey = w.PartitionKey
	r.Index = w.Index
	r.Worker = w.Worker
	r.Gram = gram
	r.Stats = w.Stats
	r.Output = output
	r.Err = w.Err
	return nil
}
