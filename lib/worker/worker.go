// Package worker runs partition tasks against a model built for one worker.
package worker

import (
	"fmt"
	"log"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"gonum.org/v1/gonum/mat"
)

// A Model is the single-node half of a distributed decomposition.
type Model interface {
	PartialFit(m mat.Matrix) (*mat.SymDense, *datatypes.ColumnStats, error)
	FitFromGram(gram *mat.SymDense) error
	SetComponents(components *mat.Dense) error
	Transform(m mat.Matrix) (*mat.Dense, error)
	InverseTransform(m mat.Matrix) (*mat.Dense, error)
}

// A ModelFactory builds a model bound to a worker handle and output dtype.
type ModelFactory func(handle svd.Handle, dtype string, config settings.TsvdSettings) (Model, error)

// A Worker executes TaskRequests. It keeps no model between tasks.
type Worker struct {
	handle  svd.Handle
	factory ModelFactory
}

func NewWorker(handle svd.Handle, factory ModelFactory) *Worker {
	return &Worker{handle: handle, factory: factory}
}

func (w *Worker) Handle() svd.Handle {
	return w.handle
}

// Run executes req. Failures are reported in the result, never returned or panicked.
func (w *Worker) Run(req *datatypes.TaskRequest) *datatypes.TaskResult {
	res := &datatypes.TaskResult{
		JobID:  req.JobID,
		Kind:   req.Kind,
		Worker: w.handle.String(),
	}
	if req.Partition != nil {
		res.PartitionKey = req.Partition.Key
		res.Index = req.Partition.Index
	}
	if err := w.run(req, res); err != nil {
		log.Printf("worker %s: task %s on %s failed: %v\n", w.handle, req.Kind, res.PartitionKey, err)
		res.Err = err.Error()
	}
	return res
}

func (w *Worker) run(req *datatypes.TaskRequest, res *datatypes.TaskResult) error {
	if req.Partition == nil || req.Partition.Rows == nil || req.Partition.Rows.IsEmpty() {
		return fmt.Errorf("task %s has no partition data", req.Kind)
	}
	model, err := w.factory(w.handle, req.Config.OutputType, req.Config)
	if err != nil {
		return err
	}
	rows := req.Partition.Rows

	switch req.Kind {
	case datatypes.TASK_PARTIAL_FIT:
		gram, stats, err := model.PartialFit(rows)
		if err != nil {
			return err
		}
		res.Gram = gram
		res.Stats = stats
	case datatypes.TASK_TRANSFORM:
		if err = model.SetComponents(req.Components); err != nil {
			return err
		}
		out, err := model.Transform(rows)
		if err != nil {
			return err
		}
		res.Output = out
		res.Stats = datatypes.NewColumnStats(out)
	case datatypes.TASK_INVERSE_TRANSFORM:
		if err = model.SetComponents(req.Components); err != nil {
			return err
		}
		out, err := model.InverseTransform(rows)
		if err != nil {
			return err
		}
		res.Output = out
	default:
		return fmt.Errorf("unsupported task kind %q", req.Kind)
	}
	return nil
}
