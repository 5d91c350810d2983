package decomposition

import (
	"fmt"
	"time"

	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"gonum.org/v1/gonum/mat"
)

// A Snapshot is a fitted TruncatedSVD in a form that can be stored and
// loaded into a new estimator.
type Snapshot struct {
	Params                 settings.Params `json:"params"`
	Dtype                  string          `json:"dtype"`
	Components             [][]float64     `json:"components"`
	SingularValues         []float64       `json:"singularValues"`
	ExplainedVariance      []float64       `json:"explainedVariance"`
	ExplainedVarianceRatio []float64       `json:"explainedVarianceRatio"`
	FittedAt               time.Time       `json:"fittedAt"`
}

func (t *TruncatedSVD) Snapshot() (*Snapshot, error) {
	m := t.fitted()
	if m == nil {
		return nil, NotFittedError{Estimator: t.name}
	}
	r, _ := m.Components.Dims()
	components := make([][]float64, r)
	for i := 0; i < r; i++ {
		components[i] = append([]float64(nil), m.Components.RawRowView(i)...)
	}
	return &Snapshot{
		Params:                 t.Params(),
		Dtype:                  m.Dtype,
		Components:             components,
		SingularValues:         append([]float64(nil), m.SingularValues...),
		ExplainedVariance:      append([]float64(nil), m.ExplainedVariance...),
		ExplainedVarianceRatio: append([]float64(nil), m.ExplainedVarianceRatio...),
		FittedAt:               time.Now().UTC(),
	}, nil
}

// Restore creates an estimator on client that is already fitted with the model in s.
func Restore(client engine.Engine, s *Snapshot) (*TruncatedSVD, error) {
	if s == nil || len(s.Components) == 0 {
		return nil, fmt.Errorf("snapshot has no components")
	}
	t, err := NewTruncatedSVD(client, s.Params...)
	if err != nil {
		return nil, err
	}
	n := len(s.Components[0])
	data := make([]float64, 0, len(s.Components)*n)
	for i, row := range s.Components {
		if len(row) != n {
			return nil, fmt.Errorf("component %d has %d entries but component 0 has %d", i, len(row), n)
		}
		data = append(data, row...)
	}
	model, err := t.newDriverModel(s.Dtype, t.taskConfig(s.Dtype))
	if err != nil {
		return nil, err
	}
	if err = model.SetComponents(mat.NewDense(len(s.Components), n, data)); err != nil {
		return nil, err
	}
	tsvd, ok := model.(*svd.TruncatedSVD)
	if !ok {
		return nil, fmt.Errorf("cannot restore a snapshot into %T", model)
	}
	tsvd.SingularValues = s.SingularValues
	tsvd.ExplainedVariance = s.ExplainedVariance
	tsvd.ExplainedVarianceRatio = s.ExplainedVarianceRatio
	t.setModel(tsvd)
	return t, nil
}
