package decomposition

import (
	"context"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"github.com/kpaschen/disttsvd/lib/worker"
	"gonum.org/v1/gonum/mat"
)

// TruncatedSVD is the distributed counterpart of svd.TruncatedSVD.
// Each worker builds its own single-node model with createTSVD; the
// estimator itself only forwards hyperparameters and data.
type TruncatedSVD struct {
	*BaseDecomposition
}

// NewTruncatedSVD creates the estimator. A nil client starts an in-process
// engine that is shut down by Close.
//
// Keyword hyperparameters: n_components, svd_solver, verbose, output_type.
func NewTruncatedSVD(client engine.Engine, kwargs ...settings.Param) (*TruncatedSVD, error) {
	base, err := newBaseDecomposition("TruncatedSVD", client, createTSVD, settings.Params(kwargs))
	if err != nil {
		return nil, err
	}
	return &TruncatedSVD{BaseDecomposition: base}, nil
}

// Fit fits the model with X. The training data is always transformed as
// well because explained variance comes from the transformed data.
func (t *TruncatedSVD) Fit(ctx context.Context, X *datatypes.DistributedMatrix) (*TruncatedSVD, error) {
	if _, err := t.syncFit(ctx, X, true); err != nil {
		return nil, err
	}
	return t, nil
}

// FitTransform fits the model with X and returns X in component space.
func (t *TruncatedSVD) FitTransform(ctx context.Context, X *datatypes.DistributedMatrix) (*datatypes.DistributedMatrix, error) {
	return t.syncFit(ctx, X, true)
}

// Transform reduces X to n_components columns.
func (t *TruncatedSVD) Transform(ctx context.Context, X *datatypes.DistributedMatrix) (*datatypes.DistributedMatrix, error) {
	return t.transform(ctx, X, 2)
}

// TransformDelayed returns a handle that computes Transform(X) on demand.
func (t *TruncatedSVD) TransformDelayed(X *datatypes.DistributedMatrix) *engine.Delayed[*datatypes.DistributedMatrix] {
	return t.transformDelayed(X, 2, datatypes.TASK_TRANSFORM)
}

// InverseTransform maps X back into the original feature space.
func (t *TruncatedSVD) InverseTransform(ctx context.Context, X *datatypes.DistributedMatrix) (*datatypes.DistributedMatrix, error) {
	return t.inverseTransform(ctx, X, 2)
}

func (t *TruncatedSVD) InverseTransformDelayed(X *datatypes.DistributedMatrix) *engine.Delayed[*datatypes.DistributedMatrix] {
	return t.transformDelayed(X, 2, datatypes.TASK_INVERSE_TRANSFORM)
}

// GetParamNames lists the keyword hyperparameters the estimator was created with.
func (t *TruncatedSVD) GetParamNames() []string {
	return t.kwargs.Names()
}

// Params returns the keyword hyperparameters the estimator was created with.
func (t *TruncatedSVD) Params() settings.Params {
	ret := make(settings.Params, len(t.kwargs))
	copy(ret, t.kwargs)
	return ret
}

func (t *TruncatedSVD) Settings() settings.TsvdSettings {
	return t.settings
}

func (t *TruncatedSVD) fitted() *svd.TruncatedSVD {
	m, ok := t.model().(*svd.TruncatedSVD)
	if !ok || !m.Fitted() {
		return nil
	}
	return m
}

// Components returns the fitted k x n_features components.
func (t *TruncatedSVD) Components() (*mat.Dense, error) {
	m := t.fitted()
	if m == nil {
		return nil, NotFittedError{Estimator: t.name}
	}
	return mat.DenseCopyOf(m.Components), nil
}

func (t *TruncatedSVD) SingularValues() ([]float64, error) {
	m := t.fitted()
	if m == nil {
		return nil, NotFittedError{Estimator: t.name}
	}
	return append([]float64(nil), m.SingularValues...), nil
}

func (t *TruncatedSVD) ExplainedVariance() ([]float64, error) {
	m := t.fitted()
	if m == nil {
		return nil, NotFittedError{Estimator: t.name}
	}
	return append([]float64(nil), m.ExplainedVariance...), nil
}

func (t *TruncatedSVD) ExplainedVarianceRatio() ([]float64, error) {
	m := t.fitted()
	if m == nil {
		return nil, NotFittedError{Estimator: t.name}
	}
	return append([]float64(nil), m.ExplainedVarianceRatio...), nil
}

// createTSVD builds the single-node model a worker runs partition tasks with.
func createTSVD(handle svd.Handle, datatype string, config settings.TsvdSettings) (worker.Model, error) {
	model, err := svd.New(handle, datatype, config)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// ModelFactory is the factory remote workers need to run TruncatedSVD tasks.
func ModelFactory() worker.ModelFactory {
	return createTSVD
}
