// Package decomposition contains the distributed estimators. An estimator
// scatters partition tasks to the workers of an engine and reduces their
// results into a model on the driver.
package decomposition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/logging"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"github.com/kpaschen/disttsvd/lib/worker"
	"gonum.org/v1/gonum/mat"
)

// DRIVER_WORKER names the handle of the model that lives on the driver.
const DRIVER_WORKER = "driver"

// NotFittedError is returned when transforming with an estimator that has not been fitted.
type NotFittedError struct {
	Estimator string
}

func (e NotFittedError) Error() string {
	return fmt.Sprintf("%s is not fitted yet, call Fit first", e.Estimator)
}

// The driver-side model also finishes the fit once the data has been transformed.
type driverModel interface {
	worker.Model
	SetExplainedVariance(transformed *datatypes.ColumnStats, input *datatypes.ColumnStats) error
}

// BaseDecomposition holds what every distributed estimator shares: the
// client, the factory that builds single-node models, the keyword
// hyperparameters and the fitted model.
type BaseDecomposition struct {
	name       string
	client     engine.Engine
	ownsClient bool
	modelFunc  worker.ModelFactory
	kwargs     settings.Params
	settings   settings.TsvdSettings
	log        logging.Level

	mu         sync.RWMutex
	localModel driverModel
}

func newBaseDecomposition(name string, client engine.Engine, modelFunc worker.ModelFactory, kwargs settings.Params) (*BaseDecomposition, error) {
	config, err := settings.Defaults().ApplyParams(kwargs)
	if err != nil {
		return nil, err
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}

	b := &BaseDecomposition{
		name:      name,
		client:    client,
		modelFunc: modelFunc,
		kwargs:    kwargs,
		settings:  config,
		log:       logging.Level(config.Verbose),
	}
	if b.client == nil {
		b.client, err = engine.New(config, modelFunc)
		if err != nil {
			return nil, fmt.Errorf("failed to create default client: %w", err)
		}
		b.ownsClient = true
	}
	return b, nil
}

// Close shuts down the client if the estimator created it.
func (b *BaseDecomposition) Close() error {
	if b.ownsClient {
		return b.client.Shutdown()
	}
	return nil
}

func (b *BaseDecomposition) model() driverModel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.localModel
}

func (b *BaseDecomposition) setModel(m driverModel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.localModel = m
}

// dtype is the input's dtype if it has one, otherwise the configured output type.
func (b *BaseDecomposition) dtype(X *datatypes.DistributedMatrix) string {
	if X.Dtype != "" {
		return X.Dtype
	}
	return b.settings.OutputType
}

func (b *BaseDecomposition) taskConfig(dtype string) settings.TsvdSettings {
	config := b.settings
	config.OutputType = dtype
	return config
}

func (b *BaseDecomposition) requests(kind string, X *datatypes.DistributedMatrix, components *mat.Dense, config settings.TsvdSettings) []*datatypes.TaskRequest {
	ret := make([]*datatypes.TaskRequest, len(X.Partitions))
	for i, p := range X.Partitions {
		ret[i] = &datatypes.TaskRequest{
			Kind:       kind,
			Partition:  p,
			Components: components,
			Config:     config,
		}
	}
	return ret
}

// syncFit fits a model on the partitions of X.
// Every worker computes the gram matrix and column statistics of its
// partitions, the driver sums them and factorizes the sum. With transform
// set, the fitted components are sent back out to transform X, and the
// statistics of the output give the explained variance.
func (b *BaseDecomposition) syncFit(ctx context.Context, X *datatypes.DistributedMatrix, transform bool) (*datatypes.DistributedMatrix, error) {
	if err := X.Check(); err != nil {
		return nil, err
	}
	start := time.Now()
	dtype := b.dtype(X)
	config := b.taskConfig(dtype)
	b.log.Infof("%s: fitting %d components on %d rows, %d columns in %d partitions\n",
		b.name, config.NComponents, X.Rows(), X.Columns(), len(X.Partitions))

	results, err := b.client.Run(ctx, b.requests(datatypes.TASK_PARTIAL_FIT, X, nil, config))
	if err != nil {
		return nil, fmt.Errorf("partial fit failed: %w", err)
	}
	n := X.Columns()
	gram := mat.NewSymDense(n, nil)
	inputStats := &datatypes.ColumnStats{}
	for _, res := range results {
		if res.Gram == nil || res.Stats == nil {
			return nil, fmt.Errorf("partial fit result for %s from %s is incomplete", res.PartitionKey, res.Worker)
		}
		if res.Gram.SymmetricDim() != n {
			return nil, fmt.Errorf("partial fit result for %s has dimension %d but expected %d",
				res.PartitionKey, res.Gram.SymmetricDim(), n)
		}
		gram.AddSym(gram, res.Gram)
		if err = inputStats.Merge(res.Stats); err != nil {
			return nil, err
		}
	}
	b.log.Debugf("%s: reduced %d partial fits\n", b.name, len(results))

	model, err := b.newDriverModel(dtype, config)
	if err != nil {
		return nil, err
	}
	if err = model.FitFromGram(gram); err != nil {
		return nil, err
	}

	var out *datatypes.DistributedMatrix
	if transform {
		var outputStats *datatypes.ColumnStats
		out, outputStats, err = b.runTransform(ctx, datatypes.TASK_TRANSFORM, X, model, config)
		if err != nil {
			return nil, err
		}
		if err = model.SetExplainedVariance(outputStats, inputStats); err != nil {
			return nil, err
		}
	}

	b.setModel(model)
	fitDurationHist.WithLabelValues(b.name).Observe(float64(time.Since(start).Milliseconds()))
	fittedComponents.WithLabelValues(b.name).Set(float64(config.NComponents))
	b.log.Infof("%s: fit done in %v\n", b.name, time.Since(start))
	return out, nil
}

func (b *BaseDecomposition) newDriverModel(dtype string, config settings.TsvdSettings) (driverModel, error) {
	m, err := b.modelFunc(svd.Handle{Worker: DRIVER_WORKER}, dtype, config)
	if err != nil {
		return nil, err
	}
	dm, ok := m.(driverModel)
	if !ok {
		return nil, fmt.Errorf("%s: model %T cannot be fitted on the driver", b.name, m)
	}
	return dm, nil
}

func (b *BaseDecomposition) fittedModel() (driverModel, error) {
	m := b.model()
	if m == nil {
		return nil, NotFittedError{Estimator: b.name}
	}
	return m, nil
}

// components returns the fitted components, or NotFittedError.
func (b *BaseDecomposition) components(m driverModel) (*mat.Dense, error) {
	if tsvd, ok := m.(*svd.TruncatedSVD); ok {
		if !tsvd.Fitted() {
			return nil, NotFittedError{Estimator: b.name}
		}
		return tsvd.Components, nil
	}
	return nil, fmt.Errorf("%s: model %T has no components", b.name, m)
}

// runTransform sends the fitted components out with every partition of X.
// For TASK_TRANSFORM it also returns the column statistics of the output,
// reduced from what the workers computed.
func (b *BaseDecomposition) runTransform(ctx context.Context, kind string, X *datatypes.DistributedMatrix, m driverModel, config settings.TsvdSettings) (*datatypes.DistributedMatrix, *datatypes.ColumnStats, error) {
	if err := X.Check(); err != nil {
		return nil, nil, err
	}
	components, err := b.components(m)
	if err != nil {
		return nil, nil, err
	}
	k, n := components.Dims()
	want := n
	if kind == datatypes.TASK_INVERSE_TRANSFORM {
		want = k
	}
	if X.Columns() != want {
		return nil, nil, fmt.Errorf("%s: input has %d columns but expected %d", kind, X.Columns(), want)
	}

	results, err := b.client.Run(ctx, b.requests(kind, X, components, config))
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w", kind, err)
	}
	out := &datatypes.DistributedMatrix{
		Partitions: make([]*datatypes.Partition, len(results)),
		Dtype:      config.OutputType,
	}
	var stats *datatypes.ColumnStats
	if kind == datatypes.TASK_TRANSFORM {
		stats = &datatypes.ColumnStats{}
	}
	for i, res := range results {
		if res.Output == nil {
			return nil, nil, fmt.Errorf("%s result for %s from %s has no output", kind, res.PartitionKey, res.Worker)
		}
		if stats != nil {
			if err = stats.Merge(res.Stats); err != nil {
				return nil, nil, fmt.Errorf("%s result for %s from %s: %w", kind, res.PartitionKey, res.Worker, err)
			}
		}
		out.Partitions[i] = &datatypes.Partition{
			Key:   X.Partitions[i].Key,
			Index: X.Partitions[i].Index,
			Rows:  res.Output,
		}
	}
	return out, stats, nil
}

func checkDims(nDims int) error {
	if nDims != 2 {
		return fmt.Errorf("only 2-d output is supported, got n_dims=%d", nDims)
	}
	return nil
}

// transform projects X onto the fitted components, partition by partition.
func (b *BaseDecomposition) transform(ctx context.Context, X *datatypes.DistributedMatrix, nDims int) (*datatypes.DistributedMatrix, error) {
	return b.transformDelayed(X, nDims, datatypes.TASK_TRANSFORM).Compute(ctx)
}

func (b *BaseDecomposition) inverseTransform(ctx context.Context, X *datatypes.DistributedMatrix, nDims int) (*datatypes.DistributedMatrix, error) {
	return b.transformDelayed(X, nDims, datatypes.TASK_INVERSE_TRANSFORM).Compute(ctx)
}

// transformDelayed binds the currently fitted model to X without running
// anything. Fitting again later does not change what the handle computes.
func (b *BaseDecomposition) transformDelayed(X *datatypes.DistributedMatrix, nDims int, kind string) *engine.Delayed[*datatypes.DistributedMatrix] {
	m, err := b.fittedModel()
	if err == nil {
		err = checkDims(nDims)
	}
	var config settings.TsvdSettings
	if X != nil {
		config = b.taskConfig(b.dtype(X))
	}
	return engine.NewDelayed(func(ctx context.Context) (*datatypes.DistributedMatrix, error) {
		if err != nil {
			return nil, err
		}
		if X == nil {
			return nil, fmt.Errorf("%s: no input", kind)
		}
		b.log.Debugf("%s: running %s on %d partitions\n", b.name, kind, len(X.Partitions))
		out, _, runErr := b.runTransform(ctx, kind, X, m, config)
		return out, runErr
	})
}
