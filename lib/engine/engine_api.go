// Package engine contains the execution engines that run partition tasks
// on workers.
package engine

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/worker"
)

// An engine takes task requests, runs them on its workers and returns the results.
type Engine interface {

	// Initialize provides the engine with the settings and the model factory
	// its workers build models with.
	Initialize(config settings.TsvdSettings, factory worker.ModelFactory) error

	// Workers lists the workers the engine knows about.
	Workers() []string

	// Run executes the requests and returns one result per request, in
	// request order. It fails with a TaskError if any task failed.
	Run(ctx context.Context, requests []*datatypes.TaskRequest) ([]*datatypes.TaskResult, error)

	// Shutdown gives the engine a chance to cancel running computations when it is deleted.
	Shutdown() error
}

// A TaskError is a failure reported by a worker for one partition.
type TaskError struct {
	Kind         string
	PartitionKey string
	Worker       string
	Err          error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s on partition %s (worker %s) failed: %v", e.Kind, e.PartitionKey, e.Worker, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Placement returns the worker index for a partition key.
// The same key always lands on the same worker.
func Placement(key string, workerCount int) int {
	if workerCount <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(workerCount))
}

// New creates and initializes the engine named in config.
func New(config settings.TsvdSettings, factory worker.ModelFactory) (Engine, error) {
	var e Engine
	switch config.Engine {
	case settings.ENGINE_INPROCESS, "":
		e = &InProcessEngine{}
	case settings.ENGINE_KAFKA:
		e = &KafkaEngine{}
	default:
		return nil, fmt.Errorf("unsupported engine %q", config.Engine)
	}
	if err := e.Initialize(config, factory); err != nil {
		return nil, err
	}
	return e, nil
}

func checkResult(res *datatypes.TaskResult) error {
	if err := res.Error(); err != nil {
		taskFailures.WithLabelValues(res.Kind).Inc()
		return TaskError{Kind: res.Kind, PartitionKey: res.PartitionKey, Worker: res.Worker, Err: err}
	}
	return nil
}
