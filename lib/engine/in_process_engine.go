package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"github.com/kpaschen/disttsvd/lib/worker"
)

type job struct {
	ctx     context.Context
	index   int
	request *datatypes.TaskRequest
	results chan<- indexedResult
}

type indexedResult struct {
	index  int
	result *datatypes.TaskResult
}

// An InProcessEngine implements Engine with one goroutine per worker.
type InProcessEngine struct {
	config  settings.TsvdSettings
	workers []*worker.Worker
	queues  []chan *job

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func (e *InProcessEngine) Initialize(config settings.TsvdSettings, factory worker.ModelFactory) error {
	if factory == nil {
		return fmt.Errorf("in process engine needs a model factory")
	}
	if config.Workers < 1 {
		return fmt.Errorf("need at least one worker but got %d", config.Workers)
	}
	e.config = config
	e.stop = make(chan struct{})
	e.workers = make([]*worker.Worker, config.Workers)
	e.queues = make([]chan *job, config.Workers)
	for i := 0; i < config.Workers; i++ {
		handle := svd.Handle{Worker: fmt.Sprintf("inprocess-%d", i), Device: i}
		e.workers[i] = worker.NewWorker(handle, factory)
		e.queues[i] = make(chan *job, 16)
		e.wg.Add(1)
		go e.runWorker(e.workers[i], e.queues[i])
	}
	activeWorkers.Set(float64(config.Workers))
	log.Printf("in process engine started %d workers\n", config.Workers)
	return nil
}

func (e *InProcessEngine) runWorker(w *worker.Worker, queue <-chan *job) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case j := <-queue:
			var res *datatypes.TaskResult
			if err := j.ctx.Err(); err != nil {
				res = &datatypes.TaskResult{
					JobID:  j.request.JobID,
					Kind:   j.request.Kind,
					Worker: w.Handle().String(),
					Err:    err.Error(),
				}
			} else {
				res = w.Run(j.request)
			}
			// results is buffered for the whole batch, so this never blocks.
			j.results <- indexedResult{index: j.index, result: res}
		}
	}
}

func (e *InProcessEngine) Workers() []string {
	ret := make([]string, len(e.workers))
	for i, w := range e.workers {
		ret[i] = w.Handle().String()
	}
	return ret
}

func (e *InProcessEngine) Run(ctx context.Context, requests []*datatypes.TaskRequest) ([]*datatypes.TaskResult, error) {
	if len(e.workers) == 0 {
		return nil, fmt.Errorf("in process engine is not initialized")
	}
	if len(requests) == 0 {
		return nil, nil
	}
	start := time.Now()
	kind := batchKind(requests)
	defer observeBatch(kind, start)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobID := uuid.NewString()
	results := make(chan indexedResult, len(requests))
	for i, req := range requests {
		if req.JobID == "" {
			req.JobID = jobID
		}
		key := ""
		if req.Partition != nil {
			key = req.Partition.Key
		}
		queue := e.queues[Placement(key, len(e.queues))]
		select {
		case queue <- &job{ctx: ctx, index: i, request: req, results: results}:
			tasksSubmitted.WithLabelValues(req.Kind).Inc()
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.stop:
			return nil, fmt.Errorf("in process engine is shut down")
		}
	}

	ret := make([]*datatypes.TaskResult, len(requests))
	for received := 0; received < len(requests); received++ {
		select {
		case r := <-results:
			if err := checkResult(r.result); err != nil {
				// Cancelling makes the remaining tasks of this batch no-ops.
				return nil, err
			}
			ret[r.index] = r.result
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.stop:
			return nil, fmt.Errorf("in process engine shut down with %d tasks outstanding", len(requests)-received)
		}
	}
	return ret, nil
}

func (e *InProcessEngine) Shutdown() error {
	e.stopOnce.Do(func() {
		log.Println("in process engine shutting down")
		if e.stop != nil {
			close(e.stop)
		}
		e.wg.Wait()
		activeWorkers.Set(0)
	})
	return nil
}
