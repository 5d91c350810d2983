package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/worker"
	kafka "github.com/segmentio/kafka-go"
)

// A KafkaEngine sends partition tasks as kafka messages for
// workers to pick up and process. It then listens for the
// results.
type KafkaEngine struct {
	config settings.TsvdSettings

	taskWriter   *kafka.Writer
	resultReader *kafka.Reader
	runnerCtx    context.Context
	runnerCancel context.CancelFunc

	// pending maps job ids to the channel the Run call for that job waits on.
	pendingMu sync.Mutex
	pending   map[string]chan *datatypes.TaskResult
}

// The factory is not used here: kafka workers build their own models.
func (k *KafkaEngine) Initialize(config settings.TsvdSettings, _ worker.ModelFactory) error {
	if config.KafkaURL == "" {
		return fmt.Errorf("kafka engine needs a kafka url")
	}
	k.config = config
	k.pending = make(map[string]chan *datatypes.TaskResult)
	k.taskWriter = &kafka.Writer{
		Addr:  kafka.TCP(config.KafkaURL),
		Topic: config.TasksTopic,
		// Hashing the partition key keeps a partition on the same kafka
		// partition, and so on the same worker.
		Balancer: &kafka.Hash{},
	}
	k.resultReader = kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{config.KafkaURL},
		GroupID: resultsGroupID(),
		Topic:   config.ResultsTopic,
		// Results from before this driver started belong to other drivers.
		StartOffset: kafka.LastOffset,
	})

	k.runnerCtx, k.runnerCancel = context.WithCancel(context.Background())
	go func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				log.Printf("result reader stopped\n")
				return
			default:
				msg, err := k.resultReader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("error getting result message: %v\n", err)
					}
					continue
				}
				if err = k.handleResultMessage(msg); err != nil {
					log.Printf("error handling result message: %v\n", err)
				}
			}
		}
	}(k.runnerCtx)
	log.Printf("kafka engine initialized with url %s\n", config.KafkaURL)
	return nil
}

// Every driver reads the whole results topic in a consumer group of its own,
// so drivers sharing a topic do not take each other's results away.
// Results for jobs a driver did not start are dropped in handleResultMessage.
func resultsGroupID() string {
	return "disttsvd-driver-" + uuid.NewString()
}

func (k *KafkaEngine) Workers() []string {
	return []string{fmt.Sprintf("kafka://%s/%s", k.config.KafkaURL, k.config.TasksTopic)}
}

func (k *KafkaEngine) Run(ctx context.Context, requests []*datatypes.TaskRequest) ([]*datatypes.TaskResult, error) {
	if k.taskWriter == nil {
		return nil, fmt.Errorf("kafka engine is not initialized")
	}
	if len(requests) == 0 {
		return nil, nil
	}
	start := time.Now()
	kind := batchKind(requests)
	defer observeBatch(kind, start)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(k.config.TaskTimeout)*time.Second)
	defer cancel()

	jobID := uuid.NewString()
	indices := make(map[string]int, len(requests))
	msgs := make([]kafka.Message, 0, len(requests))
	for i, req := range requests {
		req.JobID = jobID
		msg, err := encodeRequest(req)
		if err != nil {
			return nil, err
		}
		indices[string(msg.Key)] = i
		msgs = append(msgs, msg)
	}
	if len(indices) != len(requests) {
		return nil, fmt.Errorf("partition keys in job %s are not unique", jobID)
	}

	results := k.register(jobID, len(requests))
	defer k.unregister(jobID)

	if err := k.taskWriter.WriteMessages(ctx, msgs...); err != nil {
		return nil, fmt.Errorf("failed to send tasks for job %s: %w", jobID, err)
	}
	tasksSubmitted.WithLabelValues(kind).Add(float64(len(msgs)))
	log.Printf("sent %d %s tasks for job %s\n", len(msgs), kind, jobID)

	ret := make([]*datatypes.TaskResult, len(requests))
	received := 0
	for received < len(requests) {
		select {
		case res := <-results:
			i, ok := indices[res.PartitionKey]
			if !ok {
				log.Printf("job %s: ignoring result for unknown partition %s\n", jobID, res.PartitionKey)
				continue
			}
			if ret[i] != nil {
				// kafka delivers at least once
				continue
			}
			if err := checkResult(res); err != nil {
				return nil, err
			}
			ret[i] = res
			received++
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s: got %d of %d results: %w", jobID, received, len(requests), ctx.Err())
		}
	}
	return ret, nil
}

func (k *KafkaEngine) register(jobID string, size int) <-chan *datatypes.TaskResult {
	k.pendingMu.Lock()
	defer k.pendingMu.Unlock()
	ch := make(chan *datatypes.TaskResult, size)
	k.pending[jobID] = ch
	return ch
}

func (k *KafkaEngine) unregister(jobID string) {
	k.pendingMu.Lock()
	defer k.pendingMu.Unlock()
	delete(k.pending, jobID)
}

func (k *KafkaEngine) handleResultMessage(msg kafka.Message) error {
	res := &datatypes.TaskResult{}
	if err := json.Unmarshal(msg.Value, res); err != nil {
		return err
	}
	k.pendingMu.Lock()
	ch, ok := k.pending[res.JobID]
	k.pendingMu.Unlock()
	if !ok {
		log.Printf("dropping result for finished or unknown job %s\n", res.JobID)
		return nil
	}
	select {
	case ch <- res:
	default:
		log.Printf("dropping surplus result for job %s partition %s\n", res.JobID, res.PartitionKey)
	}
	return nil
}

func encodeRequest(req *datatypes.TaskRequest) (kafka.Message, error) {
	if req.Partition == nil {
		return kafka.Message{}, fmt.Errorf("task %s has no partition", req.Kind)
	}
	b, err := json.Marshal(req)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(req.Partition.Key),
		Value: b,
	}, nil
}

func (k *KafkaEngine) Shutdown() error {
	log.Println("Kafka engine shutting down")
	if k.runnerCancel != nil {
		k.runnerCancel()
	}
	if k.taskWriter != nil {
		k.taskWriter.Close()
	}
	if k.resultReader != nil {
		k.resultReader.Close()
	}
	return nil
}
