package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"github.com/kpaschen/disttsvd/lib/worker"
	kafka "github.com/segmentio/kafka-go"
)

func decodeTaskMessage(msg kafka.Message, req *datatypes.TaskRequest) error {
	return json.Unmarshal(msg.Value, req)
}

func encodeResultMessage(res *datatypes.TaskResult) (kafka.Message, error) {
	valueBytes, err := json.Marshal(res)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%s", res.JobID, res.PartitionKey)),
		Value: valueBytes,
	}, nil
}

func main() {
	var kafkaURL string
	var tasksTopic string
	var resultsTopic string
	var groupID string
	var device int
	flag.StringVar(&kafkaURL, "kafkaURL", "", "The URL for the kafka broker.")
	flag.StringVar(&tasksTopic, "tasksTopic", settings.TASKS_TOPIC, "The topic to read partition tasks from.")
	flag.StringVar(&resultsTopic, "resultsTopic", settings.RESULTS_TOPIC, "The topic to write results to.")
	flag.StringVar(&groupID, "groupID", "disttsvd-workers", "The consumer group shared by all workers.")
	flag.IntVar(&device, "device", 0, "The device index of this worker.")
	flag.Parse()

	if kafkaURL == "" {
		log.Fatal("need a kafka url")
	}
	hostname, _ := os.Hostname()
	w := worker.NewWorker(svd.Handle{Worker: hostname, Device: device}, decomposition.ModelFactory())

	kafkaTaskReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{kafkaURL},
		GroupID: groupID,
		Topic:   tasksTopic,
	})
	defer kafkaTaskReader.Close()

	kafkaResultsWriter := &kafka.Writer{
		Addr:     kafka.TCP(kafkaURL),
		Topic:    resultsTopic,
		Balancer: &kafka.Hash{},
	}
	defer kafkaResultsWriter.Close()

	log.Printf("Kafka worker %s waiting for tasks\n", w.Handle())
	for {
		msg, err := kafkaTaskReader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("failed to read task message: %v\n", err)
			continue
		}
		log.Printf("received task message with key %s, partition %d\n", string(msg.Key[:]), msg.Partition)
		req := &datatypes.TaskRequest{}
		if err = decodeTaskMessage(msg, req); err != nil {
			log.Printf("failed to decode task message: %v\n", err)
			continue
		}

		res := w.Run(req)
		out, err := encodeResultMessage(res)
		if err != nil {
			log.Printf("error encoding result message: %v\n", err)
			continue
		}
		if err = kafkaResultsWriter.WriteMessages(context.Background(), out); err != nil {
			log.Printf("failed to send kafka result message: %v\n", err)
		} else {
			log.Printf("sent %s result for job %s partition %s\n", res.Kind, res.JobID, res.PartitionKey)
		}
	}
}
