package main

import (
	"encoding/json"
	"testing"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/svd"
	"github.com/kpaschen/disttsvd/lib/worker"
	kafka "github.com/segmentio/kafka-go"
	"gonum.org/v1/gonum/mat"
)

func TestTaskRoundTrip(t *testing.T) {
	req := &datatypes.TaskRequest{
		JobID: "job-1",
		Kind:  datatypes.TASK_PARTIAL_FIT,
		Partition: &datatypes.Partition{
			Key:   "part-3",
			Index: 3,
			Rows:  mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
		},
		Config: settings.Defaults(),
	}
	value, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	decoded := &datatypes.TaskRequest{}
	if err = decodeTaskMessage(kafka.Message{Value: value}, decoded); err != nil {
		t.Fatalf("failed to decode task message: %v", err)
	}

	w := worker.NewWorker(svd.Handle{Worker: "test"}, decomposition.ModelFactory())
	res := w.Run(decoded)
	if res.Err != "" {
		t.Fatalf("unexpected task error: %s", res.Err)
	}
	msg, err := encodeResultMessage(res)
	if err != nil {
		t.Fatalf("failed to encode result: %v", err)
	}
	if string(msg.Key) != "job-1-part-3" {
		t.Errorf("unexpected result key %s", string(msg.Key))
	}
	back := &datatypes.TaskResult{}
	if err = json.Unmarshal(msg.Value, back); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if back.Index != 3 || back.Gram.At(0, 1) != 14 {
		t.Errorf("unexpected result %+v", back)
	}
}
