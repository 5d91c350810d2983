package ingest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func TestAddObservation(t *testing.T) {
	acc := NewAccumulator(4, 10*time.Second)
	start := time.Unix(1700000000, 0).UTC()
	add := func(fp uint64, offsetSeconds int, value float64) {
		acc.AddObservation(&Observation{
			MetricFingerprint: fp,
			MetricName:        "ts",
			Value:             value,
			Timestamp:         start.Add(time.Duration(offsetSeconds) * time.Second),
		})
	}
	add(1, 0, 1)
	add(1, 10, 2)
	add(1, 10, 7) // same slot, ignored
	add(1, 5, 7)  // backfill, ignored
	add(2, 0, 5)

	if acc.Len() != 2 {
		t.Fatalf("expected 2 timeseries but got %d", acc.Len())
	}
	if len(acc.buffers[0]) != 2 || acc.buffers[0][1] != 2 {
		t.Errorf("unexpected buffer for row 0: %v", acc.buffers[0])
	}

	// A gap of two samples is filled with the last value, and the
	// oldest sample falls out of the window.
	add(1, 40, 3)
	expected := []float64{2, 2, 2, 3}
	for i, v := range expected {
		if acc.buffers[0][i] != v {
			t.Errorf("expected %v but got %v", expected, acc.buffers[0])
			break
		}
	}
	add(1, 50, 4)
	expected = []float64{2, 2, 3, 4}
	for i, v := range expected {
		if acc.buffers[0][i] != v {
			t.Errorf("expected %v but got %v", expected, acc.buffers[0])
			break
		}
	}
}

func TestSnapshot(t *testing.T) {
	acc := NewAccumulator(3, time.Second)
	if _, _, err := acc.Snapshot(1, ""); err == nil {
		t.Errorf("expected an error for an empty accumulator")
	}
	now := time.Now()
	acc.AddObservation(&Observation{MetricFingerprint: 7, MetricName: "a", Value: 1, Timestamp: now})
	acc.AddObservation(&Observation{MetricFingerprint: 8, MetricName: "b", Value: 2, Timestamp: now})
	acc.AddObservation(&Observation{MetricFingerprint: 8, MetricName: "b", Value: 3, Timestamp: now.Add(time.Second)})

	m, tsids, err := acc.Snapshot(2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tsids) != 2 || tsids[1].MetricName != "b" {
		t.Errorf("unexpected tsids %v", tsids)
	}
	data, _ := m.Compute()
	r, c := data.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("expected a 2x3 matrix but got %dx%d", r, c)
	}
	if data.At(0, 2) != 1 || data.At(1, 1) != 3 || data.At(1, 2) != 3 {
		t.Errorf("unexpected snapshot data %v", data.RawMatrix().Data)
	}
}

func TestReceivePrometheusData(t *testing.T) {
	receiver := NewReceiver(NewAccumulator(5, 20*time.Second))
	req := &prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{
			{
				Labels:  []prompb.Label{{Name: "__name__", Value: "up"}, {Name: "job", Value: "a"}},
				Samples: []prompb.Sample{{Value: 1, Timestamp: 1700000000000}, {Value: 0, Timestamp: 1700000020000}},
			},
			{
				Labels:  []prompb.Label{{Name: "__name__", Value: "up"}, {Name: "job", Value: "b"}},
				Samples: []prompb.Sample{{Value: 1, Timestamp: 1700000000000}},
			},
		},
	}
	data, err := req.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal write request: %v", err)
	}
	body := snappy.Encode(nil, data)

	w := httptest.NewRecorder()
	receiver.ReceivePrometheusData(w, httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(body)))
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204 but got %d: %s", w.Code, w.Body.String())
	}
	if receiver.Accumulator.Len() != 2 {
		t.Errorf("expected 2 timeseries but got %d", receiver.Accumulator.Len())
	}

	w = httptest.NewRecorder()
	receiver.ReceivePrometheusData(w, httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader([]byte("garbage"))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for garbage but got %d", w.Code)
	}
}
