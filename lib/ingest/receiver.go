package ingest

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/prompb"
	"github.com/prometheus/prometheus/storage/remote"
)

var (
	receivedSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "disttsvd_received_samples_total",
			Help: "Total number of received samples.",
		},
	)
	numberOfTimeseries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "disttsvd_number_of_timeseries",
			Help: "number of timeseries",
		},
	)
)

func init() {
	prometheus.MustRegister(receivedSamples)
	prometheus.MustRegister(numberOfTimeseries)
}

// A Receiver feeds remote-write requests into an Accumulator.
type Receiver struct {
	Accumulator *Accumulator
}

func NewReceiver(acc *Accumulator) *Receiver {
	return &Receiver{Accumulator: acc}
}

func (r *Receiver) ObserveTs(req *prompb.WriteRequest) error {
	for _, ts := range req.Timeseries {
		metric := make(model.Metric, len(ts.Labels))
		for _, l := range ts.Labels {
			metric[model.LabelName(l.Name)] = model.LabelValue(l.Value)
		}
		mjson, err := json.Marshal(metric)
		if err != nil {
			return err
		}
		metricName := string(mjson)
		fingerprint := (uint64)(metric.Fingerprint())
		for _, s := range ts.Samples {
			r.Accumulator.AddObservation(&Observation{
				MetricFingerprint: fingerprint,
				MetricName:        metricName,
				Value:             s.Value,
				Timestamp:         time.UnixMilli(s.Timestamp).UTC(),
			})
		}
		receivedSamples.Add(float64(len(ts.Samples)))
	}
	numberOfTimeseries.Set(float64(r.Accumulator.Len()))
	return nil
}

func (r *Receiver) ReceivePrometheusData(w http.ResponseWriter, req *http.Request) {
	writeRequest, err := remote.DecodeWriteRequest(req.Body)
	if err != nil {
		log.Printf("failed to decode write request: %v\n", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = r.ObserveTs(writeRequest); err != nil {
		log.Printf("failed to observe write request: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
