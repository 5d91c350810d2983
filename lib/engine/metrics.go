package engine

import (
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disttsvd_tasks_submitted_total",
			Help: "Total number of partition tasks handed to workers.",
		},
		[]string{"kind"},
	)
	taskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disttsvd_task_failures_total",
			Help: "Total number of partition tasks that came back with an error.",
		},
		[]string{"kind"},
	)
	taskDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "disttsvd_task_duration_milliseconds_histogram",
			Help:                            "Duration of a batch of partition tasks.",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  10,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"kind"},
	)
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "disttsvd_in_process_workers",
			Help: "Number of in-process workers.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(taskFailures)
	prometheus.MustRegister(taskDurationHist)
	prometheus.MustRegister(activeWorkers)
}

func observeBatch(kind string, start time.Time) {
	taskDurationHist.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
}

func batchKind(requests []*datatypes.TaskRequest) string {
	if len(requests) == 0 {
		return "none"
	}
	return requests[0].Kind
}
