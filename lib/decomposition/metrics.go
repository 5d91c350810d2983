package decomposition

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fitDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "disttsvd_fit_duration_milliseconds_histogram",
			Help:                            "Duration of a distributed fit.",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  10,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"estimator"},
	)
	fittedComponents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "disttsvd_fitted_components",
			Help: "Number of components in the most recently fitted model.",
		},
		[]string{"estimator"},
	)
)

func init() {
	prometheus.MustRegister(fitDurationHist)
	prometheus.MustRegister(fittedComponents)
}
