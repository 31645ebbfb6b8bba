package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardworker_requests_total",
			Help: "Total number of worker requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardworker_request_duration_seconds",
			Help:    "Worker request handling duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardworker_requests_in_flight",
			Help: "Number of worker requests currently being handled",
		},
	)

	syncFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardworker_sync_failures_total",
			Help: "Total number of failed background board uploads",
		},
	)

	storedBoards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardworker_boards",
			Help: "Number of boards in the local store",
		},
	)
)
