package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventman_http_requests_total",
		Help: "Total number of API requests, labelled by method, collection and status code.",
	}, []string{"method", "collection", "code"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventman_http_request_duration_ms",
		Help:    "API request latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "collection"})

	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventman_triggers_fired_total",
		Help: "Total number of trigger actions accepted for dispatch, labelled by action.",
	}, []string{"action"})

	TriggersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventman_triggers_dropped_total",
		Help: "Total number of trigger actions or scripts rejected due to a full queue.",
	}, []string{"action"})

	TriggerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventman_trigger_runs_total",
		Help: "Total number of trigger scripts run, labelled by action and status (ok, error, timeout).",
	}, []string{"action", "status"})

	TriggerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventman_trigger_duration_ms",
		Help:    "Wall-clock trigger script run time in milliseconds.",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 30000, 60000},
	})

	TriggerQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventman_trigger_queue_utilization_ratio",
		Help: "Current trigger script queue utilization (0–1).",
	})
)
