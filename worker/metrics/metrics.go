package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	TasksSubmitted        *prometheus.CounterVec
	TasksFinished         *prometheus.CounterVec
	TasksRunning          prometheus.Gauge
	TasksQueued           prometheus.Gauge
	WorkerCapacity        prometheus.Gauge
	TranscriptionDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcription_tasks_submitted_total",
				Help: "Submissions by outcome (created or deduplicated)",
			},
			[]string{"outcome"},
		),
		TasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcription_tasks_finished_total",
				Help: "Tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		TasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_tasks_running",
			Help: "Engine invocations currently in progress",
		}),
		TasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_tasks_queued",
			Help: "Pending tasks waiting for a worker slot",
		}),
		WorkerCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_worker_pool_capacity",
			Help: "Maximum concurrent engine invocations",
		}),
		TranscriptionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcription_duration_seconds",
			Help:    "Wall time of engine invocations",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
	}

	reg.MustRegister(
		m.TasksSubmitted,
		m.TasksFinished,
		m.TasksRunning,
		m.TasksQueued,
		m.WorkerCapacity,
		m.TranscriptionDuration,
	)

	return m
}
