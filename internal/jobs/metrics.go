// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Task outcomes. A retried task is handed back to asynq; a dropped task
// returned an error wrapping asynq.SkipRetry and will not run again.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusDropped = "dropped"
)

// Metrics holds the task collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the task metrics against registerer, or against the
// default registerer once per process when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments a single task run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts a tracker for the task type. Safe on a nil receiver.
func (m *Metrics) Track(task string) *Tracker {
	t := &Tracker{metrics: m, task: task, start: time.Now()}
	if m != nil {
		m.inflight.WithLabelValues(task).Inc()
	}
	return t
}

// End records duration and outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	t.metrics.inflight.WithLabelValues(t.task).Dec()
	t.metrics.runs.WithLabelValues(t.task, Status(err)).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

// Status classifies a handler result.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusDropped
	default:
		return StatusRetry
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_tasks_total",
		Help: "Processed cleanup tasks by type and outcome.",
	}, []string{"task", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identity_task_duration_seconds",
		Help:    "Task handler latency by type.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"task"})
	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "identity_tasks_inflight",
		Help: "Task handlers currently running by type.",
	}, []string{"task"})
	registerer.MustRegister(runs, duration, inflight)
	return &Metrics{runs: runs, duration: duration, inflight: inflight}
}
