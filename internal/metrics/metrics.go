package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autoposter"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	tasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Task records created by day scheduling.",
		},
	)

	jobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Jobs handed to the broker by job name and result.",
		},
		[]string{"job", "result"},
	)

	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Worker job outcomes by job name and outcome.",
		},
		[]string{"job", "outcome"},
	)

	tasksStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_stopped_total",
			Help:      "Task records moved to STOPPED.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, tasksScheduled, jobsDispatched, jobOutcomes, tasksStopped)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func AddScheduled(n int) {
	tasksScheduled.Add(float64(n))
}

func IncDispatch(job string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	jobsDispatched.WithLabelValues(job, result).Inc()
}

// IncOutcome records how a job run ended: completed, failed, stopped, skipped or retry.
func IncOutcome(job, outcome string) {
	jobOutcomes.WithLabelValues(job, outcome).Inc()
}

func AddStopped(n int64) {
	tasksStopped.Add(float64(n))
}
