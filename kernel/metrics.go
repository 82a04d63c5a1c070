package kernel

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/agentboard/model"
)

// Metrics holds the kernel's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	DispatchCycles  prometheus.Counter
	TasksDispatched *prometheus.CounterVec
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	TasksRetried    prometheus.Counter
	EngineFallbacks prometheus.Counter
	ReviewsApproved prometheus.Counter
	ReviewsBounced  prometheus.Counter
	MergeConflicts  prometheus.Counter
	WorkerTimeouts  prometheus.Counter

	WorkersIdle  prometheus.Gauge
	WorkersBusy  prometheus.Gauge
	WorkersError prometheus.Gauge
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_dispatch_cycles_total",
			Help: "Dispatch cycles executed.",
		}),
		TasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentboard_tasks_dispatched_total",
			Help: "Tasks dispatched to workers, by engine.",
		}, []string{"engine"}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_tasks_completed_total",
			Help: "Tasks completed successfully.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_tasks_failed_total",
			Help: "Tasks that exhausted their retries.",
		}),
		TasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_tasks_retried_total",
			Help: "Automatic retries scheduled.",
		}),
		EngineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_engine_fallbacks_total",
			Help: "Tasks rerouted to the opposite engine.",
		}),
		ReviewsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_reviews_approved_total",
			Help: "Review verdicts that approved the parent task.",
		}),
		ReviewsBounced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_reviews_bounced_total",
			Help: "Review verdicts that requested changes.",
		}),
		MergeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_merge_conflicts_total",
			Help: "Task branch merges aborted on conflicts.",
		}),
		WorkerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentboard_worker_timeouts_total",
			Help: "Workers moved to error on heartbeat timeout.",
		}),
		WorkersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentboard_workers_idle",
			Help: "Workers currently idle.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentboard_workers_busy",
			Help: "Workers currently executing a task.",
		}),
		WorkersError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentboard_workers_error",
			Help: "Workers currently in error.",
		}),
	}
	m.registry.MustRegister(
		m.DispatchCycles, m.TasksDispatched, m.TasksCompleted, m.TasksFailed,
		m.TasksRetried, m.EngineFallbacks, m.ReviewsApproved, m.ReviewsBounced,
		m.MergeConflicts, m.WorkerTimeouts,
		m.WorkersIdle, m.WorkersBusy, m.WorkersError,
	)
	return m
}

// Registry exposes the private registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// updateWorkerGauges refreshes the pool gauges from current state.
func (k *Kernel) updateWorkerGauges() {
	k.mu.Lock()
	defer k.mu.Unlock()
	var idle, busy, errored float64
	for _, w := range k.workers {
		switch w.Status {
		case model.WorkerIdle:
			idle++
		case model.WorkerBusy:
			busy++
		case model.WorkerError:
			errored++
		}
	}
	k.metrics.WorkersIdle.Set(idle)
	k.metrics.WorkersBusy.Set(busy)
	k.metrics.WorkersError.Set(errored)
}
