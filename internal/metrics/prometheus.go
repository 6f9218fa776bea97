// Package metrics exposes the Consumer core's Prometheus instrumentation
// (spec's ambient stack): dispatch outcomes, QoS/prefetch level, and
// ETA-scheduling delay, mirroring the teacher's promauto-based registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts every delivery the task-consumer step's
	// dispatch callback classifies, by outcome: ok, unknown_task,
	// invalid_task, unknown_format, decode_error.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskconsumer_dispatch_total",
			Help: "Total number of broker deliveries classified by the consumer, by outcome",
		},
		[]string{"outcome"},
	)

	// TasksReservedTotal counts tasks reserved against the in-flight
	// budget, split between immediate and ETA-scheduled handoff.
	TasksReservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskconsumer_tasks_reserved_total",
			Help: "Total number of tasks reserved for the ready queue, by path",
		},
		[]string{"path"},
	)

	// ReadyQueueDropsTotal counts tasks dropped because the ready queue
	// was full at the moment of handoff.
	ReadyQueueDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskconsumer_ready_queue_drops_total",
			Help: "Total number of tasks dropped because the ready queue was full",
		},
	)

	// PrefetchCount mirrors the currently advertised QoS/prefetch value.
	PrefetchCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskconsumer_prefetch_count",
			Help: "Currently advertised broker prefetch count",
		},
	)

	// ETAScheduleDelay observes how far in the future an ETA task was
	// scheduled at the moment it was handed to the timer.
	ETAScheduleDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskconsumer_eta_schedule_delay_seconds",
			Help:    "Seconds between on_task and an ETA task's scheduled deadline",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3 days
		},
	)

	// ConnectionRetriesTotal counts broker connection retry attempts
	// made by the connection step's retry combinator.
	ConnectionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskconsumer_connection_retries_total",
			Help: "Total number of broker connection retry attempts",
		},
	)

	// ConsumerRestartsTotal counts namespace restarts triggered by a
	// recoverable broker error in the supervisory loop.
	ConsumerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskconsumer_restarts_total",
			Help: "Total number of supervisory-loop restarts after a recoverable broker error",
		},
	)

	// PoolWorkersActive tracks how many demo-pool worker goroutines are
	// currently handling a task taken from the ready queue.
	PoolWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskconsumer_pool_workers_active",
			Help: "Number of demo execution-pool worker goroutines currently handling a task",
		},
	)

	// PoolExecutionsTotal counts ready-queue tasks the demo pool finished
	// handling, by outcome.
	PoolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskconsumer_pool_executions_total",
			Help: "Total number of ready-queue tasks handled by the demo execution pool, by outcome",
		},
		[]string{"outcome"},
	)
)
