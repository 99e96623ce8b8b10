// Package rtmetrics exposes Prometheus instrumentation for the task
// runtime: package-level gauges and counters registered through
// promauto at init time.
package rtmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksLive tracks the current number of live (spawned, not yet
	// reclaimed) tasks across all pools.
	TasksLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskrt",
		Name:      "tasks_live",
		Help:      "Number of live tasks across all worker pools.",
	})

	// TasksCompleted counts tasks that returned normally from run().
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "tasks_completed_total",
		Help:      "Number of tasks that completed normally.",
	})

	// TasksAborted counts tasks that called abort().
	TasksAborted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "tasks_aborted_total",
		Help:      "Number of tasks that aborted.",
	})

	// AdmissionQueueDepth tracks the bounded admission ring's occupancy.
	AdmissionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskrt",
		Name:      "admission_queue_depth",
		Help:      "Current number of command buffers queued for admission.",
	})

	// AdmissionBlocked counts submitter blocking events due to a full ring.
	AdmissionBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "admission_blocked_total",
		Help:      "Number of times a submitter blocked on a full admission ring.",
	})

	// ParkingLotParked counts successful parks (validator passed).
	ParkingLotParked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "parkinglot_parked_total",
		Help:      "Number of successful park operations.",
	})

	// ParkingLotTimedOut counts parks that resolved via deadline.
	ParkingLotTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "parkinglot_timed_out_total",
		Help:      "Number of parks that resolved via deadline expiry.",
	})

	// ParkingLotFairWakes counts direct-handoff fair wakes.
	ParkingLotFairWakes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "parkinglot_fair_wakes_total",
		Help:      "Number of wakes that used fair direct handoff.",
	})

	// FutexWakes counts waiters woken by futex_wake/futex_requeue.
	FutexWakes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "futex_wakes_total",
		Help:      "Number of waiters woken by futex wake/requeue operations.",
	})

	// StackCacheHits counts stack arena acquisitions served from the
	// per-worker free list instead of a fresh OS allocation.
	StackCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "stack_cache_hits_total",
		Help:      "Number of stack acquisitions served from the cache.",
	})

	// StackCacheMisses counts stack arena acquisitions requiring a fresh
	// OS allocation.
	StackCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskrt",
		Name:      "stack_cache_misses_total",
		Help:      "Number of stack acquisitions requiring a fresh OS mapping.",
	})
)
