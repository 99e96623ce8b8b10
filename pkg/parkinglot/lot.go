// Package parkinglot implements the process-wide keyed wait-queue table
// that backs every blocking primitive in the task runtime (mutex,
// condition variable, futex, and task sleep/yield-on-memory). It is the
// algorithmic heart of the module: a fixed-size table of independently
// lockable buckets, each owning an intrusive doubly linked list of
// waiters, with WebKit-style fair-ish unlock, multi-key waits, filtered
// wake, and atomic wait-then-requeue.
//
// This package knows nothing about coroutines, worker threads, or Go
// goroutines: suspending and resuming the caller's execution unit are
// supplied as callbacks (Suspend, Resumer) by pkg/task, which is the only
// caller that understands what "the current task" means. That keeps the
// parking lot a pure, reusable data structure: a global keyed
// wait-queue hash table backing every blocking primitive.
package parkinglot

import "github.com/odvcencio/taskrt/pkg/rtlog"

// Key is any user-controlled address; the parking lot treats it as an
// opaque identity, equal iff numerically equal.
type Key uintptr

// numBuckets is a fixed prime table size. Resizing is not required:
// buckets chain intrusively and independent keys rarely collide enough
// to matter at the concurrency levels a single worker pool sustains.
const numBuckets = 4099

// Lot is one process-wide (or pool-wide — callers may construct more
// than one, e.g. for isolated tests) parking-lot instance.
type Lot struct {
	buckets [numBuckets]bucket
	log     *rtlog.Logger
}

// New constructs an empty Lot.
func New() *Lot {
	l := &Lot{log: rtlog.Default()}
	for i := range l.buckets {
		l.buckets[i].seedFairness(i, bucketAddr(&l.buckets[i]))
	}
	return l
}

func bucketIndex(key Key) int {
	// FNV-1a over the key's bytes, reduced mod the fixed prime table
	// size. Good enough distribution for pointer-derived keys without
	// needing the open-addressing probe sequence a resizable table
	// would require.
	h := uint64(14695981039346656037)
	v := uint64(key)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= 1099511628211
		v >>= 8
	}
	return int(h % numBuckets)
}

func (l *Lot) bucketFor(key Key) *bucket {
	return &l.buckets[bucketIndex(key)]
}

// ParkResult is the outcome of Park.
type ParkResult struct {
	Kind        ParkOutcome
	UnparkToken uintptr
}

// ParkOutcome enumerates Park's three terminal states.
type ParkOutcome int

const (
	Unparked ParkOutcome = iota
	Invalid
	TimedOut
)

// Resumer is how the parking lot hands a waiter back to the scheduler
// once it has been dequeued by an unpark or requeue operation, or by a
// timeout. It is invoked with the bucket lock NOT held (see park.go /
// unpark.go for exact call sites) so it is free to re-enqueue the task
// onto its worker's ready queue.
type Resumer func(unparkToken uintptr)

// UnparkResult is reported to unpark callbacks so they can choose the
// token to deliver, and returned to callers describing what happened.
type UnparkResult struct {
	UnparkedCount int
	RequeuedCount int // only ever non-zero from UnparkRequeue
	HasMore       bool
	BeFair        bool
}

// FilterOp is the result of evaluating a filter against one waiter.
type FilterOp int

const (
	FilterUnpark FilterOp = iota
	FilterSkip
	FilterStop
)

// FilterFunc evaluates a filter against a waiter's park token.
type FilterFunc func(token uintptr) FilterOp

// FilterAll selects every waiter — the equivalent of FILTER_ALL.
func FilterAll(uintptr) FilterOp { return FilterUnpark }

