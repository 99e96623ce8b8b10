package parkinglot

import "github.com/odvcencio/taskrt/pkg/rtclock"

// waiter is one parked execution unit sitting in a bucket's intrusive
// list. Fields below the list pointers are only ever touched while the
// owning bucket's lock is held, except for the result fields, which are
// written exactly once (by whichever of unpark/timeout wins the race to
// dequeue the waiter) strictly before resume is invoked, and read by the
// parked side only after its Suspend call returns — Suspend and resume
// form the happens-before edge, so no further synchronization is needed
// on the result fields themselves.
type waiter struct {
	key      Key
	token    uintptr
	deadline rtclock.Deadline
	resume   Resumer

	group *multiGroup // non-nil only for ParkMultiple waiters

	next, prev *waiter
	bucket     *bucket
	inList     bool

	resultKind  ParkOutcome
	resultToken uintptr
}

// multiGroup coordinates a ParkMultiple wait: N waiter nodes, one per
// key, all referencing the same group. The first operation to dequeue
// any of them wins the race (settled under mu), then is
// responsible for unlinking the rest from their respective buckets
// before resuming the task exactly once.
type multiGroup struct {
	mu       chan struct{} // binary semaphore; buffered 1, acts as a non-reentrant mutex
	settled  bool
	waiters  []*waiter
	resume   Resumer
	deadline rtclock.Deadline

	resultKind  ParkOutcome
	resultToken uintptr
}

func newMultiGroup(n int) *multiGroup {
	g := &multiGroup{mu: make(chan struct{}, 1), waiters: make([]*waiter, 0, n)}
	g.mu <- struct{}{}
	return g
}

func (g *multiGroup) lock()   { <-g.mu }
func (g *multiGroup) unlock() { g.mu <- struct{}{} }

// pushBack appends w to the bucket's list. Caller holds b.mu.
func (b *bucket) pushBack(w *waiter) {
	w.bucket = b
	w.inList = true
	if b.tail == nil {
		b.head, b.tail = w, w
		return
	}
	w.prev = b.tail
	b.tail.next = w
	b.tail = w
}

// unlink removes w from its bucket's list. Caller holds the bucket's
// lock. No-op if w is not currently linked.
func (w *waiter) unlink() {
	if !w.inList {
		return
	}
	b := w.bucket
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		b.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		b.tail = w.prev
	}
	w.next, w.prev = nil, nil
	w.inList = false
}
