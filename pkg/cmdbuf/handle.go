package cmdbuf

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/task"
)

// Status is a submitted buffer's terminal outcome.
type Status int

const (
	// StatusCompleted means every EnqueueTask in the buffer returned
	// from its entry function without calling abort().
	StatusCompleted Status = iota + 1
	// StatusCancelled means at least one task aborted, or cancellation
	// was requested on the handle before the buffer drained.
	StatusCancelled
)

// Completion is the shared state behind a Buffer's one Handle: it tracks
// drain/cancellation and is what pkg/executor assigns as every spawned
// task's task.CancelSource, since cancellation is buffer-wide, not
// handle-scoped (the handle is exclusive, but many tasks read the same
// flag). pkg/executor constructs one per admitted Buffer and wakes its
// waiters through the owning pool's parking lot, so Join behaves as a
// real suspension point for a task-side caller instead of blocking the
// worker's OS thread.
type Completion struct {
	buffer *Buffer
	lot    *parkinglot.Lot
	log    *rtlog.Logger

	done      chan struct{}
	settled   atomic.Bool
	status    atomic.Int32
	cancelled atomic.Bool

	handleDropped atomic.Bool
	deinitOnce    sync.Once
}

// NewCompletion constructs the shared completion state for buf, admitted
// to a pool whose parking lot is lot.
func NewCompletion(buf *Buffer, lot *parkinglot.Lot) *Completion {
	c := &Completion{buffer: buf, lot: lot, log: rtlog.Default(), done: make(chan struct{})}
	c.log.Event(rtlog.CategoryCmdBuf).Str("buffer_label", buf.Label).Msg("buffer admitted")
	return c
}

// CancelRequested implements task.CancelSource.
func (c *Completion) CancelRequested() bool { return c.cancelled.Load() }

func (c *Completion) key() parkinglot.Key {
	return parkinglot.Key(uintptr(unsafe.Pointer(c)))
}

func (c *Completion) isDrained() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// MarkDrained is called by pkg/executor exactly once, after the buffer's
// last command has resolved. status reflects whether any task in the
// buffer aborted or the handle requested cancellation first.
func (c *Completion) MarkDrained(status Status) {
	if !c.settled.CompareAndSwap(false, true) {
		return
	}
	c.status.Store(int32(status))
	close(c.done)
	if c.lot != nil {
		c.lot.UnparkAll(c.key(), nil)
	}
	label := ""
	if c.buffer != nil {
		label = c.buffer.Label
	}
	c.log.Event(rtlog.CategoryCmdBuf).Str("buffer_label", label).Int("status", int(status)).Msg("buffer drained")
	c.tryDeinit()
}

func (c *Completion) requestCancel() { c.cancelled.Store(true) }

func (c *Completion) dropHandle() {
	c.handleDropped.Store(true)
	c.tryDeinit()
}

func (c *Completion) tryDeinit() {
	if !c.settled.Load() || !c.handleDropped.Load() {
		return
	}
	c.deinitOnce.Do(func() {
		if c.buffer != nil && c.buffer.OnDeinit != nil {
			c.buffer.OnDeinit()
		}
	})
}

// awaitDrained blocks the caller until the buffer has fully drained. A
// task-side caller parks on the pool's lot (so its worker can keep
// dispatching other ready tasks); any other caller (e.g. a plain
// goroutine holding the handle from outside the runtime) blocks on the
// completion channel directly.
func (c *Completion) awaitDrained() {
	if c.isDrained() {
		return
	}
	if t, ok := task.Current(); ok && c.lot != nil {
		t.ParkOn(c.lot, c.key(), func() bool { return !c.isDrained() }, 0, rtclock.NoDeadline)
		return
	}
	<-c.done
}

func (c *Completion) result() (Status, error) {
	return Status(c.status.Load()), nil
}

// Handle is the exclusive, consuming capability a submitter holds on an
// admitted Buffer. Each of Join, Detach, Cancel, and CancelDetach
// invalidates it; calling more than one on the same Handle is a
// programmer bug (use-after-consume), asserted in debug builds only.
type Handle struct {
	c        *Completion
	consumed atomic.Bool
}

// NewHandle wraps completion as a fresh, unconsumed Handle. Called once
// by pkg/executor per admitted Buffer.
func NewHandle(c *Completion) *Handle {
	return &Handle{c: c}
}

func (h *Handle) consume(op string) bool {
	if h.consumed.Swap(true) {
		rterrors.Assert(false, "cmdbuf: handle used after consume ("+op+")")
		return false
	}
	return true
}

// Join blocks until the buffer drains and returns its terminal status.
func (h *Handle) Join() (Status, error) {
	if !h.consume("join") {
		return 0, rterrors.New(rterrors.CodeInvalid, "cmdbuf: join on a consumed handle")
	}
	h.c.awaitDrained()
	h.c.dropHandle()
	return h.c.result()
}

// Detach abandons the caller's interest in the outcome; the optional
// OnDeinit callback still runs once the buffer drains.
func (h *Handle) Detach() {
	if !h.consume("detach") {
		return
	}
	h.c.dropHandle()
}

// Cancel signals cooperative cancellation to every task in the buffer
// and abandons the handle without waiting, identically to Detach beyond
// the cancel signal.
func (h *Handle) Cancel() {
	if !h.consume("cancel") {
		return
	}
	h.c.requestCancel()
	h.c.dropHandle()
}

// CancelDetach is Cancel followed by Detach; kept as its own entry point
// for symmetry with the four-operation handle API, though its effect is
// identical to Cancel here since both already abandon the handle.
func (h *Handle) CancelDetach() {
	if !h.consume("cancel_detach") {
		return
	}
	h.c.requestCancel()
	h.c.dropHandle()
}
