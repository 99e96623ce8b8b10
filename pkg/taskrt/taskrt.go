// Package taskrt aggregates the leaf packages (pkg/executor, pkg/task,
// pkg/cmdbuf, pkg/tss, pkg/futex) behind one capability-style surface: a
// Runtime wrapping a single executor.Pool, plus a set of ambient,
// receiver-free functions for the task-side operations a running task's
// entry function calls on itself — the same shape as a coordinator
// that aggregates several independently testable subsystems (a
// worktree manager, an executor, scope/lock/merge handling) behind one
// constructed object external callers hold.
package taskrt

import (
	"sync"
	"unsafe"

	"github.com/google/uuid"

	"github.com/odvcencio/taskrt/pkg/cmdbuf"
	"github.com/odvcencio/taskrt/pkg/executor"
	"github.com/odvcencio/taskrt/pkg/futex"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rtconfig"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/rttrace"
	"github.com/odvcencio/taskrt/pkg/task"
	"github.com/odvcencio/taskrt/pkg/tss"
)

// Runtime wraps one executor.Pool with an identity (for structured log
// correlation across independently constructed runtimes in the same
// process — e.g. a test harness running several Runtimes side by side)
// and the convenience methods external callers reach for.
type Runtime struct {
	id   uuid.UUID
	pool *executor.Pool
	log  *rtlog.Logger
}

var (
	registryMu sync.Mutex
	registry   = map[*executor.Pool]*Runtime{}

	globalOnce sync.Once
	globalRT   *Runtime
	globalErr  error
)

func wrap(p *executor.Pool) *Runtime {
	registryMu.Lock()
	defer registryMu.Unlock()
	if rt, ok := registry[p]; ok {
		return rt
	}
	rt := &Runtime{id: uuid.New(), pool: p, log: rtlog.Default()}
	registry[p] = rt
	rt.log.Event(rtlog.CategoryExecutor).Str("runtime_id", rt.id.String()).Msg("runtime attached to pool")
	return rt
}

// New constructs a Runtime around a freshly built executor.Pool.
func New(cfg rtconfig.Config) (*Runtime, error) {
	p, err := executor.New(cfg)
	if err != nil {
		return nil, err
	}
	return wrap(p), nil
}

// Global returns the process-wide default Runtime, constructing it
// lazily on first use with zero-value (all-default) configuration.
func Global() (*Runtime, error) {
	globalOnce.Do(func() {
		p, err := executor.Global()
		if err != nil {
			globalErr = err
			return
		}
		globalRT = wrap(p)
	})
	return globalRT, globalErr
}

// Current returns the Runtime owning the task the caller is running
// inside of, or false if the caller is not executing inside a task.
func Current() (*Runtime, bool) {
	p, ok := executor.Current()
	if !ok {
		return nil, false
	}
	return wrap(p), true
}

// ID returns this Runtime's correlation identity, stable for its
// lifetime.
func (r *Runtime) ID() uuid.UUID { return r.id }

// --- executor ops ---

// Join requests closure and blocks until every admitted buffer (and the
// tasks it spawned) has finished, then tears down the pool's workers
// and stack arena.
func (r *Runtime) Join() { r.pool.Join() }

// JoinRequested reports whether Join has been called.
func (r *Runtime) JoinRequested() bool { return r.pool.JoinRequested() }

// Enqueue admits buf and returns a Handle the caller must consume
// exactly once.
func (r *Runtime) Enqueue(buf *cmdbuf.Buffer) *cmdbuf.Handle { return r.pool.Enqueue(buf) }

// EnqueueDetached admits buf without returning a Handle; Join still
// waits for it.
func (r *Runtime) EnqueueDetached(buf *cmdbuf.Buffer) { r.pool.EnqueueDetached(buf) }

// SetTraceSink replaces the Runtime's tracing collaborator for
// admission/dispatch spans; see executor.Pool.SetTraceSink.
func (r *Runtime) SetTraceSink(sink rttrace.Sink) { r.pool.SetTraceSink(sink) }

// --- handle ops ---
//
// Handle already exposes Join/Detach/Cancel/CancelDetach directly; the
// package-level aliases below exist only so a caller importing taskrt
// alone (and not cmdbuf) can name the full handle capability surface.

// JoinHandle blocks on h and returns its terminal status.
func JoinHandle(h *cmdbuf.Handle) (cmdbuf.Status, error) { return h.Join() }

// DetachHandle abandons interest in h's outcome.
func DetachHandle(h *cmdbuf.Handle) { h.Detach() }

// CancelHandle signals cooperative cancellation to every task in h's
// buffer and abandons the handle without waiting.
func CancelHandle(h *cmdbuf.Handle) { h.Cancel() }

// CancelDetachHandle is CancelHandle; kept as its own entry point for
// symmetry with the four-operation handle API.
func CancelDetachHandle(h *cmdbuf.Handle) { h.CancelDetach() }

// --- task-side ops ---
//
// These are ambient and receiver-free, resolving the calling task via
// task.Current() the same way pkg/task's own Gettid-keyed registry
// lets worker_id()/yield()/abort() read "the task running right now"
// without a handle threaded through every call site. Calling one
// outside a task is a programmer error, asserted in debug builds.

func currentTask(op string) (*task.Task, bool) {
	t, ok := task.Current()
	if !ok {
		rterrors.Assert(false, "taskrt: "+op+" called outside a task")
		return nil, false
	}
	return t, true
}

// TaskID returns the calling task's identity.
func TaskID() (task.ID, bool) {
	t, ok := currentTask("task_id")
	if !ok {
		return 0, false
	}
	return t.ID(), true
}

// WorkerID returns the worker the calling task is currently dispatched
// on.
func WorkerID() (task.WorkerID, bool) {
	t, ok := currentTask("worker_id")
	if !ok {
		return 0, false
	}
	return t.WorkerID()
}

// Yield re-enqueues the calling task and suspends until it is resumed.
func Yield() {
	if t, ok := currentTask("yield"); ok {
		t.Yield()
	}
}

// Abort marks the calling task's buffer cancelled, runs its TLS
// destructors, and never returns.
func Abort() {
	if t, ok := currentTask("abort"); ok {
		t.Abort()
	}
}

// CancelRequested reports whether the calling task's owning buffer has
// been cancelled.
func CancelRequested() bool {
	t, ok := currentTask("cancel_requested")
	if !ok {
		return false
	}
	return t.CancelRequested()
}

// Sleep parks the calling task until d elapses.
func Sleep(d rtclock.Duration) {
	if t, ok := currentTask("sleep"); ok {
		t.Sleep(d)
	}
}

// TSSSet stores value under key in the calling task's TLS table.
func TSSSet(key tss.Key, value unsafe.Pointer, dtor tss.Destructor) {
	if t, ok := currentTask("tss_set"); ok {
		t.TLS().Set(key, value, dtor)
	}
}

// TSSGet retrieves key's value from the calling task's TLS table.
func TSSGet(key tss.Key) (unsafe.Pointer, bool) {
	t, ok := currentTask("tss_get")
	if !ok {
		return nil, false
	}
	return t.TLS().Get(key)
}

// TSSClear invokes key's registered destructor, if any and if its value
// is non-nil, then removes key from the calling task's TLS table.
func TSSClear(key tss.Key) {
	if t, ok := currentTask("tss_clear"); ok {
		t.TLS().Clear(key)
	}
}

// --- futex ops ---
//
// These need the calling task's owning pool's parking lot, so they take
// a Runtime receiver rather than being fully ambient; the calling task
// must belong to r's pool (a task from a different Runtime's pool
// asserts, since its Lot() would otherwise silently target the wrong
// lot's bucket array).

func (r *Runtime) ownTask(op string) (*task.Task, bool) {
	t, ok := currentTask(op)
	if !ok {
		return nil, false
	}
	rterrors.Assert(t.Lot() == r.pool.Lot(), "taskrt: "+op+" called by a task from a different runtime")
	return t, true
}

// FutexWait suspends the calling task until the memory at key no
// longer matches expect and some waker retargets key.
func (r *Runtime) FutexWait(key unsafe.Pointer, width futex.Width, expect uint64, token uintptr, deadline rtclock.Deadline) bool {
	t, ok := r.ownTask("futex_wait")
	if !ok {
		return false
	}
	t.FutexWait(r.pool.Lot(), key, width, expect, token, deadline)
	return true
}

// Waitv suspends the calling task until any one of specs' locations no
// longer matches and some waker retargets that key.
func (r *Runtime) Waitv(specs []futex.WaitSpec, token uintptr, deadline rtclock.Deadline) error {
	t, ok := r.ownTask("futex_waitv")
	if !ok {
		return rterrors.New(rterrors.CodeNotATask, "taskrt: futex_waitv called outside a task")
	}
	_, err := t.FutexWaitv(r.pool.Lot(), specs, token, deadline)
	return err
}

// Wake wakes at most max waiters parked on key that match filter.
func (r *Runtime) Wake(key unsafe.Pointer, max int, filter futex.Filter) (int, error) {
	return futex.Wake(r.pool.Lot(), key, max, filter)
}

// Requeue wakes and/or requeues waiters parked on from onto to, after
// checking from still holds expect.
func (r *Runtime) Requeue(from, to unsafe.Pointer, width futex.Width, expect uint64, maxWakes, maxRequeues int, filter futex.Filter) (int, int, error) {
	return futex.Requeue(r.pool.Lot(), from, to, width, expect, maxWakes, maxRequeues, filter)
}
