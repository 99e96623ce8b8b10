// Package task implements the schedulable unit of work: one coroutine
// activation with its own stack, context, lifecycle state, and
// task-local storage, plus the suspension-point API a task's entry
// function calls to yield, sleep, or abort itself. pkg/executor is the
// only caller that constructs Tasks and drives their dispatch; this
// package knows nothing about ready queues or worker threads beyond the
// small Scheduler interface it asks its caller to implement.
package task

import (
	"sync/atomic"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/ctxswitch"
	"github.com/odvcencio/taskrt/pkg/futex"
	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
	"github.com/odvcencio/taskrt/pkg/stackarena"
	"github.com/odvcencio/taskrt/pkg/tss"
)

// ID uniquely identifies a task activation within a process.
type ID uint64

// WorkerID identifies a worker thread within its pool.
type WorkerID uint64

// State is one node of the task lifecycle:
// New -> Ready -> Running <-> Parked -> Completed | Aborted.
type State int32

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateParked
	StateCompleted
	StateAborted
)

// RunFunc is a task's entry point, invoked once per batch index.
type RunFunc func(t *Task, idx int)

// Spec is the user-supplied, unscheduled definition of a task: a label,
// a batch count N >= 1, and the entry point called once per index in
// [0, N). pkg/cmdbuf's EnqueueTask command carries a Spec; pkg/executor
// expands it into N independent Task activations at admission time.
type Spec struct {
	Label string
	N     int
	Run   RunFunc
}

// CancelSource reports whether the command buffer owning a task has
// been cancelled. pkg/cmdbuf's Completion implements it.
type CancelSource interface {
	CancelRequested() bool
}

// Scheduler is the dispatch-side hook a Task needs to suspend and later
// resume itself; pkg/executor's Pool implements it. Keeping this
// as a small interface here (rather than importing pkg/executor) avoids
// a cycle: executor depends on task, not the reverse.
type Scheduler interface {
	// WorkerContext returns the calling worker's own context, the
	// switch target for every suspension point.
	WorkerContext() *ctxswitch.Context
	// Requeue moves t onto a ready queue (tail, for
	// yield; head is not exposed — fairness is strictly FIFO).
	Requeue(t *Task)
	// Lot returns the parking lot backing sleep/futex for this pool.
	Lot() *parkinglot.Lot
	// WorkerID returns the identity of the calling worker thread.
	WorkerID() WorkerID
}

// Task is one schedulable coroutine activation.
type Task struct {
	id     ID
	spec   *Spec
	idx    int
	cancel CancelSource

	state    atomic.Int32
	workerID atomic.Uint64
	running  atomic.Bool // true strictly while dispatched onto an OS thread

	stack *stackarena.Stack
	ctx   *ctxswitch.Context
	tls   *tss.Store

	scheduler Scheduler
	done      chan struct{}
	aborted   atomic.Bool
}

var idCounter atomic.Uint64

func nextID() ID { return ID(idCounter.Add(1)) }

// New constructs a Task activation for spec's index idx. The caller
// (pkg/executor) supplies the stack (from pkg/stackarena), the
// scheduler hook, and an optional cancellation source (nil if the task
// is not owned by a cancellable command buffer).
func New(spec *Spec, idx int, stack *stackarena.Stack, scheduler Scheduler, cancel CancelSource) *Task {
	t := &Task{
		id:        nextID(),
		spec:      spec,
		idx:       idx,
		cancel:    cancel,
		stack:     stack,
		tls:       tss.NewStore(),
		scheduler: scheduler,
		done:      make(chan struct{}),
	}
	t.state.Store(int32(StateNew))
	t.ctx = ctxswitch.MakeContext(stack, t.bootstrapEntry, nil)
	return t
}

// bootstrapEntry is the coroutine's real entry point, reached via
// ctxswitch's trampoline on first dispatch. It runs the entry function
// once for this activation's index, finishes the task, and switches out
// for the last time; nothing ever resumes this context again.
func (t *Task) bootstrapEntry(unsafe.Pointer) {
	t.spec.Run(t, t.idx)
	t.finishNormally()
	t.switchToWorker()
}

// ID returns the task's identity.
func (t *Task) ID() ID { return t.id }

// Index returns this activation's batch index.
func (t *Task) Index() int { return t.idx }

// Label returns the owning spec's label.
func (t *Task) Label() string { return t.spec.Label }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// WorkerID reports the worker this task is currently dispatched on, and
// whether it is currently running (false once parked, completed, or
// not yet dispatched).
func (t *Task) WorkerID() (WorkerID, bool) {
	if !t.running.Load() {
		return 0, false
	}
	return WorkerID(t.workerID.Load()), true
}

// CancelRequested reports whether the owning command buffer (if any)
// has been cancelled. Tasks running an unbounded loop are expected to
// check this at yield points.
func (t *Task) CancelRequested() bool {
	if t.cancel == nil {
		return false
	}
	return t.cancel.CancelRequested()
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Yield re-enqueues the task at the tail of its worker's ready queue
// and switches back to the worker context; when some future dispatch
// resumes this task, Yield returns.
func (t *Task) Yield() {
	t.state.Store(int32(StateReady))
	t.scheduler.Requeue(t)
	t.switchToWorker()
}

// Sleep parks the task on a private key until d elapses. The deadline
// is computed once, as an absolute Instant, so clock skew during a long
// sleep cannot produce a spurious early or late wake.
func (t *Task) Sleep(d rtclock.Duration) {
	key := parkinglot.Key(t.privateKey())
	deadline := rtclock.After(d)
	t.ParkOn(t.Lot(), key, func() bool { return true }, 0, deadline)
}

// privateKey returns a stable, task-unique address to park sleep waits
// on — no other task or wake source ever targets it.
func (t *Task) privateKey() uintptr { return uintptr(t.id) | (uintptr(1) << 63) }

// Lot returns the parking lot backing this task's owning pool, for
// higher-level packages (pkg/cmdbuf, pkg/syncprim) that need to park a
// task on a key of their own choosing.
func (t *Task) Lot() *parkinglot.Lot { return t.scheduler.Lot() }

// Scheduler returns the dispatch-side hook this task was constructed
// with. pkg/executor.Current() type-asserts it back to *executor.Pool;
// exposing the narrow interface here rather than a concrete type keeps
// pkg/task independent of pkg/executor.
func (t *Task) Scheduler() Scheduler { return t.scheduler }

// ParkOn suspends the task on lot/key until validate is invalidated by a
// matching unpark, or deadline elapses. It is the shared building block
// behind Sleep and every higher-level blocking primitive (command-buffer
// join, mutex lock slow path, condvar wait, futex wait) that needs a
// task, rather than a parkinglot caller in general, to be the thing that
// suspends and resumes.
func (t *Task) ParkOn(lot *parkinglot.Lot, key parkinglot.Key, validate func() bool, token uintptr, deadline rtclock.Deadline) parkinglot.ParkResult {
	t.state.Store(int32(StateParked))
	res := lot.Park(key, validate, nil, nil, token, deadline, t.switchToWorker, t.resumeFromPark)
	t.state.Store(int32(StateRunning))
	return res
}

// FutexWait is ParkOn's counterpart for pkg/futex: it suspends the task
// until the memory at key no longer matches expect and some waker
// retargets this key, wiring the task's own suspend/resume pair into
// futex.Wait the same way ParkOn wires them into parkinglot.Lot.Park.
// pkg/syncprim's Mutex and Condition are built on this.
func (t *Task) FutexWait(lot *parkinglot.Lot, key unsafe.Pointer, width futex.Width, expect uint64, token uintptr, deadline rtclock.Deadline) parkinglot.ParkResult {
	t.state.Store(int32(StateParked))
	res := futex.Wait(lot, key, width, expect, token, deadline, futex.Waiter{Suspend: t.switchToWorker, Resume: t.resumeFromPark})
	t.state.Store(int32(StateRunning))
	return res
}

// FutexWaitv is FutexWait generalized to futex.Waitv: the task suspends
// until any one of specs' locations no longer matches its expected
// value and some waker retargets that key.
func (t *Task) FutexWaitv(lot *parkinglot.Lot, specs []futex.WaitSpec, token uintptr, deadline rtclock.Deadline) (parkinglot.ParkResult, error) {
	t.state.Store(int32(StateParked))
	res, err := futex.Waitv(lot, specs, token, deadline, futex.Waiter{Suspend: t.switchToWorker, Resume: t.resumeFromPark})
	t.state.Store(int32(StateRunning))
	return res, err
}

func (t *Task) switchToWorker() {
	ctxswitch.Swap(t.ctx, t.scheduler.WorkerContext())
}

func (t *Task) resumeFromPark(uintptr) {
	t.state.Store(int32(StateReady))
	t.scheduler.Requeue(t)
}

// Abort marks the task's owning command buffer cancelled (advisory:
// callers typically abort in response to an already-cancelled buffer,
// but calling it directly is also valid), runs TLS destructors, and
// switches out with status Aborted. It never returns to its caller:
// nothing will ever resume this context again, so control permanently
// parks at this call site inside the task's own (soon to be reclaimed)
// stack memory — the same "abandon the stack" terminal behavior as a
// normal return from run(), just with a different recorded status.
func (t *Task) Abort() {
	t.aborted.Store(true)
	t.tls.RunDestructors()
	t.state.Store(int32(StateAborted))
	rtmetrics.TasksAborted.Inc()
	close(t.done)
	t.switchToWorker()
}

// finishNormally runs once bootstrapEntry's call to the entry function
// returns without the task having called Abort.
func (t *Task) finishNormally() {
	t.tls.RunDestructors()
	t.state.Store(int32(StateCompleted))
	rtmetrics.TasksCompleted.Inc()
	close(t.done)
}

// TLS returns the task's task-local storage store.
func (t *Task) TLS() *tss.Store { return t.tls }

// Context returns the coroutine context pkg/executor switches into to
// dispatch this task.
func (t *Task) Context() *ctxswitch.Context { return t.ctx }

// Stack returns the backing stack, reclaimed by pkg/executor once the
// task reaches a terminal state.
func (t *Task) Stack() *stackarena.Stack { return t.stack }

// MarkRunning is called by pkg/executor immediately before switching
// into this task. MarkSuspended is called immediately after switching
// back out of it without reaching a terminal state (yield, park, or
// the admission ring parking a submitter).
func (t *Task) MarkRunning(worker WorkerID) {
	t.workerID.Store(uint64(worker))
	t.running.Store(true)
	t.state.Store(int32(StateRunning))
}

func (t *Task) MarkSuspended() {
	t.running.Store(false)
}

// Aborted reports whether Abort was ever called on this task.
func (t *Task) Aborted() bool { return t.aborted.Load() }
