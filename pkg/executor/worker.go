package executor

import (
	"runtime"

	"github.com/odvcencio/taskrt/pkg/ctxswitch"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/task"
)

// worker is one OS thread pinned for the pool's lifetime via
// LockOSThread, so the manual stack switch in pkg/ctxswitch never races
// against the Go scheduler migrating the goroutine onto a different
// thread mid-swap. Its dispatch loop is a try-local, then try-shared,
// then park-until-woken sequence.
type worker struct {
	id    task.WorkerID
	pool  *Pool
	local *taskQueue
	ctx   *ctxswitch.Context

	// wake is signalled (non-blocking, buffered 1) whenever a task is
	// pushed to this worker's local queue or the pool's shared queue,
	// so an idle worker blocked in its dispatch loop's select notices
	// new work without polling.
	wake chan struct{}
}

func newWorker(id task.WorkerID, pool *Pool) *worker {
	return &worker{
		id:    id,
		pool:  pool,
		local: newTaskQueue(),
		wake:  make(chan struct{}, 1),
	}
}

func (w *worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run is the worker goroutine's body: pin the OS thread, register this
// worker as the one reachable from it, and loop until the pool closes
// stopChan.
func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.ctx = ctxswitch.Current()
	tid := task.Gettid()
	w.pool.registerWorkerThread(tid, w)
	defer w.pool.clearWorkerThread(tid)

	log := w.pool.log.WithTask(0, uint64(w.id))

	for {
		if t, ok := w.local.tryPop(); ok {
			w.dispatch(t)
			continue
		}
		if t, ok := w.pool.shared.tryPop(); ok {
			w.dispatch(t)
			continue
		}
		select {
		case <-w.wake:
			continue
		case <-w.pool.stopChan:
			log.Debug(rtlog.CategoryExecutor, "worker stopping")
			return
		}
	}
}

// dispatch switches onto t's stack, runs it until it suspends or
// finishes, and switches back. Reclamation of a terminated task's stack
// and live-task accounting happen in a per-task watcher goroutine (see
// dispatch.go's spawnGroup), not here, since by the time Swap returns this
// worker must be free to immediately pick up the next ready task.
func (w *worker) dispatch(t *task.Task) {
	tid := task.Gettid()
	t.MarkRunning(w.id)
	task.RegisterCurrent(tid, t)
	ctxswitch.Swap(w.ctx, t.Context())
	task.ClearCurrent(tid)
	t.MarkSuspended()
}
