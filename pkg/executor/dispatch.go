package executor

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odvcencio/taskrt/pkg/cmdbuf"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
	"github.com/odvcencio/taskrt/pkg/task"
)

// driveBuffer runs on its own goroutine for the lifetime of one admitted
// buffer: it walks Cmds in order, spawning tasks for EnqueueTask and
// resolving WaitOnBarrier/WaitOnCmdIndirect against the per-command
// completion channels tracked alongside it. The goroutine itself
// may block (on a barrier, or waiting out every task at the end) — that
// is fine, it is not a worker thread and has nothing else to do in the
// meantime.
func (p *Pool) driveBuffer(ctx context.Context, buf *cmdbuf.Buffer, completion *cmdbuf.Completion) {
	n := len(buf.Cmds)
	cmdDone := make([]chan struct{}, n)
	isEnqueue := make([]bool, n)
	var anyAborted atomic.Bool

	var selection *task.WorkerID // nil means "any worker"

	for i, cmd := range buf.Cmds {
		cmdDone[i] = make(chan struct{})

		switch cmd.Kind {
		case cmdbuf.KindSelectWorker:
			w := cmd.Worker
			selection = &w
			close(cmdDone[i])

		case cmdbuf.KindSelectAnyWorker:
			selection = nil
			close(cmdDone[i])

		case cmdbuf.KindEnqueueTask:
			isEnqueue[i] = true
			_, endDispatch := p.trace.StartSpan(ctx, "cmdbuf.dispatch", attribute.Int("task_count", cmd.TaskSpec.N))
			p.spawnGroup(cmd.TaskSpec, selection, completion, &anyAborted, cmdDone[i])
			endDispatch()
			// The command itself is considered dispatched (not
			// necessarily finished) once every task in its batch has
			// been submitted; the dispatcher advances immediately so a
			// buffer with no trailing barrier doesn't serialize on its
			// own tasks. cmdDone[i] still only closes once the whole
			// batch finishes, which is what WaitOnBarrier/Indirect and
			// the final drain below observe.

		case cmdbuf.KindWaitOnBarrier:
			for j := 0; j < i; j++ {
				if isEnqueue[j] {
					<-cmdDone[j]
				}
			}
			close(cmdDone[i])

		case cmdbuf.KindWaitOnCmdIndirect:
			ref := i - cmd.BackRef
			if ref >= 0 && ref < i {
				<-cmdDone[ref]
			}
			close(cmdDone[i])
		}
	}

	for i := range buf.Cmds {
		if isEnqueue[i] {
			<-cmdDone[i]
		}
	}

	status := cmdbuf.StatusCompleted
	if anyAborted.Load() || completion.CancelRequested() {
		status = cmdbuf.StatusCancelled
	}
	completion.MarkDrained(status)

	<-p.admitSem
	rtmetrics.AdmissionQueueDepth.Dec()
}

// spawnGroup admits spec.N task activations, pinned to selection if
// non-nil or dropped onto the shared queue otherwise, and closes done
// once every one of them has reached a terminal state. It acquires one
// liveSem token per task before spawning it, so a buffer that enqueues
// far more tasks than the pool's load factor allows blocks its own
// driver goroutine rather than the pool as a whole.
func (p *Pool) spawnGroup(spec *task.Spec, selection *task.WorkerID, cancel task.CancelSource, anyAborted *atomic.Bool, done chan struct{}) {
	if spec.N <= 0 {
		close(done)
		return
	}

	var remaining atomic.Int64
	remaining.Store(int64(spec.N))

	finishOne := func(aborted bool) {
		if aborted {
			anyAborted.Store(true)
		}
		if remaining.Add(-1) == 0 {
			close(done)
		}
	}

	for idx := 0; idx < spec.N; idx++ {
		p.liveSem <- struct{}{}
		w := p.pickWorker(selection)

		stack, err := p.arena.Acquire(int(w.id))
		if err != nil {
			<-p.liveSem
			p.log.Error(rtlog.CategoryExecutor, err, "stack allocation failed; aborting task")
			finishOne(true)
			continue
		}

		rtmetrics.TasksLive.Inc()
		t := task.New(spec, idx, stack, p, cancel)

		go func(t *task.Task, w *worker) {
			<-t.Done()
			p.arena.Release(int(w.id), t.Stack())
			rtmetrics.TasksLive.Dec()
			<-p.liveSem
			finishOne(t.Aborted())
		}(t, w)

		if selection != nil {
			w.local.push(t)
			w.notify()
		} else {
			p.shared.push(t)
			p.wakeAny()
		}
	}
}

// pickWorker resolves a SelectWorker(w) pin to its worker, falling back
// to worker 0 if the caller named an out-of-range id — refusing to
// spawn entirely would make a single bad selector abort the whole
// buffer for no benefit.
func (p *Pool) pickWorker(selection *task.WorkerID) *worker {
	if selection == nil {
		return p.workers[0]
	}
	idx := int(*selection)
	if idx < 0 || idx >= len(p.workers) {
		return p.workers[0]
	}
	return p.workers[idx]
}

// wakeAny signals every worker's wake channel so whichever one is idle
// notices the shared queue has new work; harmless no-ops for workers
// that are already busy and will check the shared queue themselves
// after their current task suspends.
func (p *Pool) wakeAny() {
	for _, w := range p.workers {
		w.notify()
	}
}
