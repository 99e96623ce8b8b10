// Package executor implements the worker pool that admits command
// buffers, expands their EnqueueTask commands into task.Task
// activations, and drives a fixed array of OS-thread-pinned workers
// that dispatch them. It is the concrete task.Scheduler every Task in
// the process is constructed against, and the concrete cmdbuf.Buffer
// consumer: pkg/task and pkg/cmdbuf know nothing about queues or
// threads beyond the narrow interfaces this package implements.
//
// Architecturally this is a fixed array of workers pulling from queues,
// with atomic running/stats bookkeeping and a stopChan-driven shutdown,
// generalized from one queue per role to one MPMC-by-composition queue
// per worker plus a shared overflow queue, and from pulling
// business-logic tasks off an external message bus to dispatching
// stackful coroutines onto OS-thread-pinned dispatch loops.
package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/odvcencio/taskrt/pkg/cmdbuf"
	"github.com/odvcencio/taskrt/pkg/ctxswitch"
	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/rtconfig"
	"github.com/odvcencio/taskrt/pkg/rtlog"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
	"github.com/odvcencio/taskrt/pkg/rttrace"
	"github.com/odvcencio/taskrt/pkg/stackarena"
	"github.com/odvcencio/taskrt/pkg/task"
)

// State is one node of the pool lifecycle.
type State int32

const (
	StateOpen State = iota
	StateJoinRequested
	StateDrained
	StateDestroyed
)

// Pool is a worker pool: the scheduler every admitted task runs under.
// It implements task.Scheduler itself (rather than each worker doing
// so) by resolving "the calling worker" from the OS thread identity at
// every call, since a task's scheduler hook is fixed for that task's
// whole lifetime but which worker is driving it at any given moment is
// whichever one currently owns the calling thread.
type Pool struct {
	cfg     rtconfig.Config
	log     *rtlog.Logger
	trace   rttrace.Sink
	workers []*worker
	shared  *taskQueue
	lot     *parkinglot.Lot
	arena   *stackarena.Arena

	// admitSem bounds the number of concurrently in-flight command
	// buffers: Enqueue sends before admitting (blocking once it holds
	// CmdBufCapacity tokens), and the buffer's driver goroutine
	// receives once it fully drains.
	admitSem chan struct{}
	// liveSem bounds concurrently live tasks at WorkerCount *
	// MaxLoadFactor, independent of the admission ring, so a handful of
	// buffers each enqueuing many tasks cannot blow past the configured
	// stack-memory budget.
	liveSem chan struct{}

	state     atomic.Int32
	stopChan  chan struct{}
	workerWg  sync.WaitGroup
	bufWg     sync.WaitGroup
	joinOnce  sync.Once
	threadReg sync.Map // map[int]*worker, keyed by task.Gettid()
}

// New constructs and starts a Pool. It fails only if stack switching is
// unsupported on the running GOARCH.
func New(cfg rtconfig.Config) (*Pool, error) {
	if !ctxswitch.Supported {
		return nil, rterrors.New(rterrors.CodeInvalid, "taskrt/executor: stack switching unsupported on this GOARCH")
	}
	cfg = cfg.WithDefaults()
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		cfg:      cfg,
		log:      rtlog.Default(),
		trace:    rttrace.NoopSink{},
		shared:   newTaskQueue(),
		lot:      parkinglot.New(),
		stopChan: make(chan struct{}),
		admitSem: make(chan struct{}, cfg.CmdBufCapacity),
		liveSem:  make(chan struct{}, workerCount*cfg.MaxLoadFactor),
	}
	p.arena = stackarena.New(stackarena.Config{
		WorkerCount:  workerCount,
		MinStackSize: cfg.StackSize,
		CacheLen:     cfg.WorkerStackCacheLen,
		DisableCache: cfg.DisableStackCache,
		GuardPages:   true,
	})

	p.workers = make([]*worker, workerCount)
	for i := 0; i < workerCount; i++ {
		w := newWorker(task.WorkerID(i), p)
		p.workers[i] = w
		p.workerWg.Add(1)
		go func(w *worker) {
			defer p.workerWg.Done()
			w.run()
		}(w)
	}

	p.log.Event(rtlog.CategoryExecutor).Int("worker_count", workerCount).Msg("executor pool started")
	return p, nil
}

// --- task.Scheduler ---

func (p *Pool) registerWorkerThread(tid int, w *worker) { p.threadReg.Store(tid, w) }
func (p *Pool) clearWorkerThread(tid int)               { p.threadReg.Delete(tid) }

func (p *Pool) currentWorker() *worker {
	v, ok := p.threadReg.Load(task.Gettid())
	if !ok {
		rterrors.Assert(false, "taskrt/executor: scheduler hook called off a worker thread")
		return nil
	}
	return v.(*worker)
}

// WorkerContext implements task.Scheduler by resolving whichever worker
// is calling (via the OS thread registry), not a fixed worker — a
// single Pool value serves as every task's Scheduler.
func (p *Pool) WorkerContext() *ctxswitch.Context { return p.currentWorker().ctx }

// Requeue implements task.Scheduler. Called on a worker thread (a
// yield, or a wake issued by a task running there), it pushes t onto
// that worker's local queue; called from any other goroutine (a
// deadline timer, a buffer's driver goroutine), it pushes t onto the
// shared queue. A woken task can therefore resume on a different worker
// than the one it parked on; there is no work stealing between local
// queues.
func (p *Pool) Requeue(t *task.Task) {
	v, ok := p.threadReg.Load(task.Gettid())
	if !ok {
		p.shared.push(t)
		p.wakeAny()
		return
	}
	w := v.(*worker)
	w.local.push(t)
	w.notify()
}

// Lot implements task.Scheduler.
func (p *Pool) Lot() *parkinglot.Lot { return p.lot }

// WorkerID implements task.Scheduler.
func (p *Pool) WorkerID() task.WorkerID { return p.currentWorker().id }

// --- lifecycle ---

// SetTraceSink replaces the pool's tracing collaborator, defaulting to
// rttrace.NoopSink. Callers that want spans emitted through OpenTelemetry
// pass an rttrace.OtelSink built from their own TracerProvider; intended
// to be called once, before the pool admits any buffer.
func (p *Pool) SetTraceSink(sink rttrace.Sink) { p.trace = sink }

// State reports the pool's current lifecycle node.
func (p *Pool) State() State { return State(p.state.Load()) }

// JoinRequested reports whether Join has been called (remains true
// through Drained and Destroyed).
func (p *Pool) JoinRequested() bool { return p.state.Load() >= int32(StateJoinRequested) }

// Join requests closure (no further Enqueue calls are admitted), waits
// for every already-admitted buffer and its spawned tasks to finish,
// stops every worker, and frees the stack arena. It is idempotent:
// calling it twice from different goroutines both observe the same
// drain.
func (p *Pool) Join() {
	if p.state.CompareAndSwap(int32(StateOpen), int32(StateJoinRequested)) {
		p.log.Event(rtlog.CategoryExecutor).Msg("join requested")
	}
	p.joinOnce.Do(func() {
		p.bufWg.Wait()
		p.state.Store(int32(StateDrained))

		close(p.stopChan)
		for _, w := range p.workers {
			w.notify()
		}
		p.workerWg.Wait()

		p.arena.Close()
		p.state.Store(int32(StateDestroyed))
		p.log.Event(rtlog.CategoryExecutor).Msg("executor pool destroyed")
	})
}

// --- submission ---

// Enqueue admits buf, returning a Handle the caller must consume
// exactly once (Join, Detach, Cancel, or CancelDetach). Submission past
// JoinRequested never returns an error: it hands back an already-
// cancelled, already-drained Handle instead, so callers that always
// route through Join/Detach need no separate error-handling path for a
// closed pool — submitting past closure is a blocking-eligible error
// surfaced as an aborted handle, never a silent drop.
func (p *Pool) Enqueue(buf *cmdbuf.Buffer) *cmdbuf.Handle {
	completion := cmdbuf.NewCompletion(buf, p.lot)
	if p.JoinRequested() {
		completion.MarkDrained(cmdbuf.StatusCancelled)
		return cmdbuf.NewHandle(completion)
	}

	select {
	case p.admitSem <- struct{}{}:
	default:
		rtmetrics.AdmissionBlocked.Inc()
		p.admitSem <- struct{}{}
	}
	rtmetrics.AdmissionQueueDepth.Inc()

	ctx, endSpan := p.trace.StartSpan(context.Background(), "cmdbuf.admit")

	p.bufWg.Add(1)
	go func() {
		defer p.bufWg.Done()
		defer endSpan()
		p.driveBuffer(ctx, buf, completion)
	}()

	return cmdbuf.NewHandle(completion)
}

// EnqueueDetached is Enqueue followed by an immediate Detach: the
// caller never learns the buffer's outcome, but pool shutdown still
// waits for it per Join's contract.
func (p *Pool) EnqueueDetached(buf *cmdbuf.Buffer) {
	p.Enqueue(buf).Detach()
}
