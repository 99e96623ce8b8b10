package task

import "sync"

// registry maps the OS thread ID a worker is pinned to (via
// runtime.LockOSThread, required so the manual stack switch in
// pkg/ctxswitch never races against the Go scheduler migrating the
// goroutine mid-swap) to the Task currently running on it. pkg/executor
// sets and clears this immediately around every ctxswitch.Swap into and
// out of a task context, which is what lets task_id()/worker_id()/
// yield()/sleep()/abort() work as ambient, receiver-free calls the way
// the original C-like API shapes them, instead of needing an explicit
// handle threaded through every call site.
var registry sync.Map // map[int]*Task, keyed by unix.Gettid()

// RegisterCurrent and ClearCurrent are called by pkg/executor immediately
// before and after each ctxswitch.Swap into a task's context, on the OS
// thread the calling worker is pinned to.
func RegisterCurrent(tid int, t *Task) { registry.Store(tid, t) }
func ClearCurrent(tid int)             { registry.Delete(tid) }

// Gettid exposes the calling OS thread's id, for pkg/executor to pass to
// RegisterCurrent/ClearCurrent without duplicating the build-tagged
// platform lookup.
func Gettid() int { return gettid() }

// Current returns the Task running on the calling OS thread, or false
// if the caller is not executing inside a task (e.g. it is a plain
// goroutine, or a worker thread between dispatches).
func Current() (*Task, bool) {
	tid := gettid()
	v, ok := registry.Load(tid)
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}
