package ctxswitch

import (
	"sync"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/stackarena"
)

// pending carries the (entry, arg) pair for a Context that has been
// constructed but not yet activated. Assembly cannot carry a Go closure
// through raw callee-saved registers, so MakeContext smuggles only the
// Context's own address through the bootstrap stack frame (see
// swap_<GOARCH>.s) and the trampoline looks the closure up here.
var pending sync.Map // map[*Context]pendingEntry

type pendingEntry struct {
	fn  EntryFunc
	arg unsafe.Pointer
}

// MakeContext prepares stack for first activation: the first Swap that
// targets the returned Context will invoke entry(arg) on stack, on the
// goroutine that performs the Swap. entry must not return.
func MakeContext(stack *stackarena.Stack, entry EntryFunc, arg unsafe.Pointer) *Context {
	if !Supported {
		panic("taskrt/ctxswitch: stack switching unsupported on this GOARCH")
	}
	ctx := &Context{
		low:  stack.LowAddr(),
		high: stack.HighAddr(),
	}
	pending.Store(ctx, pendingEntry{fn: entry, arg: arg})
	bootstrap(ctx, stack)
	return ctx
}

// bootstrapEntry is called by the architecture trampoline on first
// activation, with ctxPtr the address of the Context being activated
// (stashed into the synthetic stack frame by the bootstrap layout code in
// swap_<GOARCH>.go). It never returns to its caller — the task
// entry point is expected to run the task to completion and explicitly
// Swap back to a worker context (see pkg/task's Task.bootstrapEntry).
func bootstrapEntry(ctxPtr uintptr) {
	ctx := (*Context)(unsafe.Pointer(ctxPtr))
	v, ok := pending.Load(ctx)
	if !ok {
		panic("taskrt/ctxswitch: activated context with no registered entry point")
	}
	pending.Delete(ctx)
	e := v.(pendingEntry)
	e.fn(e.arg)
	panic("taskrt/ctxswitch: EntryFunc returned; tasks must switch out explicitly")
}
