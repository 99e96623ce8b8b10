// Package ctxswitch implements the architecture-specific stack-switching
// primitive the task runtime builds its stackful coroutines on: a
// minimal Context type exposing make and swap, with hand-written
// assembly for x86-64 and aarch64 and a refusal to initialize
// elsewhere. This mirrors how the Go runtime itself switches between
// goroutine and system stacks (src/runtime/asm_*.s) — the difference
// here is that the switch is exposed as a library primitive rather
// than baked into the scheduler.
package ctxswitch

import "unsafe"

// Supported reports whether Swap/MakeContext are implemented for the
// running GOARCH. Callers (pkg/executor) must check this at
// construction time and fail pool initialization otherwise.
var Supported = supported

// Context records one coroutine's suspended state: the saved stack
// pointer plus the static bounds of its stack. The callee-saved
// registers themselves are pushed onto the suspended coroutine's own
// stack by swap_<GOARCH>.s (and laid out for a fresh context by the
// bootstrap code in swap_<GOARCH>.go); Go code never reads them
// directly.
type Context struct {
	sp   uintptr // current saved stack pointer; mutated by every Swap
	low  uintptr // static low bound (guard-page-adjacent), 0 for worker contexts
	high uintptr // static high bound, 0 for worker contexts
}

// EntryFunc is invoked once, on the task's own stack, the first time its
// Context is swapped into. It must not return: task completion explicitly
// switches back to the worker context (see pkg/task).
type EntryFunc func(arg unsafe.Pointer)

// Current returns a zero Context representing the calling goroutine's own
// execution state. It is only ever used as the "from"/"to" side of a
// Swap on the thread that owns it — never activated via MakeContext.
func Current() *Context { return &Context{} }

// StackBounds reports the static [low, high) usable range backing ctx's
// stack, as captured by MakeContext. Zero for a worker context obtained
// via Current (it has no runtime-managed stack).
func (ctx *Context) StackBounds() (low, high uintptr) {
	return ctx.low, ctx.high
}
