//go:build amd64

package ctxswitch

import (
	"encoding/binary"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/stackarena"
)

// Swap performs a symmetric, cooperative switch between two coroutine
// contexts: the caller's live callee-saved registers and stack pointer
// are saved into from, then to's are restored and control resumes where
// the target last suspended (or, on first activation, at the bootstrap
// trampoline). Implemented in swap_amd64.s.
func Swap(from, to *Context)

// trampolinePC returns the address of the taskentry bootstrap label,
// implemented in swap_amd64.s. It is the classic Go-asm trick for
// obtaining a raw function pointer to a TEXT symbol without calling it.
func trampolinePC() uintptr

const (
	wordSize   = 8
	frameWords = 7 // r15, r14, r13, r12, rbx, rbp, return-address
)

// bootstrap plants a synthetic call frame at the top of stack shaped
// exactly like the one Swap's restore sequence expects: six callee-saved
// register slots followed by a return address. The return address is
// trampolinePC, and the r12 slot carries ctx's own address — the only
// way to smuggle the pending (EntryFunc, arg) lookup key through raw
// registers into bootstrapEntry.
func bootstrap(ctx *Context, stack *stackarena.Stack) {
	sp := (stack.HighAddr() &^ 0xF) - frameWords*wordSize

	var frame [frameWords * wordSize]byte
	binary.LittleEndian.PutUint64(frame[0:], 0)                                  // r15
	binary.LittleEndian.PutUint64(frame[8:], 0)                                  // r14
	binary.LittleEndian.PutUint64(frame[16:], 0)                                 // r13
	binary.LittleEndian.PutUint64(frame[24:], uint64(uintptr(unsafe.Pointer(ctx)))) // r12 := &ctx
	binary.LittleEndian.PutUint64(frame[32:], 0)                                 // rbx
	binary.LittleEndian.PutUint64(frame[40:], 0)                                 // rbp
	binary.LittleEndian.PutUint64(frame[48:], uint64(trampolinePC()))            // return address

	stack.WriteAt(sp, frame[:])
	ctx.sp = sp
}
