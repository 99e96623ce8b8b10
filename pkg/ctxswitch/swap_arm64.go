//go:build arm64

package ctxswitch

import (
	"encoding/binary"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/stackarena"
)

// Swap performs a symmetric, cooperative switch between two coroutine
// contexts on arm64. Implemented in swap_arm64.s.
func Swap(from, to *Context)

// trampolinePC returns the address of the taskentry bootstrap label.
func trampolinePC() uintptr

const (
	wordSize   = 8
	frameWords = 12 // x19-x28 (5 pairs) + x29/x30 pair = 6 STP slots of 16 bytes
	frameBytes = frameWords * wordSize
)

// bootstrap plants a synthetic frame matching the STP/LDP pairing Swap
// uses: x19..x28 in five pairs, then x29 (frame pointer) and x30 (link
// register, AAPCS64's return-address register) in the last pair. x30 is
// set to trampolinePC so the first RET inside Swap's restore branches
// into taskentry; x19 carries ctx's own address through to taskentry,
// the only way to pass the bootstrapEntry lookup key through registers.
func bootstrap(ctx *Context, stack *stackarena.Stack) {
	sp := (stack.HighAddr() &^ 0xF) - frameBytes

	var frame [frameBytes]byte
	binary.LittleEndian.PutUint64(frame[0:], uint64(uintptr(unsafe.Pointer(ctx)))) // x19 := &ctx
	binary.LittleEndian.PutUint64(frame[8:], 0)                                    // x20
	binary.LittleEndian.PutUint64(frame[16:], 0)                                   // x21
	binary.LittleEndian.PutUint64(frame[24:], 0)                                   // x22
	binary.LittleEndian.PutUint64(frame[32:], 0)                                   // x23
	binary.LittleEndian.PutUint64(frame[40:], 0)                                   // x24
	binary.LittleEndian.PutUint64(frame[48:], 0)                                   // x25
	binary.LittleEndian.PutUint64(frame[56:], 0)                                   // x26
	binary.LittleEndian.PutUint64(frame[64:], 0)                                   // x27
	binary.LittleEndian.PutUint64(frame[72:], 0)                                   // x28
	binary.LittleEndian.PutUint64(frame[80:], 0)                                   // x29 (fp)
	binary.LittleEndian.PutUint64(frame[88:], uint64(trampolinePC()))              // x30 (lr)

	stack.WriteAt(sp, frame[:])
	ctx.sp = sp
}
