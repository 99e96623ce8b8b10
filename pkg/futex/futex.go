// Package futex layers a futex-style wait/wake/requeue API over
// pkg/parkinglot, the way Linux's futex(2) sits over a generic wait
// queue: callers compare a memory location against an expected value
// before parking, and wake operations select waiters with a compact
// predicate over their park token instead of the raw memory.
package futex

import (
	"sync/atomic"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/rtmetrics"
)

// Width is the size, in bytes, of the memory word futex_wait compares.
type Width int

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
	Width64 Width = 8
)

func (w Width) valid() bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	default:
		return false
	}
}

// Waiter is the scheduling hook futex needs from the caller (pkg/task):
// a way to suspend the current task and a way to later resume it. Both
// are threaded straight through to pkg/parkinglot.
type Waiter struct {
	Suspend func()
	Resume  func(unparkToken uintptr)
}

// Wait reads Width bytes at key with acquire semantics, compares
// against expect, and parks if they match. A mismatch returns Invalid
// immediately without parking — the caller raced with a concurrent
// writer and should reload and retry.
func Wait(lot *parkinglot.Lot, key unsafe.Pointer, width Width, expect uint64, token uintptr, deadline rtclock.Deadline, w Waiter) parkinglot.ParkResult {
	if !width.valid() {
		return parkinglot.ParkResult{Kind: parkinglot.Invalid}
	}
	validate := func() bool { return loadWidth(key, width) == expect }
	return lot.Park(parkinglot.Key(uintptr(key)), validate, nil, nil, token, deadline, w.Suspend, w.Resume)
}

// Waitv generalizes Wait to up to MaxWaitKeys keys, each with its own
// address/width/expect triple, resuming as soon as any one location's
// comparison holds and some other task wakes that key — or returning
// Invalid immediately if any single comparison already fails to match.
type WaitSpec struct {
	Key    unsafe.Pointer
	Width  Width
	Expect uint64
}

const MaxWaitKeys = parkinglot.MaxParkKeys

func Waitv(lot *parkinglot.Lot, specs []WaitSpec, token uintptr, deadline rtclock.Deadline, w Waiter) (parkinglot.ParkResult, error) {
	if len(specs) == 0 || len(specs) > MaxWaitKeys {
		return parkinglot.ParkResult{}, rterrors.New(rterrors.CodeKeyError, "futex_waitv: key count outside [1,128]")
	}
	for _, s := range specs {
		if !s.Width.valid() {
			return parkinglot.ParkResult{Kind: parkinglot.Invalid}, nil
		}
	}
	keys := make([]parkinglot.Key, len(specs))
	for i, s := range specs {
		keys[i] = parkinglot.Key(uintptr(s.Key))
	}
	validate := func() bool {
		for _, s := range specs {
			if loadWidth(s.Key, s.Width) != s.Expect {
				return false
			}
		}
		return true
	}
	return lot.ParkMultiple(keys, validate, nil, token, deadline, w.Suspend, w.Resume), nil
}

// Wake invokes unpark_filter on key, waking at most max matching waiters
// and returning the number actually woken.
func Wake(lot *parkinglot.Lot, key unsafe.Pointer, max int, filter Filter) (int, error) {
	ff, err := filter.compile()
	if err != nil {
		return 0, err
	}
	woken := 0
	res := lot.UnparkFilter(parkinglot.Key(uintptr(key)), func(token uintptr) parkinglot.FilterOp {
		if woken >= max {
			return parkinglot.FilterStop
		}
		op := ff(token)
		if op == parkinglot.FilterUnpark {
			woken++
		}
		return op
	}, nil)
	rtmetrics.FutexWakes.Add(float64(res.UnparkedCount))
	return res.UnparkedCount, nil
}

// Requeue composes an expect check against key `from` with
// unpark_requeue: if the current value at from does not equal expect,
// returns Invalid without waking or requeuing anyone. filter selects
// which waiters on from count toward maxWakes/maxRequeues, in FIFO
// order, exactly as Wake applies it; a waiter filter rejects is left
// parked on from untouched.
func Requeue(lot *parkinglot.Lot, from, to unsafe.Pointer, width Width, expect uint64, maxWakes, maxRequeues int, filter Filter) (wakeCount, requeueCount int, err error) {
	if !width.valid() {
		return 0, 0, nil
	}
	ff, err := filter.compile()
	if err != nil {
		return 0, 0, err
	}
	if loadWidth(from, width) != expect {
		return 0, 0, rterrors.New(rterrors.CodeInvalid, "futex_requeue: expect mismatch")
	}
	res := lot.UnparkRequeue(parkinglot.Key(uintptr(from)), parkinglot.Key(uintptr(to)), ff, func() (int, int) {
		return maxWakes, maxRequeues
	}, nil)
	rtmetrics.FutexWakes.Add(float64(res.UnparkedCount))
	return res.UnparkedCount, res.RequeuedCount, nil
}

// loadWidth reads addr with acquire semantics, the ordering every
// futex-backed comparison requires. sync/atomic has no
// sub-word primitive for the 1- and 2-byte widths the encoded filter
// also supports; a naturally aligned load of 1 or 2 bytes never tears
// on amd64 or arm64 (the only architectures pkg/ctxswitch supports), so
// a plain read stands in for them. 4- and 8-byte widths use the real
// atomic load.
func loadWidth(addr unsafe.Pointer, width Width) uint64 {
	switch width {
	case Width8:
		return uint64(*(*uint8)(addr))
	case Width16:
		return uint64(*(*uint16)(addr))
	case Width32:
		return uint64(atomic.LoadUint32((*uint32)(addr)))
	default:
		return atomic.LoadUint64((*uint64)(addr))
	}
}
