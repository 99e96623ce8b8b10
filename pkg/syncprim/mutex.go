// Package syncprim implements Mutex and Condition, the two
// user-facing blocking primitives built directly on pkg/futex (and,
// for Mutex's fair handoff, pkg/parkinglot's unpark callback). Both
// require the calling goroutine to be inside a task: the slow paths
// suspend through task.Task.FutexWait/ParkOn, which only a task knows
// how to do.
package syncprim

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/futex"
	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/task"
)

const (
	stateUnlocked uint32 = iota
	stateLocked
	stateContended
)

// spinIterations bounds Lock's adaptive spin before falling back to a
// real park. Short enough that an uncontended handoff between two busy
// tasks on different workers resolves without ever touching the
// parking lot.
const spinIterations = 40

// Mutex is a three-state futex-backed lock: Unlocked, Locked (no known
// waiters), Contended (at least one task is parked or about to park).
// The zero value is an unlocked Mutex.
type Mutex struct {
	state atomic.Uint32
}

func (m *Mutex) key() parkinglot.Key {
	return parkinglot.Key(uintptr(unsafe.Pointer(&m.state)))
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(stateUnlocked, stateLocked)
}

// Lock blocks the calling task until the mutex is acquired. It returns
// rterrors.CodeNotATask if the slow path is reached off a task thread —
// the fast path (no contention) never needs one.
func (m *Mutex) Lock() error {
	if m.TryLock() {
		return nil
	}
	for i := 0; i < spinIterations; i++ {
		if m.TryLock() {
			return nil
		}
		runtime.Gosched()
	}

	t, ok := task.Current()
	if !ok {
		return rterrors.New(rterrors.CodeNotATask, "syncprim: mutex lock slow path requires a task")
	}
	lot := t.Lot()
	for {
		prev := m.state.Swap(stateContended)
		if prev == stateUnlocked {
			return nil
		}
		t.FutexWait(lot, unsafe.Pointer(&m.state), futex.Width32, uint64(stateContended), 0, rtclock.NoDeadline)
	}
}

// Unlock releases the mutex. If the state observed Contended, it wakes
// exactly one waiter via the owning pool's parking lot; on a be_fair
// signal the new state is set before that waiter is resumed, handing
// off ownership directly instead of passing through Unlocked.
func (m *Mutex) Unlock() error {
	prev := m.state.Swap(stateUnlocked)
	if prev != stateContended {
		return nil
	}

	t, ok := task.Current()
	if !ok {
		return rterrors.New(rterrors.CodeNotATask, "syncprim: mutex unlock handoff requires a task")
	}
	lot := t.Lot()
	lot.UnparkOne(m.key(), func(res parkinglot.UnparkResult) uintptr {
		if res.UnparkedCount == 1 && res.BeFair {
			if res.HasMore {
				m.state.Store(stateContended)
			} else {
				m.state.Store(stateLocked)
			}
		}
		return 0
	})
	return nil
}
