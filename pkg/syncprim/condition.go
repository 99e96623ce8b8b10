package syncprim

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/odvcencio/taskrt/pkg/futex"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
	"github.com/odvcencio/taskrt/pkg/task"
)

// Condition is a futex-backed condition variable: a generation counter
// plus, implicitly, the identity of whichever Mutex its callers pass to
// Wait. Spurious wakeups are possible; callers must re-check their
// predicate in a loop, same as any futex-based condvar. The zero value
// is a ready-to-use Condition.
type Condition struct {
	counter atomic.Uint32
}

// Wait releases mu, blocks until a matching Signal/Broadcast observes a
// new generation, then re-acquires mu before returning. A condition may
// only migrate to a different Mutex once every task parked against its
// previous one has woken — the caller's responsibility, not enforced
// here.
func (c *Condition) Wait(mu *Mutex) error {
	return c.WaitDeadline(mu, rtclock.NoDeadline)
}

// WaitDeadline is Wait with an absolute deadline; it returns whatever
// error mu.Lock's re-acquisition produces, even on timeout, since the
// caller must always regain the mutex before inspecting its predicate.
func (c *Condition) WaitDeadline(mu *Mutex, deadline rtclock.Deadline) error {
	t, ok := task.Current()
	if !ok {
		return rterrors.New(rterrors.CodeNotATask, "syncprim: condition wait requires a task")
	}
	gen := c.counter.Load()
	if err := mu.Unlock(); err != nil {
		return err
	}
	lot := t.Lot()
	t.FutexWait(lot, unsafe.Pointer(&c.counter), futex.Width32, uint64(gen), 0, deadline)
	return mu.Lock()
}

// Signal wakes at most one waiter.
func (c *Condition) Signal() error {
	return c.wake(1)
}

// Broadcast wakes every current waiter.
func (c *Condition) Broadcast() error {
	return c.wake(math.MaxInt)
}

func (c *Condition) wake(max int) error {
	t, ok := task.Current()
	if !ok {
		return rterrors.New(rterrors.CodeNotATask, "syncprim: condition signal/broadcast requires a task")
	}
	c.counter.Add(1)
	_, err := futex.Wake(t.Lot(), unsafe.Pointer(&c.counter), max, futex.All)
	return err
}
