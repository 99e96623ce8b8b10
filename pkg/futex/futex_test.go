package futex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/taskrt/pkg/parkinglot"
	"github.com/odvcencio/taskrt/pkg/rtclock"
	"github.com/odvcencio/taskrt/pkg/rterrors"
)

// blockingWaiter adapts a channel-blocked goroutine to the Waiter
// contract; tests stand in for a real task scheduler this way.
func blockingWaiter() Waiter {
	done := make(chan uintptr, 1)
	return Waiter{
		Suspend: func() { <-done },
		Resume:  func(tok uintptr) { done <- tok },
	}
}

func TestWait_MismatchReturnsInvalidWithoutParking(t *testing.T) {
	lot := parkinglot.New()
	var word uint32 = 5

	res := Wait(lot, unsafe.Pointer(&word), Width32, 9, 0, rtclock.NoDeadline, blockingWaiter())
	assert.Equal(t, parkinglot.Invalid, res.Kind)
}

func TestWait_MatchParksThenWakes(t *testing.T) {
	lot := parkinglot.New()
	var word uint32 = 5
	var started atomic.Bool

	var result parkinglot.ParkResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		started.Store(true)
		result = Wait(lot, unsafe.Pointer(&word), Width32, 5, 3, rtclock.NoDeadline, blockingWaiter())
	}()

	require.Eventually(t, started.Load, time.Second, time.Millisecond)
	// Give the goroutine time to actually reach the parked state before
	// waking it; Wake on an empty queue is a harmless no-op, so a short
	// fixed sleep (rather than polling lot internals from outside the
	// package) is good enough here.
	time.Sleep(20 * time.Millisecond)

	n, err := Wake(lot, unsafe.Pointer(&word), 1, All)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wg.Wait()
	assert.Equal(t, parkinglot.Unparked, result.Kind)
}

func TestFilter_RejectsIllFormedWithoutEvaluating(t *testing.T) {
	f := Filter{ArgDeref: true, Deref: false}
	_, err := f.compile()
	require.Error(t, err)

	f2 := Filter{Cmp: Comparator(99)}
	_, err = f2.compile()
	require.Error(t, err)
}

func TestWake_FilterSelectsByToken(t *testing.T) {
	lot := parkinglot.New()
	var word uint32
	const n = 4

	var wg sync.WaitGroup
	var parked sync.WaitGroup
	results := make([]parkinglot.ParkResult, n)
	parked.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done := make(chan uintptr, 1)
			w := Waiter{
				Suspend: func() {
					parked.Done()
					<-done
				},
				Resume: func(tok uintptr) { done <- tok },
			}
			results[i] = Wait(lot, unsafe.Pointer(&word), Width32, 0, uintptr(i+1), rtclock.NoDeadline, w)
		}(i)
	}
	parked.Wait()
	time.Sleep(10 * time.Millisecond) // let Park finish linking each waiter before Wake scans the bucket

	// Only the waiter parked with token 2 should wake.
	filter := Filter{Cmp: CmpEq, Mask: ^uint64(0), Arg: 2}
	woken, err := Wake(lot, unsafe.Pointer(&word), 8, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, woken)

	// Drain the rest so the goroutines don't leak past the test.
	_, err = Wake(lot, unsafe.Pointer(&word), 8, All)
	require.NoError(t, err)
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, parkinglot.Unparked, r.Kind, "waiter %d", i)
	}
}

func TestRequeue_MismatchReturnsInvalidWithoutTouchingWaiters(t *testing.T) {
	lot := parkinglot.New()
	var from, to uint32 = 1, 0

	_, _, err := Requeue(lot, unsafe.Pointer(&from), unsafe.Pointer(&to), Width32, 5, 1, 1, All)
	require.Error(t, err)
	assert.Equal(t, rterrors.CodeInvalid, err.(*rterrors.Error).Code)
}

func TestRequeue_WakesAndRequeuesByCountWithAllFilter(t *testing.T) {
	lot := parkinglot.New()
	var from, to uint32
	const n = 4

	var wg sync.WaitGroup
	var parked sync.WaitGroup
	results := make([]parkinglot.ParkResult, n)
	parked.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done := make(chan uintptr, 1)
			w := Waiter{
				Suspend: func() {
					parked.Done()
					<-done
				},
				Resume: func(tok uintptr) { done <- tok },
			}
			results[i] = Wait(lot, unsafe.Pointer(&from), Width32, 0, uintptr(i), rtclock.NoDeadline, w)
		}(i)
	}
	parked.Wait()
	time.Sleep(10 * time.Millisecond)

	woken, requeued, err := Requeue(lot, unsafe.Pointer(&from), unsafe.Pointer(&to), Width32, 0, 1, n-1, All)
	require.NoError(t, err)
	assert.Equal(t, 1, woken)
	assert.Equal(t, n-1, requeued)

	// Drain the requeued waiters so the goroutines don't leak past the test.
	_, err = Wake(lot, unsafe.Pointer(&to), n, All)
	require.NoError(t, err)
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, parkinglot.Unparked, r.Kind, "waiter %d", i)
	}
}

func TestRequeue_FilterSkipsNonMatchingWaiters(t *testing.T) {
	lot := parkinglot.New()
	var from, to uint32
	const n = 4

	var wg sync.WaitGroup
	var parked sync.WaitGroup
	dones := make([]chan uintptr, n)
	results := make([]parkinglot.ParkResult, n)
	parked.Add(n)
	for i := 0; i < n; i++ {
		dones[i] = make(chan uintptr, 1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := Waiter{
				Suspend: func() {
					parked.Done()
					<-dones[i]
				},
				Resume: func(tok uintptr) { dones[i] <- tok },
			}
			// Even i gets token i, matched by the filter below; odd i
			// does not and must remain parked on `from`.
			results[i] = Wait(lot, unsafe.Pointer(&from), Width32, 0, uintptr(i), rtclock.NoDeadline, w)
		}(i)
	}
	parked.Wait()
	time.Sleep(10 * time.Millisecond)

	// Filter selects only even park tokens (arg 0 with mask 1 matches
	// token & 1 == 0).
	evenOnly := Filter{Cmp: CmpEq, Mask: 1, Arg: 0}
	woken, requeued, err := Requeue(lot, unsafe.Pointer(&from), unsafe.Pointer(&to), Width32, 0, 1, n, evenOnly)
	require.NoError(t, err)
	assert.Equal(t, 1, woken)
	assert.Equal(t, 1, requeued)

	// Drain the requeued (even) waiter, then the two odd waiters still
	// parked on `from`.
	_, err = Wake(lot, unsafe.Pointer(&to), n, All)
	require.NoError(t, err)
	_, err = Wake(lot, unsafe.Pointer(&from), n, All)
	require.NoError(t, err)
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, parkinglot.Unparked, r.Kind, "waiter %d", i)
	}
}
