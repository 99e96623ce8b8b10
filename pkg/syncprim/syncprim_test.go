package syncprim_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/taskrt/pkg/cmdbuf"
	"github.com/odvcencio/taskrt/pkg/executor"
	"github.com/odvcencio/taskrt/pkg/rtconfig"
	"github.com/odvcencio/taskrt/pkg/syncprim"
	"github.com/odvcencio/taskrt/pkg/task"
)

// runInPool submits a buffer running fn as a batch of n tasks and
// blocks the calling (non-task) goroutine until it finishes, returning
// the final status.
func runInPool(t *testing.T, p *executor.Pool, n int, fn task.RunFunc) cmdbuf.Status {
	t.Helper()
	spec := &task.Spec{Label: "t", N: n, Run: fn}
	buf := cmdbuf.New("t", []cmdbuf.Command{cmdbuf.SelectAnyWorker(), cmdbuf.EnqueueTask(spec)}, nil)
	h := p.Enqueue(buf)
	status, err := h.Join()
	require.NoError(t, err)
	return status
}

func TestMutex_MutualExclusionUnderContention(t *testing.T) {
	p, err := executor.New(rtconfig.Config{WorkerCount: 4})
	require.NoError(t, err)

	var mu syncprim.Mutex
	var counter int
	var inCritical atomic.Int32
	var sawOverlap atomic.Bool

	status := runInPool(t, p, 64, func(*task.Task, int) {
		require.NoError(t, mu.Lock())
		if inCritical.Add(1) != 1 {
			sawOverlap.Store(true)
		}
		counter++
		inCritical.Add(-1)
		require.NoError(t, mu.Unlock())
	})

	assert.Equal(t, cmdbuf.StatusCompleted, status)
	assert.False(t, sawOverlap.Load(), "two tasks observed the critical section simultaneously")
	assert.Equal(t, 64, counter)

	p.Join()
}

func TestMutex_TryLockFailsWhileHeld(t *testing.T) {
	var mu syncprim.Mutex
	require.True(t, mu.TryLock())
	assert.False(t, mu.TryLock())
	require.NoError(t, mu.Unlock())
	assert.True(t, mu.TryLock())
}

// TestProducerConsumer_BoundedBuffer exercises a bounded ring buffer of
// capacity 4 guarded by one Mutex and two Conditions (notFull/notEmpty):
// one producer task pushes 20 items, one consumer task pops all 20, and
// the buffer's length must never exceed its capacity.
func TestProducerConsumer_BoundedBuffer(t *testing.T) {
	p, err := executor.New(rtconfig.Config{WorkerCount: 4})
	require.NoError(t, err)

	const capacity = 4
	const total = 20

	var mu syncprim.Mutex
	var notFull, notEmpty syncprim.Condition
	var buf []int
	var maxLen int
	var popped []int

	produce := &task.Spec{Label: "producer", N: 1, Run: func(*task.Task, int) {
		for i := 0; i < total; i++ {
			require.NoError(t, mu.Lock())
			for len(buf) == capacity {
				require.NoError(t, notFull.Wait(&mu))
			}
			buf = append(buf, i)
			if len(buf) > maxLen {
				maxLen = len(buf)
			}
			require.NoError(t, notEmpty.Signal())
			require.NoError(t, mu.Unlock())
		}
	}}

	consume := &task.Spec{Label: "consumer", N: 1, Run: func(*task.Task, int) {
		for i := 0; i < total; i++ {
			require.NoError(t, mu.Lock())
			for len(buf) == 0 {
				require.NoError(t, notEmpty.Wait(&mu))
			}
			v := buf[0]
			buf = buf[1:]
			popped = append(popped, v)
			require.NoError(t, notFull.Signal())
			require.NoError(t, mu.Unlock())
		}
	}}

	cbuf := cmdbuf.New("producer-consumer", []cmdbuf.Command{
		cmdbuf.SelectAnyWorker(),
		cmdbuf.EnqueueTask(produce),
		cmdbuf.EnqueueTask(consume),
	}, nil)

	h := p.Enqueue(cbuf)
	status, err := h.Join()
	require.NoError(t, err)
	assert.Equal(t, cmdbuf.StatusCompleted, status)

	require.Len(t, popped, total)
	for i, v := range popped {
		assert.Equal(t, i, v)
	}
	assert.LessOrEqual(t, maxLen, capacity)

	p.Join()
}

func TestCondition_BroadcastWakesAllWaiters(t *testing.T) {
	p, err := executor.New(rtconfig.Config{WorkerCount: 8})
	require.NoError(t, err)

	var mu syncprim.Mutex
	var cond syncprim.Condition
	var ready bool
	var woken atomic.Int32

	const waiters = 6
	waiterSpec := &task.Spec{Label: "waiter", N: waiters, Run: func(*task.Task, int) {
		require.NoError(t, mu.Lock())
		for !ready {
			require.NoError(t, cond.Wait(&mu))
		}
		woken.Add(1)
		require.NoError(t, mu.Unlock())
	}}
	// The broadcaster must itself be a task: Mutex/Condition's slow
	// paths suspend through task.Task.FutexWait, which only resolves on
	// a worker thread running a task, not a bare test goroutine.
	broadcasterSpec := &task.Spec{Label: "broadcaster", N: 1, Run: func(tk *task.Task, _ int) {
		tk.Sleep(20 * time.Millisecond)
		require.NoError(t, mu.Lock())
		ready = true
		require.NoError(t, cond.Broadcast())
		require.NoError(t, mu.Unlock())
	}}

	buf := cmdbuf.New("broadcast", []cmdbuf.Command{
		cmdbuf.SelectAnyWorker(),
		cmdbuf.EnqueueTask(waiterSpec),
		cmdbuf.EnqueueTask(broadcasterSpec),
	}, nil)
	h := p.Enqueue(buf)

	status, err := h.Join()
	require.NoError(t, err)
	assert.Equal(t, cmdbuf.StatusCompleted, status)
	assert.EqualValues(t, waiters, woken.Load())

	p.Join()
}
