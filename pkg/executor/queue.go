package executor

import (
	"sync"

	"github.com/odvcencio/taskrt/pkg/task"
)

// taskQueue is a plain mutex-guarded FIFO. Every worker owns one as its
// local ready queue; the Pool owns one more as the shared queue that
// SelectAnyWorker tasks are dropped onto. The multi-producer,
// multi-consumer requirement is satisfied at the pool level (many
// workers popping the shared queue, many buffer drivers pushing to it)
// without needing a lock-free structure — the critical sections here
// are a slice append/pop, short enough that a mutex never becomes the
// bottleneck at worker-pool scale.
type taskQueue struct {
	mu    sync.Mutex
	ready []*task.Task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

func (q *taskQueue) push(t *task.Task) {
	q.mu.Lock()
	q.ready = append(q.ready, t)
	q.mu.Unlock()
}

// tryPop removes and returns the longest-waiting task, FIFO.
func (q *taskQueue) tryPop() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false
	}
	t := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return t, true
}
