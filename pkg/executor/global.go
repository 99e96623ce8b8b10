package executor

import (
	"sync"

	"github.com/odvcencio/taskrt/pkg/rtconfig"
	"github.com/odvcencio/taskrt/pkg/task"
)

var (
	globalOnce sync.Once
	globalPool *Pool
	globalErr  error
)

// Global returns the process-wide default Pool, constructing it on
// first use with a zero (all-defaults) Config, for callers that don't
// need an isolated pool.
func Global() (*Pool, error) {
	globalOnce.Do(func() {
		globalPool, globalErr = New(rtconfig.Config{})
	})
	return globalPool, globalErr
}

// Current returns the Pool driving the calling task, if the caller is
// running inside one.
func Current() (*Pool, bool) {
	t, ok := task.Current()
	if !ok {
		return nil, false
	}
	p, ok := t.Scheduler().(*Pool)
	return p, ok
}
