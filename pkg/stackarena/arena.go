package stackarena

import (
	"sync"

	"github.com/odvcencio/taskrt/pkg/rtmetrics"
)

// Arena owns the stack-cache policy for one worker pool: a per-worker
// free list capped at cacheLen entries, with excess returned to the OS.
// Allocation failure (OOM) is returned to the caller rather than
// panicking, so it propagates to the submitter as a command buffer
// abort instead of being silently lost.
type Arena struct {
	mu        sync.Mutex
	free      []workerFreeList
	minSize   int
	cacheLen  int
	noCache   bool
	guard     bool
}

type workerFreeList struct {
	stacks []*Stack
}

// Config controls Arena construction.
type Config struct {
	WorkerCount   int
	MinStackSize  int
	CacheLen      int
	DisableCache  bool
	GuardPages    bool
}

// New builds an Arena sized for workerCount workers.
func New(cfg Config) *Arena {
	a := &Arena{
		free:     make([]workerFreeList, cfg.WorkerCount),
		minSize:  cfg.MinStackSize,
		cacheLen: cfg.CacheLen,
		noCache:  cfg.DisableCache,
		guard:    cfg.GuardPages,
	}
	return a
}

// Acquire returns a stack for workerID, preferring the worker's own free
// list before falling back to a fresh OS mapping.
func (a *Arena) Acquire(workerID int) (*Stack, error) {
	if !a.noCache && workerID >= 0 && workerID < len(a.free) {
		a.mu.Lock()
		wl := &a.free[workerID]
		if n := len(wl.stacks); n > 0 {
			s := wl.stacks[n-1]
			wl.stacks = wl.stacks[:n-1]
			a.mu.Unlock()
			rtmetrics.StackCacheHits.Inc()
			return s, nil
		}
		a.mu.Unlock()
	}

	rtmetrics.StackCacheMisses.Inc()
	return allocate(a.minSize, a.guard)
}

// Release returns s to workerID's free list if there is room, otherwise
// frees it back to the OS immediately.
func (a *Arena) Release(workerID int, s *Stack) {
	if s == nil {
		return
	}
	if a.noCache || workerID < 0 || workerID >= len(a.free) {
		_ = s.free()
		return
	}

	a.mu.Lock()
	wl := &a.free[workerID]
	if len(wl.stacks) < a.cacheLen {
		wl.stacks = append(wl.stacks, s)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	_ = s.free()
}

// Close frees every cached stack, returning them to the OS. Intended for
// use at pool shutdown (Drained -> Destroyed).
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.free {
		for _, s := range a.free[i].stacks {
			_ = s.free()
		}
		a.free[i].stacks = nil
	}
}
