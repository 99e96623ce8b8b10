// Package cmdbuf implements the immutable command buffer: an ordered
// list of scheduler directives (worker selection, task submission, and
// in-buffer dependency barriers) admitted to a pool as a single unit,
// plus the consuming Handle a submitter uses to join, detach, or cancel
// it. pkg/executor drives a buffer's command iterator; this package
// knows nothing about ready queues or dispatch loops.
package cmdbuf

import (
	"github.com/odvcencio/taskrt/pkg/task"
)

// WorkerSelector is the opaque identity pkg/executor assigns its workers;
// cmdbuf only ever stores and compares it, never interprets it.
type WorkerSelector = task.WorkerID

// Kind discriminates a Command's variant.
type Kind int

const (
	// KindSelectWorker pins subsequent EnqueueTask commands to one worker.
	KindSelectWorker Kind = iota
	// KindSelectAnyWorker clears a prior worker pin.
	KindSelectAnyWorker
	// KindEnqueueTask submits a task.Spec under the current selection.
	KindEnqueueTask
	// KindWaitOnBarrier completes once every earlier EnqueueTask in the
	// same buffer has completed.
	KindWaitOnBarrier
	// KindWaitOnCmdIndirect completes once the command at (current - K)
	// completes, resolved transitively through its own dependencies.
	KindWaitOnCmdIndirect
)

// Command is one entry of a Buffer's ordered command list.
type Command struct {
	Kind Kind

	// Worker is valid for KindSelectWorker.
	Worker WorkerSelector

	// TaskSpec is valid for KindEnqueueTask.
	TaskSpec *task.Spec

	// BackRef is valid for KindWaitOnCmdIndirect: the command at
	// (index of this command) - BackRef.
	BackRef int
}

// SelectWorker pins subsequent EnqueueTask commands to w.
func SelectWorker(w WorkerSelector) Command {
	return Command{Kind: KindSelectWorker, Worker: w}
}

// SelectAnyWorker clears any prior worker pin.
func SelectAnyWorker() Command {
	return Command{Kind: KindSelectAnyWorker}
}

// EnqueueTask submits spec for execution under the buffer's current
// worker selection.
func EnqueueTask(spec *task.Spec) Command {
	return Command{Kind: KindEnqueueTask, TaskSpec: spec}
}

// WaitOnBarrier waits for every EnqueueTask issued earlier in the buffer.
func WaitOnBarrier() Command {
	return Command{Kind: KindWaitOnBarrier}
}

// WaitOnCmdIndirect waits for the command k positions back (1-indexed
// from this command) to complete.
func WaitOnCmdIndirect(k int) Command {
	return Command{Kind: KindWaitOnCmdIndirect, BackRef: k}
}

// Buffer is an immutable ordered list of Commands plus an optional label
// and deinit callback. Once built it is never mutated; pkg/executor
// reads it through an index, never a mutating iterator.
type Buffer struct {
	Label   string
	Cmds    []Command
	// OnDeinit, if non-nil, runs exactly once, after the buffer has
	// drained and its handle has been consumed, synchronously inside
	// whichever of those two events happens last (possibly the pool's
	// buffer-driver goroutine). It must not use this buffer's handle or
	// block on the same pool's admission ring.
	OnDeinit func()
}

// New constructs an immutable Buffer. The caller must not mutate cmds
// afterward; New takes ownership of the slice by copying it so a caller
// reusing its backing array cannot retroactively change a submitted
// buffer.
func New(label string, cmds []Command, onDeinit func()) *Buffer {
	owned := make([]Command, len(cmds))
	copy(owned, cmds)
	return &Buffer{Label: label, Cmds: owned, OnDeinit: onDeinit}
}

