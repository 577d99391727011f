// Package sched implements the minimal scheduler surface the mutex
// depends on: thread priority read/write, critical-section scopes at two
// nesting levels, reschedule, and intrusive wait-list link/unlink. It is
// deliberately narrow: a capability interface the mutex can be tested
// against, not a general-purpose kernel.
package sched

import (
	"sync/atomic"

	"github.com/wellrun/micro-os-plus-iii/pkg/ilist"
)

// Priority is a thread priority level. Higher values run first.
type Priority int32

// PriorityNone means "no boost" or "no waiters".
const PriorityNone Priority = -1

// Thread is the handle the mutex package depends on: a mutable priority,
// an interrupted flag, an acquired-mutex counter, and a wake channel used
// by Scheduler.Reschedule.
type Thread struct {
	ID   uint64
	Name string

	priority        atomic.Int32
	interrupted     atomic.Bool
	acquiredMutexes atomic.Int32

	resume chan struct{}
}

// NewThread creates a Thread running at the given base priority.
func NewThread(id uint64, name string, priority Priority) *Thread {
	t := &Thread{ID: id, Name: name, resume: make(chan struct{}, 1)}
	t.priority.Store(int32(priority))
	return t
}

// Priority returns the thread's current effective priority.
func (t *Thread) Priority() Priority { return Priority(t.priority.Load()) }

// SetPriority overwrites the thread's current priority with a single
// atomic store; it enters no critical section itself.
func (t *Thread) SetPriority(p Priority) { t.priority.Store(int32(p)) }

// Interrupted reports whether the thread has been asked to abandon a
// blocking wait.
func (t *Thread) Interrupted() bool { return t.interrupted.Load() }

// SetInterrupted sets or clears the thread's interrupted flag.
func (t *Thread) SetInterrupted(v bool) { t.interrupted.Store(v) }

// AcquiredMutexes returns how many mutexes this thread currently owns.
func (t *Thread) AcquiredMutexes() int32 { return t.acquiredMutexes.Load() }

// IncAcquiredMutexes records a successful first-time mutex acquisition.
func (t *Thread) IncAcquiredMutexes() { t.acquiredMutexes.Add(1) }

// DecAcquiredMutexes records a final mutex release.
func (t *Thread) DecAcquiredMutexes() { t.acquiredMutexes.Add(-1) }

// Wake resumes a thread blocked in Scheduler.Reschedule. It is safe to call
// from any goroutine (unlock's wakeup, or a clock timeout callback) and is
// idempotent: waking an already-runnable thread does not double-wake it,
// because resume is a capacity-1 channel and a pending signal is enough.
func (t *Thread) Wake() {
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

// WaitNode is the per-wait link binding a Thread to a wait list. Its
// lifetime is strictly nested inside the blocking call that created it,
// and exactly one WaitNode exists per blocked call.
type WaitNode struct {
	ilist.Entry
	Thread *Thread
}

// NewWaitNode binds a fresh wait node to t.
func NewWaitNode(t *Thread) *WaitNode { return &WaitNode{Thread: t} }
