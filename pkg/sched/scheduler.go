package sched

import "sync"

// Scheduler provides the two nesting levels of critical section the mutex
// needs: a scheduler-level section that serializes access to shared mutex
// state, and an interrupt-level section nested inside it that additionally
// protects wait-node link/unlink against a concurrent clock timeout
// firing. There is no interrupt controller here (a thread is a goroutine
// and an "interrupt" is whatever goroutine fires a clock timeout), so
// both sections are real mutexes.
//
// Every operation that touches a WaitQueue's links must hold the
// interrupt-level section: a woken waiter unlinks its own node without
// first re-entering the scheduler-level section, so the scheduler-level
// section alone is not enough to exclude it.
type Scheduler struct {
	mu  sync.Mutex // scheduler critical section
	irq sync.Mutex // interrupt-level critical section

	lockedFlag bool
	lockedMu   sync.Mutex
}

// New creates a ready-to-use Scheduler.
func New() *Scheduler { return &Scheduler{} }

// CriticalSection enters a scheduler critical section and returns a
// closure that exits it. Idiomatic usage is `defer s.CriticalSection()()`.
func (s *Scheduler) CriticalSection() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// UncriticalSection temporarily exits an already-entered scheduler
// critical section so a priority change can take effect immediately, and
// returns a closure that re-enters it. Must only be called while already
// inside a CriticalSection. Idiomatic usage is
// `defer s.UncriticalSection()()` nested inside the outer
// `defer s.CriticalSection()()`.
func (s *Scheduler) UncriticalSection() func() {
	s.mu.Unlock()
	return func() { s.mu.Lock() }
}

// InterruptCriticalSection enters the interrupt-level section nested
// inside a scheduler critical section. Wait-node link/unlink must run
// under it because a timed-out waiter mutates the same links without
// holding the scheduler-level section.
func (s *Scheduler) InterruptCriticalSection() func() {
	s.irq.Lock()
	return s.irq.Unlock
}

// LinkNode links node into q under the interrupt-level critical section.
func (s *Scheduler) LinkNode(q *WaitQueue, node *WaitNode) {
	defer s.InterruptCriticalSection()()
	q.Link(node)
}

// UnlinkNode idempotently removes node from q under the interrupt-level
// critical section. Safe to call on a node a waker already unlinked.
func (s *Scheduler) UnlinkNode(q *WaitQueue, node *WaitNode) {
	defer s.InterruptCriticalSection()()
	q.Unlink(node)
}

// ResumeOne unlinks and returns q's wake target (highest priority, ties
// broken by earliest link), or nil if q is empty. The caller wakes the
// returned node's thread.
func (s *Scheduler) ResumeOne(q *WaitQueue) *WaitNode {
	defer s.InterruptCriticalSection()()
	return q.ResumeOne()
}

// ResumeAll unlinks and returns every waiter in q, front to back.
func (s *Scheduler) ResumeAll(q *WaitQueue) []*WaitNode {
	defer s.InterruptCriticalSection()()
	return q.ResumeAll()
}

// MaxWaiterPriority returns the highest current priority among q's
// waiters, or PriorityNone if q is empty.
func (s *Scheduler) MaxWaiterPriority(q *WaitQueue) Priority {
	defer s.InterruptCriticalSection()()
	return q.MaxPriority()
}

// EachWaiter calls fn for every waiter in q, front (earliest linked) to
// back.
func (s *Scheduler) EachWaiter(q *WaitQueue, fn func(*WaitNode)) {
	defer s.InterruptCriticalSection()()
	q.Each(fn)
}

// Reschedule suspends the calling goroutine until the associated thread is
// woken (by Thread.Wake, called from an unlock's wakeup or a clock
// timeout). This is the only point at which a mutex operation suspends;
// callers must not hold any critical section when calling Reschedule.
func (s *Scheduler) Reschedule(t *Thread) {
	<-t.resume
}

// Lock puts the scheduler into "locked" mode, in which blocking mutex
// acquisition must refuse to run. This models an application-level
// scheduler suspend distinct from the (un)critical sections above.
func (s *Scheduler) Lock() {
	s.lockedMu.Lock()
	s.lockedFlag = true
	s.lockedMu.Unlock()
}

// Unlock takes the scheduler out of locked mode.
func (s *Scheduler) Unlock() {
	s.lockedMu.Lock()
	s.lockedFlag = false
	s.lockedMu.Unlock()
}

// Locked reports whether the scheduler is currently locked.
func (s *Scheduler) Locked() bool {
	s.lockedMu.Lock()
	defer s.lockedMu.Unlock()
	return s.lockedFlag
}

var interruptContext boolFlag

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (b *boolFlag) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func (b *boolFlag) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

// InInterruptContext reports whether the calling context has been marked
// as an interrupt handler via WithInterruptContext. There are no real
// interrupts in this simulation; the flag exists so the mutex entry
// points' interrupt-context rejection paths can be exercised.
func InInterruptContext() bool { return interruptContext.get() }

// WithInterruptContext runs fn with the process-wide interrupt-context
// flag set, then restores it.
func WithInterruptContext(fn func()) {
	interruptContext.set(true)
	defer interruptContext.set(false)
	fn()
}
