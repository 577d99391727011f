package rtmutex

import (
	"github.com/wellrun/micro-os-plus-iii/pkg/clock"
	"github.com/wellrun/micro-os-plus-iii/pkg/errors"
	"github.com/wellrun/micro-os-plus-iii/pkg/log"
	"github.com/wellrun/micro-os-plus-iii/pkg/sched"
)

// Mutex is a POSIX-style mutex with relock semantics selected by Type, an
// optional priority-inheritance or priority-ceiling protocol, and (when
// supported) robust owner-death tracking.
//
// All mutable state is protected by the owning Scheduler's critical
// section; callers never need to lock anything themselves beyond calling
// the methods below.
type Mutex struct {
	attrs Attributes
	sched *sched.Scheduler
	log   log.Logger

	owner              *sched.Thread
	count              int32
	waiters            sched.WaitQueue
	ownerSavedPriority sched.Priority
	boostedPriority    sched.Priority
	consistentState    bool
	recoverable        bool
}

// New constructs a mutex bound to s with the given attributes. It fails
// with ErrNotPermitted when called from interrupt context and with
// ErrNotSupported for robust mutexes, which are not implemented.
func New(s *sched.Scheduler, attrs Attributes) (*Mutex, error) {
	if sched.InInterruptContext() {
		return nil, errors.ErrNotPermitted
	}
	if attrs.Robustness == RobustnessRobust {
		return nil, errors.ErrNotSupported
	}
	return newMutex(s, attrs), nil
}

// newUnrobustChecked builds a mutex without the public robust-rejection
// check, for internal tests that exercise the Consistent/OwnerDead state
// machine the public constructor never reaches.
func newUnrobustChecked(s *sched.Scheduler, attrs Attributes) *Mutex {
	return newMutex(s, attrs)
}

func newMutex(s *sched.Scheduler, attrs Attributes) *Mutex {
	a := attrs.resolved()
	return &Mutex{
		attrs:              a,
		sched:              s,
		log:                log.RateLimited(log.Log(), 50),
		ownerSavedPriority: sched.PriorityNone,
		boostedPriority:    sched.PriorityNone,
		consistentState:    true,
		recoverable:        true,
	}
}

// Name returns the mutex's label, or "<anonymous>" if none was set.
func (m *Mutex) Name() string { return m.attrs.String() }

// tryLockLocked is the non-blocking acquisition decision table. It must be
// called with the scheduler critical section held. When protocolActive is
// false (used only by SetPrioCeiling, which must acquire without applying
// the protect boost), the priority-boost side effects are skipped; the
// over-ceiling rejection of a protect mutex still applies to every
// acquisition.
func (m *Mutex) tryLockLocked(t *sched.Thread, protocolActive bool) error {
	owner := m.owner

	if owner == nil {
		m.owner = t
		m.count = 1
		t.IncAcquiredMutexes()

		switch m.attrs.Protocol {
		case ProtocolInherit:
			if protocolActive {
				m.ownerSavedPriority = t.Priority()
			}
		case ProtocolProtect:
			if t.Priority() > m.attrs.PriorityCeiling {
				// Back out so the rejected acquisition leaves the
				// mutex unowned.
				m.owner = nil
				m.count = 0
				t.DecAcquiredMutexes()
				return errors.ErrInvalidArgument
			}
			if protocolActive {
				m.ownerSavedPriority = t.Priority()
				if m.attrs.PriorityCeiling > t.Priority() {
					m.boostedPriority = m.attrs.PriorityCeiling
					boosted := m.boostedPriority
					func() {
						defer m.sched.UncriticalSection()()
						t.SetPriority(boosted)
					}()
				}
			}
		}
		m.log.Debugf("lock %s by %s LCK", m.Name(), t.Name)
		if m.attrs.Robustness == RobustnessRobust && !m.consistentState {
			// The new owner holds the mutex already; OwnerDead is a
			// diagnostic on top of a successful acquisition, not a
			// failure to acquire.
			return errors.ErrOwnerDead
		}
		return nil
	}

	if owner == t {
		switch m.attrs.Type {
		case TypeRecursive:
			if m.count >= m.attrs.MaxCount {
				return errors.ErrAgain
			}
			m.count++
			m.log.Debugf("lock %s by %s >%d", m.Name(), t.Name, m.count)
			return nil
		case TypeErrorCheck:
			return errors.ErrDeadlock
		default: // TypeNormal
			return errors.ErrWouldBlock
		}
	}

	// Owned by another thread.
	if protocolActive && m.attrs.Protocol == ProtocolInherit {
		prio := t.Priority()
		if prio > owner.Priority() {
			m.boostedPriority = prio
			func() {
				defer m.sched.UncriticalSection()()
				owner.SetPriority(prio)
			}()
		}
	}
	return errors.ErrWouldBlock
}

// TryLock attempts to lock m without blocking.
func (m *Mutex) TryLock(t *sched.Thread) error {
	if sched.InInterruptContext() {
		return errors.ErrNotPermitted
	}
	defer m.sched.CriticalSection()()
	if !m.recoverable {
		return errors.ErrNotRecoverable
	}
	return m.tryLockLocked(t, true)
}

// blockingPreconditions implements the entry checks common to Lock,
// TimedLock and the internal ceiling-change acquisition: forbidden from
// interrupt context, forbidden while the scheduler is locked, and a
// non-recoverable mutex always fails fast.
func (m *Mutex) blockingPreconditions() error {
	if sched.InInterruptContext() {
		return errors.ErrNotPermitted
	}
	if m.sched.Locked() {
		return errors.ErrNotPermitted
	}
	defer m.sched.CriticalSection()()
	if !m.recoverable {
		return errors.ErrNotRecoverable
	}
	return nil
}

// attemptOnce runs tryFn inside one scheduler critical section; if the
// result is WouldBlock, it links node into the waiters queue (and, if arm
// is non-nil, arms a timeout) within that same critical section, so no
// release can slip between the failed attempt and the link.
func (m *Mutex) attemptOnce(tryFn func() error, node *sched.WaitNode, arm func()) (res error, blocked bool) {
	defer m.sched.CriticalSection()()
	res = tryFn()
	if isWouldBlock(res) {
		blocked = true
		m.sched.LinkNode(&m.waiters, node)
		if arm != nil {
			arm()
		}
	}
	return res, blocked
}

func isWouldBlock(err error) bool {
	e, ok := err.(*errors.Error)
	return ok && e.Code() == errors.WouldBlock
}

// Lock blocks until m is acquired. A normal mutex relocked by its own
// owner blocks on itself, realizing a true deadlock; errorcheck and
// recursive mutexes report relock through the error value instead.
func (m *Mutex) Lock(t *sched.Thread) error {
	if err := m.blockingPreconditions(); err != nil {
		return err
	}

	node := sched.NewWaitNode(t)
	for {
		res, blocked := m.attemptOnce(func() error { return m.tryLockLocked(t, true) }, node, nil)
		if !blocked {
			return res
		}

		m.log.Debugf("lock %s: %s blocks", m.Name(), t.Name)
		m.sched.Reschedule(t)
		m.sched.UnlinkNode(&m.waiters, node)

		if t.Interrupted() {
			m.recomputeBoostAfterDeparture()
			return errors.ErrInterrupted
		}
	}
}

// TimedLock blocks until m is acquired or timeout elapses. The deadline is
// read from the clock on entry, but the first acquisition attempt runs
// before any comparison against it, so an available mutex is never
// reported as timed out.
func (m *Mutex) TimedLock(t *sched.Thread, timeout clock.Duration) error {
	if err := m.blockingPreconditions(); err != nil {
		return err
	}

	deadline := m.attrs.Clock.Now() + clock.Timestamp(timeout)
	node := sched.NewWaitNode(t)
	tnode := &clock.TimeoutNode{Deadline: deadline, Payload: t}

	for {
		res, blocked := m.attemptOnce(func() error { return m.tryLockLocked(t, true) }, node, func() {
			m.attrs.Clock.Arm(tnode)
		})
		if !blocked {
			return res
		}

		m.sched.Reschedule(t)
		m.sched.UnlinkNode(&m.waiters, node)
		m.attrs.Clock.Disarm(tnode)

		// Termination checks: interruption first, then the deadline,
		// then another acquisition attempt.
		switch {
		case t.Interrupted():
			m.recomputeBoostAfterDeparture()
			return errors.ErrInterrupted
		case m.attrs.Clock.Now() >= deadline:
			m.recomputeBoostAfterDeparture()
			return errors.ErrTimedOut
		}
	}
}

// recomputeBoostAfterDeparture restores the inheritance invariant after a
// timed-out or interrupted waiter leaves the queue: the owner's boost is
// lowered to the new maximum waiter priority, or fully restored to the
// priority saved at acquisition when the departing waiter was the last
// one. Only applies under ProtocolInherit: a protect-protocol mutex's
// boost is the fixed ceiling and must never track waiter departures, or
// the owner could drop below the ceiling while still holding the mutex.
func (m *Mutex) recomputeBoostAfterDeparture() {
	defer m.sched.CriticalSection()()
	if m.boostedPriority == sched.PriorityNone || m.attrs.Protocol != ProtocolInherit {
		return
	}
	owner := m.owner
	max := m.sched.MaxWaiterPriority(&m.waiters)

	if max == sched.PriorityNone {
		saved := m.ownerSavedPriority
		m.boostedPriority = sched.PriorityNone
		if owner != nil {
			func() {
				defer m.sched.UncriticalSection()()
				owner.SetPriority(saved)
			}()
		}
		return
	}

	m.boostedPriority = max
	if owner != nil {
		func() {
			defer m.sched.UncriticalSection()()
			owner.SetPriority(max)
		}()
	}
}

// Unlock releases m. The owner's boosted priority, if any, is restored
// before the wake target is chosen, so the scheduler observes a single
// consistent transition; the woken waiter does not receive the mutex
// directly, it re-races for it in its own Lock loop.
func (m *Mutex) Unlock(t *sched.Thread) error {
	if sched.InInterruptContext() {
		return errors.ErrNotPermitted
	}

	defer m.sched.CriticalSection()()

	if m.owner == t {
		if m.attrs.Type == TypeRecursive && m.count > 1 {
			m.count--
			m.log.Debugf("unlock %s by %s >%d", m.Name(), t.Name, m.count)
			return nil
		}

		m.observeOwnerDeath()

		if m.boostedPriority != sched.PriorityNone {
			t.SetPriority(m.ownerSavedPriority)
			m.boostedPriority = sched.PriorityNone
		}

		if woken := m.sched.ResumeOne(&m.waiters); woken != nil {
			woken.Thread.Wake()
		}

		t.DecAcquiredMutexes()
		m.owner = nil
		m.count = 0
		m.log.Debugf("unlock %s by %s ULCK", m.Name(), t.Name)
		return nil
	}

	if m.attrs.Type == TypeErrorCheck || m.attrs.Type == TypeRecursive || m.attrs.Robustness == RobustnessRobust {
		return errors.ErrNotPermitted
	}

	// Normal, non-robust mutex unlocked by a non-owner: undefined
	// behavior per POSIX. Diagnosed rather than silently corrupting state.
	m.log.Warningf("unlock %s by non-owner %s: undefined behavior, reporting NotRecoverable", m.Name(), t.Name)
	return errors.ErrNotRecoverable
}

// Consistent marks a robust, inconsistent mutex consistent again. Fails
// with ErrInvalidArgument on a non-robust mutex or one that is already
// consistent.
func (m *Mutex) Consistent() error {
	if sched.InInterruptContext() {
		return errors.ErrNotPermitted
	}
	if m.attrs.Robustness != RobustnessRobust {
		return errors.ErrInvalidArgument
	}
	defer m.sched.CriticalSection()()
	if m.consistentState {
		return errors.ErrInvalidArgument
	}
	m.consistentState = true
	return nil
}

// unlockAfterOwnerDeath simulates a thread terminating while holding m:
// the mutex is released exactly as Unlock would release it, except the
// dying thread cannot call Unlock itself, and the mutex is left marked
// inconsistent so the next successful acquirer observes OwnerDead.
// Test-only: the owner-death hook has no real trigger without a
// thread-lifecycle subsystem, which is outside this package's scope.
func (m *Mutex) unlockAfterOwnerDeath() {
	defer m.sched.CriticalSection()()

	owner := m.owner
	if m.boostedPriority != sched.PriorityNone && owner != nil {
		owner.SetPriority(m.ownerSavedPriority)
		m.boostedPriority = sched.PriorityNone
	}
	if woken := m.sched.ResumeOne(&m.waiters); woken != nil {
		woken.Thread.Wake()
	}
	if owner != nil {
		owner.DecAcquiredMutexes()
	}
	m.owner = nil
	m.count = 0
	m.consistentState = false
}

// observeOwnerDeath makes the mutex permanently unrecoverable when the
// thread that inherited OwnerDead releases it without calling Consistent
// first.
func (m *Mutex) observeOwnerDeath() {
	if !m.consistentState {
		m.recoverable = false
		m.log.Warningf("mutex %s: unlocked after OwnerDead without Consistent(); now permanently unrecoverable", m.Name())
	}
}

// Reset returns m to its freshly constructed state and resumes every
// waiter. Resumed waiters observe a spurious release and re-race for the
// mutex in their own Lock/TimedLock loops; a waiter chosen by an
// interleaved Unlock just before Reset runs can therefore still lose that
// race to another resumed waiter. That is intended, observable behavior.
// Reset does not revive a mutex already in the permanent unrecoverable
// state.
func (m *Mutex) Reset() error {
	if sched.InInterruptContext() {
		return errors.ErrNotPermitted
	}

	defer m.sched.CriticalSection()()

	m.owner = nil
	m.count = 0
	m.consistentState = true
	m.ownerSavedPriority = sched.PriorityNone
	m.boostedPriority = sched.PriorityNone

	for _, n := range m.sched.ResumeAll(&m.waiters) {
		n.Thread.Wake()
	}
	m.log.Debugf("reset %s", m.Name())
	return nil
}

// Each calls fn for every thread currently blocked on m, front (earliest
// linked) to back. Exposed for callers that want to observe queue state
// without reaching into the package, e.g. a demo trace or a test waiting
// for a goroutine to have actually linked before asserting on it.
func (m *Mutex) Each(fn func(*sched.Thread)) {
	defer m.sched.CriticalSection()()
	m.sched.EachWaiter(&m.waiters, func(n *sched.WaitNode) { fn(n.Thread) })
}

// PrioCeiling returns the mutex's current priority ceiling.
func (m *Mutex) PrioCeiling() sched.Priority {
	defer m.sched.CriticalSection()()
	return m.attrs.PriorityCeiling
}

// SetPrioCeiling acquires m without applying the protect boost, swaps in
// newCeiling, and releases, returning the previous ceiling. Fails with
// the same errors as Lock.
func (m *Mutex) SetPrioCeiling(t *sched.Thread, newCeiling sched.Priority) (sched.Priority, error) {
	if err := m.blockingPreconditions(); err != nil {
		return sched.PriorityNone, err
	}

	node := sched.NewWaitNode(t)
	for {
		res, blocked := m.attemptOnce(func() error { return m.tryLockLocked(t, false) }, node, nil)
		if !blocked {
			if res != nil {
				return sched.PriorityNone, res
			}
			break
		}

		m.sched.Reschedule(t)
		m.sched.UnlinkNode(&m.waiters, node)
		if t.Interrupted() {
			m.recomputeBoostAfterDeparture()
			return sched.PriorityNone, errors.ErrInterrupted
		}
	}

	var previous sched.Priority
	func() {
		defer m.sched.CriticalSection()()
		previous = m.attrs.PriorityCeiling
		m.attrs.PriorityCeiling = newCeiling
	}()

	if err := m.Unlock(t); err != nil {
		return sched.PriorityNone, err
	}
	return previous, nil
}
