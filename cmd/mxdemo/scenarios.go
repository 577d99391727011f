package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wellrun/micro-os-plus-iii/pkg/clock"
	"github.com/wellrun/micro-os-plus-iii/pkg/errors"
	"github.com/wellrun/micro-os-plus-iii/pkg/rtmutex"
	"github.com/wellrun/micro-os-plus-iii/pkg/sched"
)

// scenario is one end-to-end walkthrough: given a
// trace sink, it drives threads against a fresh scheduler and mutex and
// returns an error if the observed outcome didn't match what the scenario
// is meant to demonstrate.
type scenario func(w io.Writer) error

var scenarios = map[string]scenario{
	"mutual-exclusion":       scenarioMutualExclusion,
	"errorcheck-deadlock":    scenarioErrorCheckDeadlock,
	"recursive-cap":          scenarioRecursiveCap,
	"priority-inheritance":   scenarioPriorityInheritance,
	"timed-lock-restoration": scenarioTimedLockRestoration,
	"priority-protect":       scenarioPriorityProtect,
}

// scenarioNames returns the registered scenario names, sorted for stable
// output from the list subcommand and a stable order for run.
func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func waitLinked(m *rtmutex.Mutex, waiter *sched.Thread) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		linked := false
		m.Each(func(t *sched.Thread) {
			if t == waiter {
				linked = true
			}
		})
		if linked {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func waitUntil(cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Scenario 1: basic mutual exclusion between two equal-priority threads.
func scenarioMutualExclusion(w io.Writer) error {
	s := sched.New()
	m, _ := rtmutex.New(s, rtmutex.DefaultAttributes())
	t1 := sched.NewThread(1, "T1", 20)
	t2 := sched.NewThread(2, "T2", 20)

	if err := m.Lock(t1); err != nil {
		return fmt.Errorf("T1 lock: %w", err)
	}
	fmt.Fprintf(w, "T1 acquires the mutex\n")

	var g errgroup.Group
	g.Go(func() error { return m.Lock(t2) })
	waitLinked(m, t2)
	fmt.Fprintf(w, "T2 blocks behind T1\n")

	if err := m.Unlock(t1); err != nil {
		return fmt.Errorf("T1 unlock: %w", err)
	}
	fmt.Fprintf(w, "T1 releases the mutex\n")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("T2 lock: %w", err)
	}
	fmt.Fprintf(w, "T2 acquires the mutex\n")
	return m.Unlock(t2)
}

// Scenario 2: an errorcheck mutex relocked by its owner reports Deadlock
// instead of hanging.
func scenarioErrorCheckDeadlock(w io.Writer) error {
	s := sched.New()
	attrs := rtmutex.DefaultAttributes()
	attrs.Type = rtmutex.TypeErrorCheck
	m, _ := rtmutex.New(s, attrs)
	t1 := sched.NewThread(1, "T1", 10)

	if err := m.Lock(t1); err != nil {
		return fmt.Errorf("first lock: %w", err)
	}
	fmt.Fprintf(w, "T1 acquires the errorcheck mutex\n")

	err := m.Lock(t1)
	fmt.Fprintf(w, "T1 relocks its own mutex: %v\n", err)
	if err != errors.ErrDeadlock {
		return fmt.Errorf("relock = %v, want Deadlock", err)
	}
	return m.Unlock(t1)
}

// Scenario 3: a recursive mutex with MaxCount 3 caps nested relocks.
func scenarioRecursiveCap(w io.Writer) error {
	s := sched.New()
	attrs := rtmutex.DefaultAttributes()
	attrs.Type = rtmutex.TypeRecursive
	attrs.MaxCount = 3
	m, _ := rtmutex.New(s, attrs)
	t1 := sched.NewThread(1, "T1", 10)

	for i := 0; i < 3; i++ {
		if err := m.Lock(t1); err != nil {
			return fmt.Errorf("lock #%d: %w", i+1, err)
		}
		fmt.Fprintf(w, "T1 relocks recursively (depth %d)\n", i+1)
	}
	if err := m.Lock(t1); err == nil {
		return fmt.Errorf("4th lock succeeded, want Again")
	} else {
		fmt.Fprintf(w, "T1's 4th relock is refused: %v\n", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Unlock(t1); err != nil {
			return fmt.Errorf("unlock #%d: %w", i+1, err)
		}
	}
	fmt.Fprintf(w, "T1 unwinds all three levels\n")
	return nil
}

// Scenario 4: priority inheritance. A high-priority thread blocked on a
// low-priority owner boosts that owner until release.
func scenarioPriorityInheritance(w io.Writer) error {
	s := sched.New()
	attrs := rtmutex.DefaultAttributes()
	attrs.Protocol = rtmutex.ProtocolInherit
	m, _ := rtmutex.New(s, attrs)
	low := sched.NewThread(1, "T_low", 10)
	high := sched.NewThread(2, "T_high", 30)

	if err := m.Lock(low); err != nil {
		return fmt.Errorf("low lock: %w", err)
	}
	fmt.Fprintf(w, "T_low (prio 10) acquires the mutex\n")

	var g errgroup.Group
	g.Go(func() error { return m.Lock(high) })
	waitLinked(m, high)
	waitUntil(func() bool { return low.Priority() == 30 })
	fmt.Fprintf(w, "T_high (prio 30) blocks; T_low is boosted to %d\n", low.Priority())

	if err := m.Unlock(low); err != nil {
		return fmt.Errorf("low unlock: %w", err)
	}
	fmt.Fprintf(w, "T_low releases and is restored to %d\n", low.Priority())

	if err := g.Wait(); err != nil {
		return fmt.Errorf("high lock: %w", err)
	}
	fmt.Fprintf(w, "T_high acquires the mutex\n")
	return m.Unlock(high)
}

// Scenario 5: timed_lock priority restoration as waiters time out one at a
// time, using a manual clock so the demo is deterministic.
func scenarioTimedLockRestoration(w io.Writer) error {
	s := sched.New()
	mc := clock.NewManual()
	attrs := rtmutex.DefaultAttributes()
	attrs.Protocol = rtmutex.ProtocolInherit
	attrs.Clock = mc
	m, _ := rtmutex.New(s, attrs)

	low := sched.NewThread(1, "T_low", 10)
	mid := sched.NewThread(2, "T_mid", 20)
	high := sched.NewThread(3, "T_high", 30)

	if err := m.Lock(low); err != nil {
		return fmt.Errorf("low lock: %w", err)
	}
	fmt.Fprintf(w, "T_low (prio 10) acquires the mutex\n")

	midDone := make(chan error, 1)
	highDone := make(chan error, 1)
	go func() { midDone <- m.TimedLock(mid, clock.Duration(100)) }()
	waitLinked(m, mid)
	go func() { highDone <- m.TimedLock(high, clock.Duration(200)) }()
	waitLinked(m, high)
	waitUntil(func() bool { return low.Priority() == 30 })
	fmt.Fprintf(w, "T_mid and T_high both wait with timeouts; T_low boosted to %d\n", low.Priority())

	mc.Advance(100)
	if err := <-midDone; err == nil {
		return fmt.Errorf("T_mid's timed_lock succeeded, want TimedOut")
	}
	fmt.Fprintf(w, "T_mid times out; T_low remains boosted at %d (T_high still waits)\n", low.Priority())

	mc.Advance(100)
	if err := <-highDone; err == nil {
		return fmt.Errorf("T_high's timed_lock succeeded, want TimedOut")
	}
	fmt.Fprintf(w, "T_high times out; T_low drops back to %d\n", low.Priority())

	return m.Unlock(low)
}

// Scenario 6: priority-protect rejects an over-ceiling acquisition and
// boosts an under-ceiling owner up to the ceiling.
func scenarioPriorityProtect(w io.Writer) error {
	s := sched.New()
	attrs := rtmutex.DefaultAttributes()
	attrs.Protocol = rtmutex.ProtocolProtect
	attrs.PriorityCeiling = 20
	m, _ := rtmutex.New(s, attrs)

	tooHigh := sched.NewThread(1, "T_toohigh", 30)
	err := m.Lock(tooHigh)
	fmt.Fprintf(w, "T_toohigh (prio 30) locks against ceiling 20: %v\n", err)
	if err == nil {
		return fmt.Errorf("over-ceiling lock succeeded, want InvalidArgument")
	}

	owner := sched.NewThread(2, "T_owner", 10)
	if err := m.Lock(owner); err != nil {
		return fmt.Errorf("owner lock: %w", err)
	}
	fmt.Fprintf(w, "T_owner (prio 10) locks and is boosted to ceiling %d\n", owner.Priority())

	if err := m.Unlock(owner); err != nil {
		return fmt.Errorf("owner unlock: %w", err)
	}
	fmt.Fprintf(w, "T_owner releases and is restored to %d\n", owner.Priority())
	return nil
}
