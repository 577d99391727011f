package rtmutex

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/wellrun/micro-os-plus-iii/pkg/clock"
	"github.com/wellrun/micro-os-plus-iii/pkg/errors"
	"github.com/wellrun/micro-os-plus-iii/pkg/sched"
)

// snapshot captures observable mutex state as plain exported fields, so it
// can be compared with cmp.Diff without running into *errors.Error's or
// *sched.Thread's unexported fields.
type snapshot struct {
	Owner string
	Count int32
}

func snapshotOf(m *Mutex) snapshot {
	s := snapshot{Count: m.count}
	if m.owner != nil {
		s.Owner = m.owner.Name
	}
	return s
}

// Basic mutual exclusion between two equal-priority threads.
func TestScenarioBasicMutualExclusion(t *testing.T) {
	s := sched.New()
	m, _ := New(s, DefaultAttributes())
	t1 := newTestThread("t1", 20)
	t2 := newTestThread("t2", 20)

	mustOk(t, m.Lock(t1))
	if diff := cmp.Diff(snapshot{Owner: "t1", Count: 1}, snapshotOf(m)); diff != "" {
		t.Fatalf("state after T1 locks (-want +got):\n%s", diff)
	}

	var g errgroup.Group
	g.Go(func() error { return m.Lock(t2) })
	waitUntilWaiting(t, m, t2)

	if diff := cmp.Diff(snapshot{Owner: "t1", Count: 1}, snapshotOf(m)); diff != "" {
		t.Fatalf("state while T2 blocked (-want +got):\n%s", diff)
	}

	mustOk(t, m.Unlock(t1))
	if diff := cmp.Diff(snapshot{Owner: "", Count: 0}, snapshotOf(m)); diff != "" {
		t.Fatalf("state immediately after T1 unlocks (-want +got):\n%s", diff)
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("T2's Lock = %v, want nil", err)
	}
	if diff := cmp.Diff(snapshot{Owner: "t2", Count: 1}, snapshotOf(m)); diff != "" {
		t.Fatalf("state after T2 acquires (-want +got):\n%s", diff)
	}
	mustOk(t, m.Unlock(t2))
}

// Priority inheritance: a high-priority waiter boosts the low-priority
// owner until release.
func TestScenarioPriorityInheritance(t *testing.T) {
	s := sched.New()
	attrs := DefaultAttributes()
	attrs.Protocol = ProtocolInherit
	m, _ := New(s, attrs)
	low := newTestThread("low", 10)
	high := newTestThread("high", 30)

	mustOk(t, m.Lock(low))

	var g errgroup.Group
	g.Go(func() error { return m.Lock(high) })
	waitUntilWaiting(t, m, high)

	waitUntilTrue(t, func() bool { return low.Priority() == 30 })

	if err := m.Unlock(low); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	// Restoration happens synchronously, inside the same critical section
	// that wakes T_high: by the time Unlock returns, T_low is already
	// back to its base priority, before T_high has had a chance to run.
	if low.Priority() != 10 {
		t.Fatalf("low.Priority() = %v immediately after unlock, want restored 10", low.Priority())
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("high's Lock = %v, want nil", err)
	}
	if m.owner != high {
		t.Fatalf("owner = %v after high acquires, want high", m.owner)
	}
	mustOk(t, m.Unlock(high))
}

// Timed acquisition with priority restoration as waiters time out one at
// a time.
func TestScenarioTimedLockPriorityRestoration(t *testing.T) {
	s := sched.New()
	mc := clock.NewManual()
	attrs := DefaultAttributes()
	attrs.Protocol = ProtocolInherit
	attrs.Clock = mc
	m, _ := New(s, attrs)

	low := newTestThread("low", 10)
	mid := newTestThread("mid", 20)
	high := newTestThread("high", 30)

	mustOk(t, m.Lock(low))

	midDone := make(chan error, 1)
	highDone := make(chan error, 1)
	go func() { midDone <- m.TimedLock(mid, clock.Duration(100)) }()
	waitUntilWaiting(t, m, mid)
	go func() { highDone <- m.TimedLock(high, clock.Duration(200)) }()
	waitUntilWaiting(t, m, high)

	waitUntilTrue(t, func() bool { return low.Priority() == 30 })

	mc.Advance(100) // fires mid's deadline
	select {
	case err := <-midDone:
		if err != errors.ErrTimedOut {
			t.Fatalf("mid's TimedLock = %v, want ErrTimedOut", err)
		}
	case <-time.After(time.Second):
		t.Fatal("mid never timed out")
	}
	if low.Priority() != 30 {
		t.Fatalf("low.Priority() = %v after mid times out, want still boosted to 30 (high remains)", low.Priority())
	}

	mc.Advance(100) // fires high's deadline
	select {
	case err := <-highDone:
		if err != errors.ErrTimedOut {
			t.Fatalf("high's TimedLock = %v, want ErrTimedOut", err)
		}
	case <-time.After(time.Second):
		t.Fatal("high never timed out")
	}
	if low.Priority() != 10 {
		t.Fatalf("low.Priority() = %v after high times out, want restored to base 10", low.Priority())
	}

	mustOk(t, m.Unlock(low))
}

func waitUntilTrue(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
