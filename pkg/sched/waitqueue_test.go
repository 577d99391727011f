package sched

import "testing"

func TestHighestPrefersPriorityThenFIFO(t *testing.T) {
	var q WaitQueue
	a := NewWaitNode(NewThread(1, "a", 10))
	b := NewWaitNode(NewThread(2, "b", 30))
	c := NewWaitNode(NewThread(3, "c", 30))
	q.Link(a)
	q.Link(b)
	q.Link(c)

	// b and c tie at 30; b linked first and wins.
	if got := q.Highest(); got != b {
		t.Fatalf("Highest = %s, want b", got.Thread.Name)
	}
	if got := q.MaxPriority(); got != 30 {
		t.Fatalf("MaxPriority = %v, want 30", got)
	}
}

func TestHighestTracksLatePriorityChange(t *testing.T) {
	var q WaitQueue
	a := NewWaitNode(NewThread(1, "a", 10))
	b := NewWaitNode(NewThread(2, "b", 20))
	q.Link(a)
	q.Link(b)

	// a is boosted after linking; the scan must see the new priority.
	a.Thread.SetPriority(40)
	if got := q.Highest(); got != a {
		t.Fatalf("Highest = %s, want boosted a", got.Thread.Name)
	}
}

func TestResumeOneUnlinksWakeTarget(t *testing.T) {
	var q WaitQueue
	a := NewWaitNode(NewThread(1, "a", 10))
	b := NewWaitNode(NewThread(2, "b", 30))
	q.Link(a)
	q.Link(b)

	if got := q.ResumeOne(); got != b {
		t.Fatalf("ResumeOne = %s, want b", got.Thread.Name)
	}
	if got := q.ResumeOne(); got != a {
		t.Fatalf("second ResumeOne = %s, want a", got.Thread.Name)
	}
	if got := q.ResumeOne(); got != nil {
		t.Fatalf("ResumeOne on empty queue = %v, want nil", got)
	}
}

func TestResumeAllEmptiesQueueInLinkOrder(t *testing.T) {
	var q WaitQueue
	nodes := []*WaitNode{
		NewWaitNode(NewThread(1, "a", 30)),
		NewWaitNode(NewThread(2, "b", 10)),
		NewWaitNode(NewThread(3, "c", 20)),
	}
	for _, n := range nodes {
		q.Link(n)
	}

	all := q.ResumeAll()
	if len(all) != 3 {
		t.Fatalf("ResumeAll returned %d nodes, want 3", len(all))
	}
	for i, n := range all {
		if n != nodes[i] {
			t.Fatalf("ResumeAll[%d] = %s, want %s", i, n.Thread.Name, nodes[i].Thread.Name)
		}
	}
	if !q.Empty() {
		t.Fatal("queue not empty after ResumeAll")
	}
	if q.MaxPriority() != PriorityNone {
		t.Fatalf("MaxPriority on empty queue = %v, want PriorityNone", q.MaxPriority())
	}
}

func TestUnlinkIsIdempotent(t *testing.T) {
	var q WaitQueue
	a := NewWaitNode(NewThread(1, "a", 10))
	q.Link(a)
	q.Unlink(a)
	q.Unlink(a)
	if !q.Empty() {
		t.Fatal("queue not empty after unlink")
	}
}
