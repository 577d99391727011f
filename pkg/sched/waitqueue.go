package sched

import "github.com/wellrun/micro-os-plus-iii/pkg/ilist"

// WaitQueue is an intrusive FIFO list of WaitNodes blocked on the same
// mutex. Highest-priority-FIFO selection is computed by scanning at wake
// time rather than by keeping the list sorted: waiter priorities can
// change after being linked (a waiter can itself be boosted by a third
// mutex), so a list sorted at link time would go stale.
//
// WaitQueue itself is not synchronized; callers go through the Scheduler
// wrappers, which hold the interrupt-level critical section across every
// link, unlink and scan.
type WaitQueue struct {
	list ilist.List
}

// Link appends node to the back of the queue, i.e. it becomes the most
// recently linked node. This preserves FIFO order among equal-priority
// waiters, since a linear scan from the front visits earlier arrivals
// first.
func (q *WaitQueue) Link(node *WaitNode) { q.list.PushBack(node) }

// Unlink removes node from the queue. Idempotent: safe to call on a node
// a waker has already unlinked.
func (q *WaitQueue) Unlink(node *WaitNode) { q.list.Remove(node) }

// Empty reports whether the queue has no waiters.
func (q *WaitQueue) Empty() bool { return q.list.Empty() }

// Each calls fn for every waiter, front (earliest-linked) to back.
func (q *WaitQueue) Each(fn func(*WaitNode)) {
	for e := q.list.Front(); e != nil; e = e.Next() {
		fn(e.(*WaitNode))
	}
}

// Highest returns the earliest-linked waiter among those at the maximum
// current priority, or nil if the queue is empty. This is unlock's wake
// target.
func (q *WaitQueue) Highest() *WaitNode {
	var best *WaitNode
	q.Each(func(n *WaitNode) {
		if best == nil || n.Thread.Priority() > best.Thread.Priority() {
			best = n
		}
	})
	return best
}

// MaxPriority returns the highest current priority among waiters, or
// PriorityNone if the queue is empty. Used by the boost-recompute step
// that keeps the owner's effective priority at or above every waiter's.
func (q *WaitQueue) MaxPriority() Priority {
	max := PriorityNone
	q.Each(func(n *WaitNode) {
		if p := n.Thread.Priority(); p > max {
			max = p
		}
	})
	return max
}

// ResumeOne unlinks and returns the queue's Highest waiter, or nil if the
// queue is empty. The caller is responsible for calling Wake on the
// returned node's Thread; unlinking here (rather than leaving it for the
// woken thread's own retry loop to do) keeps "owner == nil implies no
// waiter is being handed the mutex" true for the instant between Unlock
// returning and the woken thread actually running again.
func (q *WaitQueue) ResumeOne() *WaitNode {
	n := q.Highest()
	if n != nil {
		q.list.Remove(n)
	}
	return n
}

// ResumeAll unlinks every waiter and returns them, front to back. Used by
// Reset, which must leave the queue empty before returning.
func (q *WaitQueue) ResumeAll() []*WaitNode {
	var all []*WaitNode
	for e := q.list.Front(); e != nil; {
		n := e.(*WaitNode)
		next := e.Next()
		q.list.Remove(n)
		all = append(all, n)
		e = next
	}
	return all
}
