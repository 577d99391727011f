// Package ilist implements an intrusive doubly-linked list: entries can
// be added to or removed from a List in O(1) time with no allocation,
// because the link pointers live inside the element itself rather than in
// a separate node.
package ilist

// Linker is the interface an element must implement to be linked into a
// List.
type Linker interface {
	Next() Element
	Prev() Element
	SetNext(Element)
	SetPrev(Element)
}

// Element is the item type used at the List API level.
type Element interface {
	Linker
}

// List is an intrusive doubly-linked list. The zero value is an empty list
// ready to use.
type List struct {
	head Element
	tail Element
}

// Reset empties l.
func (l *List) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty reports whether l has no elements.
func (l *List) Empty() bool { return l.head == nil }

// Front returns the first element of l, or nil.
func (l *List) Front() Element { return l.head }

// Back returns the last element of l, or nil.
func (l *List) Back() Element { return l.tail }

// Len returns the number of elements in l. O(n).
func (l *List) Len() (n int) {
	for e := l.Front(); e != nil; e = e.Next() {
		n++
	}
	return n
}

// PushFront inserts e at the front of l.
func (l *List) PushFront(e Element) {
	e.SetNext(l.head)
	e.SetPrev(nil)
	if l.head != nil {
		l.head.SetPrev(e)
	} else {
		l.tail = e
	}
	l.head = e
}

// PushBack inserts e at the back of l.
func (l *List) PushBack(e Element) {
	e.SetNext(nil)
	e.SetPrev(l.tail)
	if l.tail != nil {
		l.tail.SetNext(e)
	} else {
		l.head = e
	}
	l.tail = e
}

// InsertBefore inserts e immediately before a, which must be in l.
func (l *List) InsertBefore(a, e Element) {
	b := a.Prev()
	e.SetNext(a)
	e.SetPrev(b)
	a.SetPrev(e)
	if b != nil {
		b.SetNext(e)
	} else {
		l.head = e
	}
}

// Remove removes e from l. Idempotent: calling Remove on an element not
// currently linked into any list (both pointers nil and not head/tail of
// l) is a no-op, which is what lets mutex wait-node cleanup run
// unconditionally on every exit path, including the one where a waker
// already unlinked the node.
func (l *List) Remove(e Element) {
	prev := e.Prev()
	next := e.Next()

	if prev != nil {
		prev.SetNext(next)
	} else if l.head == e {
		l.head = next
	} else {
		// Not linked into this list; nothing to do.
		return
	}

	if next != nil {
		next.SetPrev(prev)
	} else if l.tail == e {
		l.tail = prev
	}

	e.SetNext(nil)
	e.SetPrev(nil)
}

// Entry is an embeddable default implementation of Linker.
type Entry struct {
	next Element
	prev Element
}

// Next returns the entry following e.
func (e *Entry) Next() Element { return e.next }

// Prev returns the entry preceding e.
func (e *Entry) Prev() Element { return e.prev }

// SetNext assigns the entry following e.
func (e *Entry) SetNext(elem Element) { e.next = elem }

// SetPrev assigns the entry preceding e.
func (e *Entry) SetPrev(elem Element) { e.prev = elem }
