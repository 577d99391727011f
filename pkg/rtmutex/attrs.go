// Package rtmutex implements a POSIX-inspired mutex for a priority-based
// preemptive scheduler (pkg/sched): normal, error-checking and recursive
// relock semantics, priority-inheritance and priority-ceiling protocols,
// timed acquisition against a monotonic clock, and the robust-mutex
// owner-death state machine.
package rtmutex

import (
	"github.com/wellrun/micro-os-plus-iii/pkg/clock"
	"github.com/wellrun/micro-os-plus-iii/pkg/sched"
)

// Type selects relock and recursion behavior.
type Type int

const (
	// TypeDefault resolves to TypeNormal at construction.
	TypeDefault Type = iota
	// TypeNormal deadlocks the caller on relock and leaves unlock-when-not-
	// owner as undefined behavior (diagnosed as NotRecoverable).
	TypeNormal
	// TypeErrorCheck returns Deadlock on relock and NotPermitted on
	// unlock-when-not-owner.
	TypeErrorCheck
	// TypeRecursive allows up to MaxCount nested relocks by the owner.
	TypeRecursive
)

// Protocol selects the priority protocol applied while the mutex is held.
type Protocol int

const (
	// ProtocolNone applies no priority adjustment.
	ProtocolNone Protocol = iota
	// ProtocolInherit boosts the owner to the highest-priority blocked
	// waiter (priority inheritance).
	ProtocolInherit
	// ProtocolProtect boosts the owner to a fixed priority ceiling
	// (priority protection/ceiling).
	ProtocolProtect
)

// Robustness selects whether the mutex tracks owner-death.
type Robustness int

const (
	// RobustnessStalled is the default: an owner's death leaves the mutex
	// permanently locked (no recovery tracking).
	RobustnessStalled Robustness = iota
	// RobustnessRobust makes owner-death observable via OwnerDead/Consistent.
	// Construction with this robustness currently fails with
	// ErrNotSupported.
	RobustnessRobust
)

// Attributes are immutable once a Mutex is constructed from them; later
// mutation of the Attributes value passed to New has no effect on the
// mutex.
type Attributes struct {
	Type            Type
	Protocol        Protocol
	Robustness      Robustness
	PriorityCeiling sched.Priority
	// MaxCount caps recursion depth for TypeRecursive; ignored otherwise
	// (effectively 1).
	MaxCount int32
	// Clock is the time source TimedLock measures deadlines against. Nil
	// selects clock.System.
	Clock clock.Source
	// Name is an optional human label included in diagnostic log lines.
	Name string
}

// DefaultAttributes returns the attributes of a plain, non-recursive mutex
// with no priority protocol.
func DefaultAttributes() Attributes {
	return Attributes{Type: TypeNormal}
}

// DefaultRecursiveAttributes returns the attributes of a recursive mutex
// with an effectively unbounded recursion cap.
func DefaultRecursiveAttributes() Attributes {
	return Attributes{Type: TypeRecursive, MaxCount: 1<<31 - 1}
}

func (a Attributes) resolved() Attributes {
	if a.Type == TypeDefault {
		a.Type = TypeNormal
	}
	if a.Type != TypeRecursive {
		a.MaxCount = 1
	} else if a.MaxCount <= 0 {
		a.MaxCount = 1
	}
	if a.Clock == nil {
		a.Clock = clock.System
	}
	return a
}

// String implements fmt.Stringer, returning the mutex's name if set.
func (a Attributes) String() string {
	if a.Name == "" {
		return "<anonymous>"
	}
	return a.Name
}
