package cache

import "errors"

// State is the lifecycle state of a Slot.
type State int

const (
	// Pending means the value is being fetched and has not yet settled.
	Pending State = iota
	// Resolved means the RPC succeeded; Value holds the result.
	Resolved
	// Rejected means the RPC failed; Err holds the captured error. A
	// rejected Slot is sticky: it never re-issues the RPC.
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ErrAlreadyPending is returned by RequestCache.InsertPending when a Slot
// for the fingerprint already exists.
var ErrAlreadyPending = errors.New("cache: fingerprint already has a slot")

// Owner identifies which access path put a Slot into Pending: a fetch
// arriving while a batch-created Slot for the same fingerprint is
// already pending is allowed to race its own concurrent RPC against
// the batch, whereas a fetch arriving on a Slot another single-path
// call already owns must not issue a second one.
type Owner string

const (
	// OwnerSingle marks a Slot created by SingleEndpoint.
	OwnerSingle Owner = "single"
	// OwnerBatch marks a Slot created by a BatchEndpoint.
	OwnerBatch Owner = "batch"
)

// Slot is a single cache entry. Its state sequence is always a prefix of
// Pending -> (Resolved | Rejected); once terminal it never reverts.
type Slot struct {
	state State
	value any
	err   error
	owner Owner

	// waiters holds one channel per attached awaiter, in FIFO order of
	// attachment. Terminal transition closes them in order and clears
	// the slice; Resolve/Reject after the first one are no-ops.
	waiters []chan struct{}
}

func newPendingSlot(owner Owner) *Slot {
	return &Slot{state: Pending, owner: owner}
}

// State returns the slot's current state.
func (s *Slot) State() State { return s.state }

// Value returns the resolved value. Only meaningful when State() ==
// Resolved.
func (s *Slot) Value() any { return s.value }

// Err returns the captured rejection error. Only meaningful when
// State() == Rejected.
func (s *Slot) Err() error { return s.err }

// addWaiter appends a new waiter channel and returns it. Callers must
// hold the owning RequestCache's lock.
func (s *Slot) addWaiter() chan struct{} {
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch
}

// settle transitions the slot to a terminal state and releases waiters
// in FIFO attachment order. Idempotent: a second call is a no-op, so a
// rejection is sticky and a resolution can never be overwritten.
// Callers must hold the owning RequestCache's lock.
func (s *Slot) settle(state State, value any, err error) {
	if s.state != Pending {
		return
	}
	s.state = state
	s.value = value
	s.err = err
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}
