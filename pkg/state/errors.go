package state

import "fmt"

// SignatureError is raised when a transaction's or block's enclosing
// SignedData fails Ed25519 verification (spec.md §7).
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string { return "signature error: " + e.Reason }

// SequenceError is raised when a transaction's declared sequence number does
// not equal the origin account's current sequence plus one (spec.md §7).
type SequenceError struct {
	Want uint64
	Got  uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence error: want %d, got %d", e.Want, e.Got)
}

// StateError is raised when a transaction violates a precondition inside
// the VM (insufficient balance, missing account, invalid target) (spec.md
// §7: "transaction precondition violation inside VM").
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return "state error: " + e.Reason }

// JuiceError is raised when a transaction's juice consumption would exceed
// its configured limit (spec.md §7).
type JuiceError struct {
	Limit    int64
	Consumed int64
}

func (e *JuiceError) Error() string {
	return fmt.Sprintf("juice error: consumed %d exceeds limit %d", e.Consumed, e.Limit)
}

// TrustError is raised when a trust-monitor check denies an actor operation
// (spec.md §4.7, §7).
type TrustError struct {
	Reason string
}

func (e *TrustError) Error() string { return "trust error: " + e.Reason }

// FatalError describes a broken core invariant — a finalized block's
// post-state hash not matching what its Result claims, or a finality
// pointer found to have regressed after decode validation already accepted
// it (spec.md §7). No function in this module returns a FatalError, and the
// peer server has no path that halts on one.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }
