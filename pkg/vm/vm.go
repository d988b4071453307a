// Package vm defines the contract between the core and the external VM
// that interprets Invoke/Call code (spec.md §1: "the VM... is an external
// collaborator; only its interface to the core is specified here"), plus
// the Executor that drives per-block transaction execution against
// pkg/state (spec.md §4.5).
package vm

import (
	"context"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
)

// EvalResult is what a VM call against one transaction returns: the state
// as the VM left it, the transaction's return value, and the resource
// consumption the executor bills against the origin account (spec.md
// §4.5: "juice consumed is billed... memory allocation delta is billed").
type EvalResult struct {
	NextState     *state.State
	Value         cell.Ref
	JuiceConsumed int64
	MemoryDelta   int64
}

// VM is the external collaborator the executor dispatches Invoke and Call
// transactions to. Eval and Call are pure with respect to everything but
// their State argument: given the same state and code/args, a conforming
// VM produces the same EvalResult (spec.md §1: "deterministic... given the
// same State and transaction, VM execution produces the same result on
// every peer").
type VM interface {
	// Eval runs code in origin's environment (spec.md §4.5: "(origin,
	// sequence, code) -> VM.eval(state, origin, code)").
	Eval(ctx context.Context, st *state.State, origin cell.Ref, code cell.Ref, res cell.Resolver) (EvalResult, error)

	// Call invokes method on the actor at address with args, acting on
	// origin's behalf (spec.md §4.5: "invoke a named callable on an actor
	// at a given address with arguments").
	Call(ctx context.Context, st *state.State, origin, address, method, args cell.Ref, res cell.Resolver) (EvalResult, error)
}
