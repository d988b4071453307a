package vm

import (
	"context"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
)

// EchoVM is the minimal conforming VM shipped with this module: Eval
// returns Code unchanged as Value and Call returns Method unchanged,
// each charging a fixed juice/memory cost. The VM is specified as an
// external collaborator (spec.md §1); EchoVM exists so cmd/peer has
// something to execute blocks against out of the box, not as an actor
// language implementation.
type EchoVM struct {
	Juice, Memory int64
}

// NewEchoVM returns an EchoVM with the given fixed cost per call.
func NewEchoVM(juice, memory int64) *EchoVM {
	return &EchoVM{Juice: juice, Memory: memory}
}

func (v *EchoVM) Eval(_ context.Context, st *state.State, origin cell.Ref, code cell.Ref, _ cell.Resolver) (EvalResult, error) {
	return EvalResult{NextState: st, Value: code, JuiceConsumed: v.Juice, MemoryDelta: v.Memory}, nil
}

func (v *EchoVM) Call(_ context.Context, st *state.State, origin, address, method, args cell.Ref, _ cell.Resolver) (EvalResult, error) {
	return EvalResult{NextState: st, Value: method, JuiceConsumed: v.Juice, MemoryDelta: v.Memory}, nil
}

var _ VM = (*EchoVM)(nil)
