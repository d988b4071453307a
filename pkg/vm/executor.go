package vm

import (
	"context"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
)

// Config carries the block-execution limits spec.md §4.5/§4.6 leave to
// configuration.
type Config struct {
	// JuiceLimit is the juice reserve CheckTransaction requires a
	// transaction's origin to afford before the VM ever runs it.
	JuiceLimit int64
	// MaxScheduledPerBlock caps how many due scheduled transactions are
	// pulled and run ahead of a block's explicit transactions (spec.md
	// §4.5: "Up to 100 scheduled transactions...").
	MaxScheduledPerBlock int
}

// Executor applies a block's transactions to State via vm, producing a
// BlockResult (spec.md §4.5).
type Executor struct {
	VM  VM
	Cfg Config
}

func New(v VM, cfg Config) *Executor {
	return &Executor{VM: v, Cfg: cfg}
}

// ExecuteBlock applies block's due scheduled transactions (spec.md §4.5)
// followed by its explicit transactions, in order, to st, returning the
// resulting State and a BlockResult with one Result per transaction run
// (scheduled transactions first, then explicit ones, matching the order
// they were applied).
func (e *Executor) ExecuteBlock(ctx context.Context, st *state.State, txRefs []cell.Ref, res cell.Resolver) (*state.State, *state.BlockResult, error) {
	scheduled, st, err := e.pullScheduled(st, res)
	if err != nil {
		return nil, nil, err
	}

	results := make([]cell.Ref, 0, len(scheduled)+len(txRefs))
	for _, tx := range scheduled {
		var r *state.Result
		st, r, err = e.executeUnsigned(ctx, st, tx, res)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, cell.NewRef(r))
	}

	for _, ref := range txRefs {
		signedC, err := ref.Resolve(res)
		if err != nil {
			return nil, nil, err
		}
		signed, ok := signedC.(*cell.SignedData)
		if !ok {
			return nil, nil, &cell.InvalidDataError{Reason: "block transaction is not signed data"}
		}
		var r *state.Result
		st, r, err = e.executeSigned(ctx, st, signed, res)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, cell.NewRef(r))
	}

	return st, &state.BlockResult{Results: cell.NewRef(cell.NewVector(results))}, nil
}

// pullScheduled removes every scheduled entry whose trigger timestamp is
// at or before st.Timestamp, up to Cfg.MaxScheduledPerBlock, returning the
// due transactions (oldest first) and the State with them removed from
// the queue. Entries still in the future are kept in order.
func (e *Executor) pullScheduled(st *state.State, res cell.Resolver) ([]cell.Ref, *state.State, error) {
	c, err := st.ScheduledTxs.Resolve(res)
	if err != nil {
		return nil, nil, err
	}
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		return nil, nil, &cell.InvalidDataError{Reason: "scheduled queue is not a sequence"}
	}
	entries, err := seq.Elements(res)
	if err != nil {
		return nil, nil, err
	}

	var due []cell.Ref
	var remaining []cell.Ref
	limit := e.Cfg.MaxScheduledPerBlock
	for _, entry := range entries {
		entryC, err := entry.Resolve(res)
		if err != nil {
			return nil, nil, err
		}
		trigger, txRef, err := state.ScheduledEntryParts(entryC, res)
		if err != nil {
			return nil, nil, err
		}
		if trigger <= st.Timestamp && (limit <= 0 || len(due) < limit) {
			due = append(due, txRef)
			continue
		}
		remaining = append(remaining, entry)
	}
	if len(due) == 0 {
		return nil, st, nil
	}
	next := *st
	next.ScheduledTxs = cell.NewRef(cell.NewVector(remaining))
	return due, &next, nil
}

// executeSigned runs the per-transaction checks of spec.md §4.5 and, on
// success, dispatches; any rejection (signature, sequence, or state
// precondition) is captured as a Result rather than propagated, so one
// failing transaction never halts block execution.
func (e *Executor) executeSigned(ctx context.Context, st *state.State, signed *cell.SignedData, res cell.Resolver) (*state.State, *state.Result, error) {
	tx, acct, err := st.CheckTransaction(signed, res, e.Cfg.JuiceLimit)
	if err != nil {
		return st, errorResult(signed.Payload, err), nil
	}
	return e.apply(ctx, st, tx, acct, signed.Payload, res)
}

// executeUnsigned runs a scheduled transaction: its signature was already
// checked when it was scheduled, so only the account/sequence/juice
// preconditions are re-verified against the State as it stands now.
func (e *Executor) executeUnsigned(ctx context.Context, st *state.State, txRef cell.Ref, res cell.Resolver) (*state.State, *state.Result, error) {
	c, err := txRef.Resolve(res)
	if err != nil {
		return nil, nil, err
	}
	tx, ok := c.(state.Transaction)
	if !ok {
		return st, errorResult(txRef, &state.StateError{Reason: "scheduled entry is not a transaction"}), nil
	}
	acct, err := st.Lookup(tx.TxOrigin(), res)
	if err != nil {
		return st, errorResult(txRef, err), nil
	}
	if tx.TxSequence() != acct.Sequence+1 {
		return st, errorResult(txRef, &state.SequenceError{Want: acct.Sequence + 1, Got: tx.TxSequence()}), nil
	}
	if reserve := e.Cfg.JuiceLimit * st.JuicePrice; acct.Balance < reserve {
		return st, errorResult(txRef, &state.JuiceError{Limit: e.Cfg.JuiceLimit, Consumed: 0}), nil
	}
	return e.apply(ctx, st, tx, acct, txRef, res)
}

// apply dispatches tx by concrete type and bills origin for the resulting
// juice/memory consumption (spec.md §4.5).
func (e *Executor) apply(ctx context.Context, st *state.State, tx state.Transaction, acct *state.AccountStatus, id cell.Ref, res cell.Resolver) (*state.State, *state.Result, error) {
	switch t := tx.(type) {
	case *state.TransferTx:
		next, err := st.ApplyTransfer(t, acct, res)
		if err != nil {
			return st, errorResult(id, err), nil
		}
		debited, err := next.Lookup(t.Origin, res)
		if err != nil {
			return nil, nil, err
		}
		billed, err := next.Bill(debited, transferJuice, 0)
		if err != nil {
			return st, errorResult(id, err), nil
		}
		final, err := next.PutAccount(t.Origin, billed, res)
		if err != nil {
			return nil, nil, err
		}
		return final, okResult(id, cell.NewRef(cell.Null)), nil

	case *state.Invoke:
		if e.VM == nil {
			return st, errorResult(id, &state.StateError{Reason: "no VM configured"}), nil
		}
		out, err := e.VM.Eval(ctx, st, t.Origin, t.Code, res)
		if err != nil {
			return st, errorResult(id, err), nil
		}
		return e.bill(out, t.Origin, acct, id, res)

	case *state.CallTx:
		if e.VM == nil {
			return st, errorResult(id, &state.StateError{Reason: "no VM configured"}), nil
		}
		out, err := e.VM.Call(ctx, st, t.Origin, t.Address, t.Method, t.Args, res)
		if err != nil {
			return st, errorResult(id, err), nil
		}
		return e.bill(out, t.Origin, acct, id, res)

	case *state.MultiTx:
		return e.applyMulti(ctx, st, t, id, res)

	default:
		return st, errorResult(id, &state.StateError{Reason: "unknown transaction kind"}), nil
	}
}

// bill charges acct for out's resource consumption and folds the VM's
// resulting state back in, incrementing acct's sequence (spec.md §4.5:
// "After VM: sequence is incremented; juice consumed is billed...").
func (e *Executor) bill(out EvalResult, origin cell.Ref, acct *state.AccountStatus, id cell.Ref, res cell.Resolver) (*state.State, *state.Result, error) {
	next := out.NextState
	if next == nil {
		return nil, nil, &state.StateError{Reason: "vm returned nil state"}
	}
	billed, err := next.Bill(acct, out.JuiceConsumed, out.MemoryDelta)
	if err != nil {
		return next, errorResult(id, err), nil
	}
	final, err := next.PutAccount(origin, billed, res)
	if err != nil {
		return nil, nil, err
	}
	return final, okResult(id, out.Value), nil
}

const transferJuice = 1

// applyMulti runs SubTxs under Mode (spec.md §4.5): ANY runs every
// sub-transaction independently with failures isolated; ALL rolls back
// every sub-transaction's effect if any one fails; FIRST stops after the
// first success; UNTIL stops at the first failure. Nested Multi is
// rejected — sub-transactions batch leaf operations, not further batches.
func (e *Executor) applyMulti(ctx context.Context, st *state.State, m *state.MultiTx, id cell.Ref, res cell.Resolver) (*state.State, *state.Result, error) {
	c, err := m.SubTxs.Resolve(res)
	if err != nil {
		return nil, nil, err
	}
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		return st, errorResult(id, &cell.InvalidDataError{Reason: "multi sub-transactions is not a sequence"}), nil
	}
	subRefs, err := seq.Elements(res)
	if err != nil {
		return nil, nil, err
	}

	working := st
	var subResults []cell.Ref
	for _, subRef := range subRefs {
		subC, err := subRef.Resolve(res)
		if err != nil {
			return nil, nil, err
		}
		sub, ok := subC.(state.Transaction)
		if !ok {
			return st, errorResult(id, &cell.InvalidDataError{Reason: "multi sub-transaction is not a transaction"}), nil
		}
		if _, isMulti := sub.(*state.MultiTx); isMulti {
			return st, errorResult(id, &state.StateError{Reason: "nested multi transactions are not supported"}), nil
		}
		subAcct, err := working.Lookup(sub.TxOrigin(), res)
		if err != nil {
			subResults = append(subResults, cell.NewRef(errorResult(subRef, err)))
			if m.Mode == state.MultiAll {
				return st, errorResult(id, err), nil
			}
			if m.Mode == state.MultiUntil {
				break
			}
			continue
		}
		next, r, err := e.apply(ctx, working, sub, subAcct, subRef, res)
		if err != nil {
			return nil, nil, err
		}
		subResults = append(subResults, cell.NewRef(r))
		if r.ErrorCode == "" {
			working = next
			if m.Mode == state.MultiFirst {
				break
			}
			continue
		}
		if m.Mode == state.MultiAll {
			return st, errorResult(id, &state.StateError{Reason: "multi(all) rolled back: " + r.ErrorCode}), nil
		}
		if m.Mode == state.MultiUntil {
			break
		}
	}

	// Re-fetch m.Origin's account from the post-subtx state rather than
	// reusing acct (captured before any subtx ran): a sub-transaction may
	// share m.Origin and have already mutated it.
	finalAcct, err := working.Lookup(m.Origin, res)
	if err != nil {
		return working, errorResult(id, err), nil
	}
	billed, err := working.Bill(finalAcct, 0, 0)
	if err != nil {
		return working, errorResult(id, err), nil
	}
	finalSt, err := working.PutAccount(m.Origin, billed, res)
	if err != nil {
		return nil, nil, err
	}
	return finalSt, okResult(id, cell.NewRef(cell.NewVector(subResults))), nil
}

func okResult(id, value cell.Ref) *state.Result {
	return &state.Result{ID: id, Value: value}
}

func errorResult(id cell.Ref, err error) *state.Result {
	return &state.Result{ID: id, Value: cell.NewRef(cell.Null), ErrorCode: errorCode(err), Trace: err.Error()}
}

func errorCode(err error) string {
	switch err.(type) {
	case *state.SignatureError:
		return "signature"
	case *state.SequenceError:
		return "sequence"
	case *state.StateError:
		return "state"
	case *state.JuiceError:
		return "juice"
	case *state.TrustError:
		return "trust"
	case *cell.InvalidDataError:
		return "invalid"
	default:
		return "error"
	}
}
