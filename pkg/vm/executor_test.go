package vm

import (
	"context"
	"testing"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/sig"
	"github.com/cposnet/peer/pkg/state"
)

func addr(t *testing.T, idx uint64) cell.Ref {
	t.Helper()
	a, err := cell.NewAddress(idx)
	if err != nil {
		t.Fatalf("NewAddress(%d): %v", idx, err)
	}
	return cell.NewRef(a)
}

func freshGenesis(t *testing.T) *state.State {
	t.Helper()
	st, err := state.Genesis(1000, 1, 1)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return st
}

func withAccount(t *testing.T, st *state.State, origin cell.Ref, balance int64, sequence uint64) *state.State {
	t.Helper()
	acct := &state.AccountStatus{
		Balance:     balance,
		Sequence:    sequence,
		Environment: cell.NewRef(cell.Null),
		Controller:  cell.NewRef(cell.Null),
	}
	next, err := st.PutAccount(origin, acct, cell.NopResolver{})
	if err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	return next
}

func signedTx(t *testing.T, kp *sig.KeyPair, tx state.Transaction) *cell.SignedData {
	t.Helper()
	return cell.NewSignedData(kp.PublicKey(), kp.Sign(tx.Hash()), cell.NewRef(tx))
}

// TestExecuteBlockTransfer matches spec.md §8.1's transfer scenario:
// a signed Transfer inside a block debits origin and credits target, and
// produces one successful Result.
func TestExecuteBlockTransfer(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	origin, target := addr(t, 1), addr(t, 2)
	st := withAccount(t, withAccount(t, freshGenesis(t), origin, 1000, 0), target, 0, 0)

	tx := &state.TransferTx{Origin: origin, Sequence: 1, Target: target, Amount: 400}
	signed := signedTx(t, kp, tx)
	ref := cell.NewRef(signed)

	ex := New(&EchoVM{}, Config{JuiceLimit: 10, MaxScheduledPerBlock: 100})
	next, br, err := ex.ExecuteBlock(context.Background(), st, []cell.Ref{ref}, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}

	gotOrigin, err := next.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin: %v", err)
	}
	if gotOrigin.Balance != 600-transferJuice {
		t.Fatalf("origin balance = %d, want %d", gotOrigin.Balance, 600-transferJuice)
	}
	if gotOrigin.Sequence != 1 {
		t.Fatalf("origin sequence = %d, want 1", gotOrigin.Sequence)
	}
	gotTarget, err := next.Lookup(target, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup target: %v", err)
	}
	if gotTarget.Balance != 400 {
		t.Fatalf("target balance = %d, want 400", gotTarget.Balance)
	}

	results, err := resultsOf(t, br)
	if err != nil {
		t.Fatalf("resultsOf: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].ErrorCode != "" {
		t.Fatalf("unexpected error result: %+v", results[0])
	}
}

// TestExecuteBlockRejectsBadSequence matches spec.md §4.5's per-transaction
// check ordering: a transaction whose sequence does not match is captured
// as a failing Result, and the block's other, valid transaction still
// applies (a failing transaction never halts block execution, per spec.md
// §7).
func TestExecuteBlockRejectsBadSequence(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	origin := addr(t, 1)
	st := withAccount(t, freshGenesis(t), origin, 1000, 5)

	bad := &state.Invoke{Origin: origin, Sequence: 99, Code: cell.NewRef(cell.Null)}
	good := &state.Invoke{Origin: origin, Sequence: 6, Code: cell.NewRef(cell.NewLong(7))}

	ex := New(&EchoVM{Juice: 2}, Config{JuiceLimit: 10, MaxScheduledPerBlock: 100})
	next, br, err := ex.ExecuteBlock(context.Background(), st, []cell.Ref{
		cell.NewRef(signedTx(t, kp, bad)),
		cell.NewRef(signedTx(t, kp, good)),
	}, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}

	results, err := resultsOf(t, br)
	if err != nil {
		t.Fatalf("resultsOf: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ErrorCode != "sequence" {
		t.Fatalf("results[0].ErrorCode = %q, want \"sequence\"", results[0].ErrorCode)
	}
	if results[1].ErrorCode != "" {
		t.Fatalf("results[1] should have succeeded, got %+v", results[1])
	}

	gotOrigin, err := next.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin: %v", err)
	}
	if gotOrigin.Sequence != 6 {
		t.Fatalf("origin sequence = %d, want 6 (only the good tx should have advanced it)", gotOrigin.Sequence)
	}
}

// TestExecuteBlockPullsScheduled matches spec.md §4.5: a due scheduled
// transaction runs ahead of the block's explicit transactions and is
// removed from the queue.
func TestExecuteBlockPullsScheduled(t *testing.T) {
	origin := addr(t, 1)
	st := withAccount(t, freshGenesis(t), origin, 1000, 0)
	st.Timestamp = 2000

	due := &state.Invoke{Origin: origin, Sequence: 1, Code: cell.NewRef(cell.Null)}
	notDue := &state.Invoke{Origin: origin, Sequence: 2, Code: cell.NewRef(cell.Null)}
	entries := cell.NewVector([]cell.Ref{
		state.NewScheduledEntry(1500, cell.NewRef(due)),
		state.NewScheduledEntry(9999, cell.NewRef(notDue)),
	})
	st.ScheduledTxs = cell.NewRef(entries)

	ex := New(&EchoVM{}, Config{JuiceLimit: 10, MaxScheduledPerBlock: 100})
	next, br, err := ex.ExecuteBlock(context.Background(), st, nil, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}

	results, err := resultsOf(t, br)
	if err != nil {
		t.Fatalf("resultsOf: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (only the due entry should have run)", len(results))
	}

	remaining, err := next.ScheduledTxs.Resolve(cell.NopResolver{})
	if err != nil {
		t.Fatalf("resolve remaining queue: %v", err)
	}
	seq, ok := remaining.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		t.Fatalf("remaining queue is not a sequence")
	}
	remainingElems, err := seq.Elements(cell.NopResolver{})
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	if len(remainingElems) != 1 {
		t.Fatalf("len(remaining) = %d, want 1 (the not-yet-due entry)", len(remainingElems))
	}
}

// TestMultiAllRollsBackOnFailure matches spec.md §4.5's ALL mode:
// "all-or-nothing, atomic rollback".
func TestMultiAllRollsBackOnFailure(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	origin, target := addr(t, 1), addr(t, 2)
	st := withAccount(t, withAccount(t, freshGenesis(t), origin, 1000, 0), target, 0, 0)

	ok := &state.TransferTx{Origin: origin, Sequence: 1, Target: target, Amount: 100}
	tooMuch := &state.TransferTx{Origin: origin, Sequence: 2, Target: target, Amount: 100000}
	sub := cell.NewVector([]cell.Ref{cell.NewRef(ok), cell.NewRef(tooMuch)})
	multi := &state.MultiTx{Origin: origin, Sequence: 1, Mode: state.MultiAll, SubTxs: cell.NewRef(sub)}

	ex := New(&EchoVM{}, Config{JuiceLimit: 10, MaxScheduledPerBlock: 100})
	next, br, err := ex.ExecuteBlock(context.Background(), st, []cell.Ref{cell.NewRef(signedTx(t, kp, multi))}, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}

	results, err := resultsOf(t, br)
	if err != nil {
		t.Fatalf("resultsOf: %v", err)
	}
	if len(results) != 1 || results[0].ErrorCode == "" {
		t.Fatalf("expected the multi transaction itself to report failure, got %+v", results)
	}

	gotOrigin, err := next.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin: %v", err)
	}
	if gotOrigin.Balance != 1000 {
		t.Fatalf("origin balance = %d, want 1000 (multi(all) must roll back the successful leg too)", gotOrigin.Balance)
	}
}

func resultsOf(t *testing.T, br *state.BlockResult) ([]*state.Result, error) {
	t.Helper()
	c, err := br.Results.Resolve(cell.NopResolver{})
	if err != nil {
		return nil, err
	}
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		t.Fatalf("block result is not a sequence")
	}
	refs, err := seq.Elements(cell.NopResolver{})
	if err != nil {
		return nil, err
	}
	out := make([]*state.Result, len(refs))
	for i, r := range refs {
		rc, err := r.Resolve(cell.NopResolver{})
		if err != nil {
			return nil, err
		}
		out[i] = rc.(*state.Result)
	}
	return out, nil
}
