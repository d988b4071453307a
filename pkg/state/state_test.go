package state

import (
	"testing"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/sig"
)

func addr(t *testing.T, idx uint64) cell.Ref {
	t.Helper()
	a, err := cell.NewAddress(idx)
	if err != nil {
		t.Fatalf("NewAddress(%d): %v", idx, err)
	}
	return cell.NewRef(a)
}

func roundTrip(t *testing.T, c cell.Cell) cell.Cell {
	t.Helper()
	enc, err := cell.Encoding(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, n, err := cell.Decode(enc, 0, cell.NopResolver{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("decode consumed %d of %d bytes", n, len(enc))
	}
	if got.Hash() != c.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	return got
}

func TestAccountStatusRoundTrip(t *testing.T) {
	a := &AccountStatus{
		Balance:     1000,
		Sequence:    7,
		Environment: cell.NewRef(cell.Null),
		Controller:  cell.NewRef(cell.Null),
	}
	got := roundTrip(t, a).(*AccountStatus)
	if got.Balance != a.Balance || got.Sequence != a.Sequence {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestPeerStatusRoundTrip(t *testing.T) {
	p := &PeerStatus{Stake: 500, DelegatedStake: 250, Host: "peer1.example:18888", Timestamp: 123456}
	got := roundTrip(t, p).(*PeerStatus)
	if got.Stake != p.Stake || got.DelegatedStake != p.DelegatedStake || got.Host != p.Host || got.Timestamp != p.Timestamp {
		t.Fatalf("got %+v, want %+v", got, p)
	}
	if got.EffectiveStake() != 750 {
		t.Fatalf("EffectiveStake = %d, want 750", got.EffectiveStake())
	}
}

func TestResultAndBlockResultRoundTrip(t *testing.T) {
	r := &Result{
		ID:        cell.NewRef(cell.NewLong(1)),
		Value:     cell.NewRef(cell.NewLong(42)),
		ErrorCode: "",
		Trace:     "ok",
	}
	got := roundTrip(t, r).(*Result)
	if got.ErrorCode != r.ErrorCode || got.Trace != r.Trace {
		t.Fatalf("got %+v, want %+v", got, r)
	}

	br := &BlockResult{Results: cell.NewRef(cell.NewVector([]cell.Ref{cell.NewRef(r)}))}
	gotBR := roundTrip(t, br).(*BlockResult)
	elems, err := gotBR.Results.Resolve(cell.NopResolver{})
	if err != nil {
		t.Fatalf("resolve results: %v", err)
	}
	seq, ok := elems.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		t.Fatalf("results is not a sequence")
	}
	items, err := seq.Elements(cell.NopResolver{})
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
}

// TestTransferEncodingRoundTrip matches the testable scenario in spec.md
// §8.1: Transfer(origin=#42, sequence=7, target=#99, amount=1000) encodes,
// decodes to an equal value, and hashes stably across runs.
func TestTransferEncodingRoundTrip(t *testing.T) {
	tx := &TransferTx{Origin: addr(t, 42), Sequence: 7, Target: addr(t, 99), Amount: 1000}
	enc, err := cell.Encoding(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if cell.Tag(enc[0]) != TagTransfer {
		t.Fatalf("first byte tag = 0x%02x, want TagTransfer", enc[0])
	}
	got := roundTrip(t, tx).(*TransferTx)
	if got.Sequence != tx.Sequence || got.Amount != tx.Amount {
		t.Fatalf("got %+v, want %+v", got, tx)
	}
	h1 := tx.Hash()
	h2 := (&TransferTx{Origin: addr(t, 42), Sequence: 7, Target: addr(t, 99), Amount: 1000}).Hash()
	if h1 != h2 {
		t.Fatalf("hash not stable across construction")
	}
}

func TestInvokeCallMultiRoundTrip(t *testing.T) {
	code, err := cell.NewBlob([]byte("(do-something)"))
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	inv := &Invoke{Origin: addr(t, 1), Sequence: 1, Code: cell.NewRef(code)}
	gotInv := roundTrip(t, inv).(*Invoke)
	if gotInv.Sequence != 1 {
		t.Fatalf("invoke sequence mismatch")
	}

	call := &CallTx{
		Origin:   addr(t, 2),
		Sequence: 3,
		Address:  addr(t, 77),
		Method:   cell.NewRef(cell.NewSymbol("withdraw")),
		Args:     cell.NewRef(cell.NewVector([]cell.Ref{cell.NewRef(cell.NewLong(10))})),
	}
	roundTrip(t, call)

	multi := &MultiTx{
		Origin:   addr(t, 3),
		Sequence: 4,
		Mode:     MultiAll,
		SubTxs:   cell.NewRef(cell.NewVector([]cell.Ref{cell.NewRef(inv)})),
	}
	gotMulti := roundTrip(t, multi).(*MultiTx)
	if gotMulti.Mode != MultiAll {
		t.Fatalf("mode mismatch: got %v", gotMulti.Mode)
	}
}

func TestScheduledEntryRoundTrip(t *testing.T) {
	tx := &TransferTx{Origin: addr(t, 1), Sequence: 1, Target: addr(t, 2), Amount: 5}
	entry := NewScheduledEntry(9999, cell.NewRef(tx))
	c, err := entry.Resolve(cell.NopResolver{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	trigger, txRef, err := ScheduledEntryParts(c, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ScheduledEntryParts: %v", err)
	}
	if trigger != 9999 {
		t.Fatalf("trigger = %d, want 9999", trigger)
	}
	txCell, err := txRef.Resolve(cell.NopResolver{})
	if err != nil {
		t.Fatalf("resolve tx: %v", err)
	}
	if txCell.Hash() != tx.Hash() {
		t.Fatalf("tx hash mismatch after scheduled-entry round trip")
	}
}

func freshGenesis(t *testing.T) *State {
	t.Helper()
	st, err := Genesis(1000, 1, 1)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return st
}

func withAccount(t *testing.T, st *State, origin cell.Ref, balance int64, sequence uint64) *State {
	t.Helper()
	acct := &AccountStatus{
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

func signedTx(t *testing.T, kp *sig.KeyPair, tx Transaction) *cell.SignedData {
	t.Helper()
	h := tx.Hash()
	s := kp.Sign(h)
	return cell.NewSignedData(kp.PublicKey(), s, cell.NewRef(tx))
}

// TestSequenceRecovery matches spec.md §8.2: two Invoke submissions at
// sequences s+1 then s+10 - the first succeeds, the second fails with
// SequenceError, and a third at s+2 succeeds.
func TestSequenceRecovery(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	origin := addr(t, 42)
	st := withAccount(t, freshGenesis(t), origin, 1_000_000, 0)

	tx1 := &Invoke{Origin: origin, Sequence: 1, Code: cell.NewRef(cell.Null)}
	if _, _, err := st.CheckTransaction(signedTx(t, kp, tx1), cell.NopResolver{}, 10); err != nil {
		t.Fatalf("first submission (seq 1) should succeed, got %v", err)
	}
	acct, err := st.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	billed, err := st.Bill(acct, 5, 0)
	if err != nil {
		t.Fatalf("bill: %v", err)
	}
	st, err = st.PutAccount(origin, billed, cell.NopResolver{})
	if err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	tx2 := &Invoke{Origin: origin, Sequence: 10, Code: cell.NewRef(cell.Null)}
	_, _, err = st.CheckTransaction(signedTx(t, kp, tx2), cell.NopResolver{}, 10)
	var seqErr *SequenceError
	if err == nil {
		t.Fatalf("submission at seq 10 should fail with SequenceError")
	}
	if se, ok := err.(*SequenceError); !ok {
		t.Fatalf("got %T, want *SequenceError", err)
	} else {
		seqErr = se
	}
	if seqErr.Want != 2 {
		t.Fatalf("SequenceError.Want = %d, want 2", seqErr.Want)
	}

	tx3 := &Invoke{Origin: origin, Sequence: 2, Code: cell.NewRef(cell.Null)}
	if _, _, err := st.CheckTransaction(signedTx(t, kp, tx3), cell.NopResolver{}, 10); err != nil {
		t.Fatalf("submission at seq 2 should succeed, got %v", err)
	}
}

func TestCheckTransactionRejectsBadSignature(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	other, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	origin := addr(t, 1)
	st := withAccount(t, freshGenesis(t), origin, 1_000_000, 0)

	tx := &Invoke{Origin: origin, Sequence: 1, Code: cell.NewRef(cell.Null)}
	sd := signedTx(t, kp, tx)
	sd.PubKey = other.PublicKey()

	if _, _, err := st.CheckTransaction(sd, cell.NopResolver{}, 10); err == nil {
		t.Fatalf("expected SignatureError for mismatched key")
	} else if _, ok := err.(*SignatureError); !ok {
		t.Fatalf("got %T, want *SignatureError", err)
	}
}

func TestCheckTransactionRejectsUnknownOrigin(t *testing.T) {
	kp, err := sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	st := freshGenesis(t)
	origin := addr(t, 404)
	tx := &Invoke{Origin: origin, Sequence: 1, Code: cell.NewRef(cell.Null)}

	if _, _, err := st.CheckTransaction(signedTx(t, kp, tx), cell.NopResolver{}, 10); err == nil {
		t.Fatalf("expected StateError for missing account")
	} else if _, ok := err.(*StateError); !ok {
		t.Fatalf("got %T, want *StateError", err)
	}
}

func TestApplyTransfer(t *testing.T) {
	origin := addr(t, 1)
	target := addr(t, 2)
	st := freshGenesis(t)
	st = withAccount(t, st, origin, 1000, 0)
	st = withAccount(t, st, target, 0, 0)

	tx := &TransferTx{Origin: origin, Sequence: 1, Target: target, Amount: 400}
	originAcct, err := st.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin: %v", err)
	}
	next, err := st.ApplyTransfer(tx, originAcct, cell.NopResolver{})
	if err != nil {
		t.Fatalf("ApplyTransfer: %v", err)
	}

	gotOrigin, err := next.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin after transfer: %v", err)
	}
	if gotOrigin.Balance != 600 {
		t.Fatalf("origin balance = %d, want 600", gotOrigin.Balance)
	}
	gotTarget, err := next.Lookup(target, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup target after transfer: %v", err)
	}
	if gotTarget.Balance != 400 {
		t.Fatalf("target balance = %d, want 400", gotTarget.Balance)
	}
}

func TestApplyTransferRejectsInsufficientBalance(t *testing.T) {
	origin := addr(t, 1)
	target := addr(t, 2)
	st := freshGenesis(t)
	st = withAccount(t, st, origin, 100, 0)
	st = withAccount(t, st, target, 0, 0)

	tx := &TransferTx{Origin: origin, Sequence: 1, Target: target, Amount: 400}
	originAcct, err := st.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup origin: %v", err)
	}
	if _, err := st.ApplyTransfer(tx, originAcct, cell.NopResolver{}); err == nil {
		t.Fatalf("expected insufficient-balance error")
	}
}

func TestStateRoundTripWithAccounts(t *testing.T) {
	origin := addr(t, 1)
	st := withAccount(t, freshGenesis(t), origin, 777, 3)

	got := roundTrip(t, st).(*State)
	acct, err := got.Lookup(origin, cell.NopResolver{})
	if err != nil {
		t.Fatalf("lookup after round trip: %v", err)
	}
	if acct.Balance != 777 || acct.Sequence != 3 {
		t.Fatalf("got %+v, want balance 777 sequence 3", acct)
	}
}
