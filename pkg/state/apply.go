package state

import "github.com/cposnet/peer/pkg/cell"

// Lookup resolves origin's current AccountStatus from st.Accounts, reporting
// StateError if the account does not exist (spec.md §4.5: "origin account
// must exist").
func (s *State) Lookup(origin cell.Ref, res cell.Resolver) (*AccountStatus, error) {
	accounts, err := s.Accounts.Resolve(res)
	if err != nil {
		return nil, err
	}
	val, found, err := cell.MapGet(accounts, origin, res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &StateError{Reason: "origin account does not exist"}
	}
	c, err := val.Resolve(res)
	if err != nil {
		return nil, err
	}
	acct, ok := c.(*AccountStatus)
	if !ok {
		return nil, &StateError{Reason: "account entry is not an AccountStatus"}
	}
	return acct, nil
}

// PutAccount returns a new State with origin rebound to acct, sharing every
// other account by structure (spec.md §3: "successive states share
// structure by ref").
func (s *State) PutAccount(origin cell.Ref, acct *AccountStatus, res cell.Resolver) (*State, error) {
	accounts, err := s.Accounts.Resolve(res)
	if err != nil {
		return nil, err
	}
	updated, err := cell.MapSet(accounts, origin, cell.NewRef(acct), res)
	if err != nil {
		return nil, err
	}
	next := *s
	next.Accounts = cell.NewRef(updated)
	next.hash = nil
	return &next, nil
}

// CheckTransaction runs the checks spec.md §4.5 requires before the VM sees
// a transaction: a valid signature on the enclosing SignedData, a sequence
// number exactly one past the account's current sequence, an existing
// origin account, and enough balance to cover juiceLimit at the current
// juice price. It returns the resolved transaction, its origin account, and
// the juice reserved for the call.
func (s *State) CheckTransaction(signed *cell.SignedData, res cell.Resolver, juiceLimit int64) (Transaction, *AccountStatus, error) {
	ok, err := signed.Verify(res)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &SignatureError{Reason: "signature does not verify against payload hash"}
	}
	payload, err := signed.Payload.Resolve(res)
	if err != nil {
		return nil, nil, err
	}
	tx, ok := payload.(Transaction)
	if !ok {
		return nil, nil, &StateError{Reason: "signed payload is not a transaction"}
	}
	acct, err := s.Lookup(tx.TxOrigin(), res)
	if err != nil {
		return nil, nil, err
	}
	if tx.TxSequence() != acct.Sequence+1 {
		return nil, nil, &SequenceError{Want: acct.Sequence + 1, Got: tx.TxSequence()}
	}
	reserve := juiceLimit * s.JuicePrice
	if acct.Balance < reserve {
		return nil, nil, &JuiceError{Limit: juiceLimit, Consumed: 0}
	}
	return tx, acct, nil
}

// Bill advances acct past this transaction: sequence increments, juice
// consumed is charged at the state's juice price, and a memory allocation
// delta is charged at the state's memory price (spec.md §4.5: "sequence is
// incremented; juice consumed is billed at juice price; memory allocation
// delta is billed at memory price").
func (s *State) Bill(acct *AccountStatus, juiceConsumed, memoryDelta int64) (*AccountStatus, error) {
	cost := juiceConsumed*s.JuicePrice + memoryDelta*s.MemoryPrice
	if acct.Balance < cost {
		return nil, &JuiceError{Limit: acct.Balance / max64(s.JuicePrice, 1), Consumed: juiceConsumed}
	}
	billed := *acct
	billed.Balance -= cost
	billed.Sequence++
	billed.hash = nil
	return &billed, nil
}

// ApplyTransfer executes a Transfer transaction directly against State
// (spec.md §4.5: "debit origin, credit target by amount; fail on
// insufficient balance or invalid target"), returning the updated State.
func (s *State) ApplyTransfer(tx *TransferTx, origin *AccountStatus, res cell.Resolver) (*State, error) {
	if tx.Amount < 0 {
		return nil, &StateError{Reason: "transfer amount must be non-negative"}
	}
	if origin.Balance < tx.Amount {
		return nil, &StateError{Reason: "insufficient balance for transfer"}
	}
	target, err := s.Lookup(tx.Target, res)
	if err != nil {
		return nil, &StateError{Reason: "invalid transfer target: " + err.Error()}
	}
	debited := *origin
	debited.Balance -= tx.Amount
	debited.hash = nil
	credited := *target
	credited.Balance += tx.Amount
	credited.hash = nil

	next, err := s.PutAccount(tx.Origin, &debited, res)
	if err != nil {
		return nil, err
	}
	return next.PutAccount(tx.Target, &credited, res)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
