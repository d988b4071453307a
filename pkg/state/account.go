package state

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// AccountStatus is a ledger account's status record (spec.md §3: "mapping
// Address → AccountStatus (balance, sequence, environment, controller)").
// Environment holds actor-local bindings (opaque to the core, VM-owned);
// Controller is a ref to the address or trust-monitor permitted to act on
// this account's behalf, or cell.Null if none.
type AccountStatus struct {
	Balance     int64
	Sequence    uint64
	Environment cell.Ref
	Controller  cell.Ref

	hash *cell.Hash
}

// NewAccountStatus constructs a fresh account with zero balance and
// sequence, no environment, and no controller.
func NewAccountStatus() *AccountStatus {
	return &AccountStatus{
		Environment: cell.NewRef(cell.Null),
		Controller:  cell.NewRef(cell.Null),
	}
}

func (a *AccountStatus) Tag() cell.Tag    { return TagAccountStatus }
func (a *AccountStatus) Refs() []cell.Ref { return []cell.Ref{a.Environment, a.Controller} }

func (a *AccountStatus) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagAccountStatus))
	buf.Write(cell.PutVLC(nil, a.Balance))
	buf.Write(cell.PutUVLC(nil, a.Sequence))
	if err := a.Environment.Encode(buf); err != nil {
		return err
	}
	return a.Controller.Encode(buf)
}

func (a *AccountStatus) Hash() cell.Hash {
	if a.hash == nil {
		h := cell.ComputeHash(a)
		a.hash = &h
	}
	return *a.hash
}

func decodeAccountStatus(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagAccountStatus {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not an account-status tag"}
	}
	offset++
	balance, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	seq, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	env, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	ctrl, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &AccountStatus{Balance: balance, Sequence: seq, Environment: env, Controller: ctrl}, next, nil
}
