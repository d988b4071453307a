package state

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// MultiMode selects how a Multi transaction's sub-transactions are applied
// (spec.md §4.5).
type MultiMode byte

const (
	MultiAny   MultiMode = 0 // best-effort, independent; failures isolated
	MultiAll   MultiMode = 1 // all-or-nothing, atomic rollback
	MultiFirst MultiMode = 2 // stop after the first success
	MultiUntil MultiMode = 3 // run until one fails
)

// Invoke runs arbitrary code against the origin account's environment
// (spec.md §4.5: "(origin, sequence, code) -> VM.eval(state, origin,
// code)"). Code is opaque to this package; the VM interprets it.
type Invoke struct {
	Origin   cell.Ref // Address
	Sequence uint64
	Code     cell.Ref

	hash *cell.Hash
}

func (i *Invoke) Tag() cell.Tag     { return TagInvoke }
func (i *Invoke) Refs() []cell.Ref  { return []cell.Ref{i.Origin, i.Code} }
func (i *Invoke) TxOrigin() cell.Ref { return i.Origin }
func (i *Invoke) TxSequence() uint64 { return i.Sequence }

func (i *Invoke) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagInvoke))
	if err := i.Origin.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutUVLC(nil, i.Sequence))
	return i.Code.Encode(buf)
}

func (i *Invoke) Hash() cell.Hash {
	if i.hash == nil {
		h := cell.ComputeHash(i)
		i.hash = &h
	}
	return *i.hash
}

func decodeInvoke(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagInvoke {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not an invoke tag"}
	}
	offset++
	origin, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	seq, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	code, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &Invoke{Origin: origin, Sequence: seq, Code: code}, next, nil
}

// TransferTx debits Origin and credits Target by Amount (spec.md §4.5:
// "debit origin, credit target by amount; fail on insufficient balance or
// invalid target").
type TransferTx struct {
	Origin   cell.Ref // Address
	Sequence uint64
	Target   cell.Ref // Address
	Amount   int64

	hash *cell.Hash
}

func (t *TransferTx) Tag() cell.Tag     { return TagTransfer }
func (t *TransferTx) Refs() []cell.Ref  { return []cell.Ref{t.Origin, t.Target} }
func (t *TransferTx) TxOrigin() cell.Ref { return t.Origin }
func (t *TransferTx) TxSequence() uint64 { return t.Sequence }

func (t *TransferTx) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagTransfer))
	if err := t.Origin.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutUVLC(nil, t.Sequence))
	if err := t.Target.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutVLC(nil, t.Amount))
	return nil
}

func (t *TransferTx) Hash() cell.Hash {
	if t.hash == nil {
		h := cell.ComputeHash(t)
		t.hash = &h
	}
	return *t.hash
}

func decodeTransferTx(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagTransfer {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a transfer tag"}
	}
	offset++
	origin, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	seq, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	target, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	amount, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	return &TransferTx{Origin: origin, Sequence: seq, Target: target, Amount: amount}, next, nil
}

// CallTx invokes a named callable on an actor at Address with Args (spec.md
// §4.5: "invoke a named callable on an actor at a given address with
// arguments").
type CallTx struct {
	Origin   cell.Ref // Address
	Sequence uint64
	Address  cell.Ref
	Method   cell.Ref // Symbol
	Args     cell.Ref // Vector

	hash *cell.Hash
}

func (c *CallTx) Tag() cell.Tag { return TagCall }
func (c *CallTx) Refs() []cell.Ref {
	return []cell.Ref{c.Origin, c.Address, c.Method, c.Args}
}
func (c *CallTx) TxOrigin() cell.Ref { return c.Origin }
func (c *CallTx) TxSequence() uint64 { return c.Sequence }

func (c *CallTx) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagCall))
	if err := c.Origin.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutUVLC(nil, c.Sequence))
	if err := c.Address.Encode(buf); err != nil {
		return err
	}
	if err := c.Method.Encode(buf); err != nil {
		return err
	}
	return c.Args.Encode(buf)
}

func (c *CallTx) Hash() cell.Hash {
	if c.hash == nil {
		h := cell.ComputeHash(c)
		c.hash = &h
	}
	return *c.hash
}

func decodeCallTx(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagCall {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a call tag"}
	}
	offset++
	origin, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	seq, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	addr, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	method, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	args, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &CallTx{Origin: origin, Sequence: seq, Address: addr, Method: method, Args: args}, next, nil
}

// MultiTx batches sub-transactions under one execution Mode (spec.md §4.5:
// "ANY (best-effort, independent; failures isolated), ALL (all-or-nothing,
// atomic rollback), FIRST, UNTIL"). Sub-transactions carry their own Origin
// and Sequence; MultiTx itself only orders them.
type MultiTx struct {
	Origin   cell.Ref // Address
	Sequence uint64
	Mode     MultiMode
	SubTxs   cell.Ref // Vector of transaction refs

	hash *cell.Hash
}

func (m *MultiTx) Tag() cell.Tag     { return TagMulti }
func (m *MultiTx) Refs() []cell.Ref  { return []cell.Ref{m.Origin, m.SubTxs} }
func (m *MultiTx) TxOrigin() cell.Ref { return m.Origin }
func (m *MultiTx) TxSequence() uint64 { return m.Sequence }

// Transaction is satisfied by every transaction variant (Invoke, Transfer,
// Call, Multi); the executor uses it to extract the fields every
// per-transaction check needs before dispatching on concrete type.
type Transaction interface {
	cell.Cell
	TxOrigin() cell.Ref
	TxSequence() uint64
}

var (
	_ Transaction = (*Invoke)(nil)
	_ Transaction = (*TransferTx)(nil)
	_ Transaction = (*CallTx)(nil)
	_ Transaction = (*MultiTx)(nil)
)

func (m *MultiTx) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagMulti))
	if err := m.Origin.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutUVLC(nil, m.Sequence))
	buf.WriteByte(byte(m.Mode))
	return m.SubTxs.Encode(buf)
}

func (m *MultiTx) Hash() cell.Hash {
	if m.hash == nil {
		h := cell.ComputeHash(m)
		m.hash = &h
	}
	return *m.hash
}

func decodeMultiTx(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagMulti {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a multi tag"}
	}
	offset++
	origin, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	seq, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	if offset >= len(data) {
		return nil, 0, &cell.BadFormatError{Tag: byte(TagMulti), Offset: offset, Reason: "multi: missing mode byte"}
	}
	mode := MultiMode(data[offset])
	if mode > MultiUntil {
		return nil, 0, &cell.BadFormatError{Tag: byte(TagMulti), Offset: offset, Reason: "multi: unknown execution mode"}
	}
	offset++
	sub, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &MultiTx{Origin: origin, Sequence: seq, Mode: mode, SubTxs: sub}, next, nil
}
