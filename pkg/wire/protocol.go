package wire

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// Query is a read-only VM evaluation request (spec.md §6: "Query --
// (address, form) for a read-only VM evaluation"), answered with a
// state.Result carrying the same id the caller supplied.
type Query struct {
	ID      cell.Ref
	Address cell.Ref
	Form    cell.Ref

	hash *cell.Hash
}

func NewQuery(id, address, form cell.Ref) *Query {
	return &Query{ID: id, Address: address, Form: form}
}

func (q *Query) Tag() cell.Tag    { return TagQuery }
func (q *Query) Refs() []cell.Ref { return []cell.Ref{q.ID, q.Address, q.Form} }

func (q *Query) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagQuery))
	if err := q.ID.Encode(buf); err != nil {
		return err
	}
	if err := q.Address.Encode(buf); err != nil {
		return err
	}
	return q.Form.Encode(buf)
}

func (q *Query) Hash() cell.Hash {
	if q.hash == nil {
		h := cell.ComputeHash(q)
		q.hash = &h
	}
	return *q.hash
}

func decodeQuery(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagQuery {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a query tag"}
	}
	offset++
	id, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	addr, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	form, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &Query{ID: id, Address: addr, Form: form}, next, nil
}

// StatusVector is the response to a Status poll (spec.md §4.6, §6): each
// worker's load metric, expressed as per-mille of the last second spent
// active, so a receiver never has to reason about float canonicalization
// to compare two vectors.
type StatusVector struct {
	ConnLoad       int64
	TxHandlerLoad  int64
	PropagatorLoad int64
	ExecutorLoad   int64
	QueryLoad      int64
	Timestamp      int64

	hash *cell.Hash
}

func NewStatusVector(conn, tx, propagator, executor, query, timestamp int64) *StatusVector {
	return &StatusVector{
		ConnLoad:       conn,
		TxHandlerLoad:  tx,
		PropagatorLoad: propagator,
		ExecutorLoad:   executor,
		QueryLoad:      query,
		Timestamp:      timestamp,
	}
}

func (s *StatusVector) Tag() cell.Tag    { return TagStatus }
func (s *StatusVector) Refs() []cell.Ref { return nil }

func (s *StatusVector) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagStatus))
	buf.Write(cell.PutVLC(nil, s.ConnLoad))
	buf.Write(cell.PutVLC(nil, s.TxHandlerLoad))
	buf.Write(cell.PutVLC(nil, s.PropagatorLoad))
	buf.Write(cell.PutVLC(nil, s.ExecutorLoad))
	buf.Write(cell.PutVLC(nil, s.QueryLoad))
	buf.Write(cell.PutVLC(nil, s.Timestamp))
	return nil
}

func (s *StatusVector) Hash() cell.Hash {
	if s.hash == nil {
		h := cell.ComputeHash(s)
		s.hash = &h
	}
	return *s.hash
}

func decodeStatusVector(data []byte, offset int, _ cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagStatus {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a status tag"}
	}
	offset++
	var vals [6]int64
	for i := range vals {
		v, next, err := cell.ReadVLC(data, offset)
		if err != nil {
			return nil, 0, err
		}
		vals[i] = v
		offset = next
	}
	return &StatusVector{
		ConnLoad:       vals[0],
		TxHandlerLoad:  vals[1],
		PropagatorLoad: vals[2],
		ExecutorLoad:   vals[3],
		QueryLoad:      vals[4],
		Timestamp:      vals[5],
	}, offset, nil
}

// Challenge is the first leg of the new-connection identity handshake
// (spec.md §6: "peer identity handshake on new connection"): a random
// nonce the recipient must sign to prove control of its claimed key.
type Challenge struct {
	Nonce [32]byte

	hash *cell.Hash
}

func NewChallenge(nonce [32]byte) *Challenge { return &Challenge{Nonce: nonce} }

func (c *Challenge) Tag() cell.Tag    { return TagChallenge }
func (c *Challenge) Refs() []cell.Ref { return nil }

func (c *Challenge) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagChallenge))
	buf.Write(c.Nonce[:])
	return nil
}

func (c *Challenge) Hash() cell.Hash {
	if c.hash == nil {
		h := cell.ComputeHash(c)
		c.hash = &h
	}
	return *c.hash
}

func decodeChallenge(data []byte, offset int, _ cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagChallenge {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a challenge tag"}
	}
	offset++
	if offset+32 > len(data) {
		return nil, 0, &cell.BadFormatError{Tag: byte(TagChallenge), Offset: offset, Reason: "challenge: truncated nonce"}
	}
	var c Challenge
	copy(c.Nonce[:], data[offset:offset+32])
	return &c, offset + 32, nil
}

// Response answers a Challenge: the signature over the nonce plus the
// responder's public key, so the receiver can verify it against the key
// the responder claims in State.Peers.
type Response struct {
	Nonce     [32]byte
	PubKey    [32]byte
	Signature [64]byte

	hash *cell.Hash
}

func NewResponse(nonce, pubKey [32]byte, sig [64]byte) *Response {
	return &Response{Nonce: nonce, PubKey: pubKey, Signature: sig}
}

func (r *Response) Tag() cell.Tag    { return TagResponse }
func (r *Response) Refs() []cell.Ref { return nil }

func (r *Response) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagResponse))
	buf.Write(r.Nonce[:])
	buf.Write(r.PubKey[:])
	buf.Write(r.Signature[:])
	return nil
}

func (r *Response) Hash() cell.Hash {
	if r.hash == nil {
		h := cell.ComputeHash(r)
		r.hash = &h
	}
	return *r.hash
}

func decodeResponse(data []byte, offset int, _ cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagResponse {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a response tag"}
	}
	offset++
	if offset+32+32+64 > len(data) {
		return nil, 0, &cell.BadFormatError{Tag: byte(TagResponse), Offset: offset, Reason: "response: truncated body"}
	}
	var r Response
	copy(r.Nonce[:], data[offset:offset+32])
	offset += 32
	copy(r.PubKey[:], data[offset:offset+32])
	offset += 32
	copy(r.Signature[:], data[offset:offset+64])
	return &r, offset + 64, nil
}
