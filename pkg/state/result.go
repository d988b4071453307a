package state

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// Result is the response to a Query or Transaction (spec.md §5: "Result --
// response to Query or Transaction, carrying {id, value, error_code,
// trace}").
type Result struct {
	ID        cell.Ref
	Value     cell.Ref
	ErrorCode string
	Trace     string

	hash *cell.Hash
}

func (r *Result) Tag() cell.Tag    { return TagResult }
func (r *Result) Refs() []cell.Ref { return []cell.Ref{r.ID, r.Value} }

func (r *Result) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagResult))
	if err := r.ID.Encode(buf); err != nil {
		return err
	}
	if err := r.Value.Encode(buf); err != nil {
		return err
	}
	writeString(buf, r.ErrorCode)
	writeString(buf, r.Trace)
	return nil
}

func (r *Result) Hash() cell.Hash {
	if r.hash == nil {
		h := cell.ComputeHash(r)
		r.hash = &h
	}
	return *r.hash
}

func decodeResult(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagResult {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a result tag"}
	}
	offset++
	id, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	value, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	errorCode, next, err := readString(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	trace, next, err := readString(data, offset)
	if err != nil {
		return nil, 0, err
	}
	return &Result{ID: id, Value: value, ErrorCode: errorCode, Trace: trace}, next, nil
}

// BlockResult collects the Result of every transaction in one Block, in
// order, addressable by the block's position in the finalized Order
// (spec.md §4.5: "each block's BlockResult (itself a cell) is addressable
// by its block's position in the finalized Order").
type BlockResult struct {
	Results cell.Ref // Vector of Result refs

	hash *cell.Hash
}

func (b *BlockResult) Tag() cell.Tag    { return TagBlockResult }
func (b *BlockResult) Refs() []cell.Ref { return []cell.Ref{b.Results} }

func (b *BlockResult) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBlockResult))
	return b.Results.Encode(buf)
}

func (b *BlockResult) Hash() cell.Hash {
	if b.hash == nil {
		h := cell.ComputeHash(b)
		b.hash = &h
	}
	return *b.hash
}

func decodeBlockResult(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagBlockResult {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a block-result tag"}
	}
	offset++
	results, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &BlockResult{Results: results}, next, nil
}

// writeString/readString encode a UVLC-length-prefixed UTF-8 string, the
// same framing State/PeerStatus use for Host and the record types here use
// for ErrorCode/Trace.
func writeString(buf *bytes.Buffer, s string) {
	b := []byte(s)
	buf.Write(cell.PutUVLC(nil, uint64(len(b))))
	buf.Write(b)
}

func readString(data []byte, offset int) (string, int, error) {
	n, next, err := cell.ReadUVLC(data, offset)
	if err != nil {
		return "", 0, err
	}
	offset = next
	if offset+int(n) > len(data) {
		return "", 0, &cell.BadFormatError{Offset: offset, Reason: "truncated string"}
	}
	return string(data[offset : offset+int(n)]), offset + int(n), nil
}
