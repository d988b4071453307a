package cell

import "bytes"

// Cell is the universal value: a canonically-encodable, hash-identified,
// immutable node with a fixed ordered list of child refs (spec.md §3).
type Cell interface {
	Tag() Tag
	Encode(buf *bytes.Buffer) error
	Refs() []Ref
	Hash() Hash
}

// Resolver looks up a cell's encoding by hash, giving decode lazy access to
// a store (or any other backing map) without binding this package to a
// concrete store implementation (spec.md §4.2, §9 "pass the store context
// explicitly through decode rather than via ambient state").
type Resolver interface {
	Resolve(h Hash) (encoding []byte, ok bool)
}

// NopResolver never resolves anything; useful for decoding data known to be
// fully embedded, or for tests.
type NopResolver struct{}

func (NopResolver) Resolve(Hash) ([]byte, bool) { return nil, false }

// DecodeFunc decodes one cell whose tag belongs to a registered family,
// starting at offset (data[offset] is the tag byte).
type DecodeFunc func(data []byte, offset int, res Resolver) (Cell, int, error)

var families [16]DecodeFunc

// RegisterFamily binds the decoder for every tag sharing the given high
// nibble. Downstream packages that define their own cell kinds (pkg/state's
// records and transactions, pkg/wire's message kinds, pkg/peer's Checkpoint) call
// this from an init() so pkg/cell itself never imports them (spec.md §9:
// "Large structural polymorphism... dispatch table keyed by the high
// nibble of the tag").
func RegisterFamily(highNibble byte, fn DecodeFunc) {
	if highNibble >= 16 {
		panic("cell: invalid family nibble")
	}
	if families[highNibble] != nil {
		panic("cell: family already registered")
	}
	families[highNibble] = fn
}

// Decode parses one cell starting at offset and returns it along with the
// offset immediately following its encoding.
func Decode(data []byte, offset int, res Resolver) (Cell, int, error) {
	if offset >= len(data) {
		return nil, 0, badFormat(0, offset, "decode: read past end of buffer")
	}
	tag := data[offset]
	fn := families[tag>>4]
	if fn == nil {
		return nil, 0, badFormat(tag, offset, "unknown tag family")
	}
	start := offset
	c, next, err := fn(data, offset, res)
	if err != nil {
		return nil, 0, err
	}
	if next-start > MaxEncodingLength {
		return nil, 0, badFormat(tag, start, "encoding exceeds max length")
	}
	return c, next, nil
}

// Encoding returns the canonical byte encoding of c.
func Encoding(c Cell) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsEmbedded reports whether c qualifies for inline embedding in a parent's
// encoding: its own encoded length is at most EmbedThreshold bytes and every
// child ref is itself embedded (spec.md §4.1).
func IsEmbedded(c Cell) bool {
	enc, err := Encoding(c)
	if err != nil || len(enc) > EmbedThreshold {
		return false
	}
	for _, r := range c.Refs() {
		if r.status != StatusEmbedded {
			return false
		}
	}
	return true
}
