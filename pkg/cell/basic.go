package cell

import "bytes"

func init() {
	RegisterFamily(byte(TagNull)>>4, decodeSingleton)
	RegisterFamily(byte(TagBlob)>>4, decodeBlobFamily)
}

// Null, False and True are interned singletons (spec.md §3).
var (
	Null  = &nullCell{}
	False = &boolCell{value: false}
	True  = &boolCell{value: true}
)

type nullCell struct{ hash *Hash }

func (n *nullCell) Tag() Tag    { return TagNull }
func (n *nullCell) Refs() []Ref { return nil }
func (n *nullCell) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagNull))
	return nil
}
func (n *nullCell) Hash() Hash {
	if n.hash == nil {
		h := computeHash(n)
		n.hash = &h
	}
	return *n.hash
}

type boolCell struct {
	value bool
	hash  *Hash
}

func (b *boolCell) Tag() Tag {
	if b.value {
		return TagTrue
	}
	return TagFalse
}
func (b *boolCell) Refs() []Ref { return nil }
func (b *boolCell) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(b.Tag()))
	return nil
}
func (b *boolCell) Hash() Hash {
	if b.hash == nil {
		h := computeHash(b)
		b.hash = &h
	}
	return *b.hash
}
func (b *boolCell) Value() bool { return b.value }

func Bool(v bool) *boolCell {
	if v {
		return True
	}
	return False
}

func decodeSingleton(data []byte, offset int, _ Resolver) (Cell, int, error) {
	switch Tag(data[offset]) {
	case TagNull:
		return Null, offset + 1, nil
	case TagFalse:
		return False, offset + 1, nil
	case TagTrue:
		return True, offset + 1, nil
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown singleton tag")
	}
}

// Blob is a raw byte-string cell: a flat leaf carrying its bytes inline in
// its own encoding. A blob whose encoding would exceed MaxEncodingLength
// cannot be constructed (spec.md §4.1's size bound is enforced at
// construction time instead of surfacing as an unconstructible-but-
// encodable cell).
type Blob struct {
	Data []byte
	hash *Hash
}

func NewBlob(data []byte) (*Blob, error) {
	b := &Blob{Data: append([]byte(nil), data...)}
	if enc, err := Encoding(b); err != nil || len(enc) > MaxEncodingLength {
		return nil, &InvalidDataError{Reason: "blob: data too large to encode"}
	}
	return b, nil
}

func (b *Blob) Tag() Tag    { return TagBlob }
func (b *Blob) Refs() []Ref { return nil }
func (b *Blob) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBlob))
	buf.Write(putUVLC(nil, uint64(len(b.Data))))
	buf.Write(b.Data)
	return nil
}
func (b *Blob) Hash() Hash {
	if b.hash == nil {
		h := computeHash(b)
		b.hash = &h
	}
	return *b.hash
}

func decodeBlob(data []byte, offset int) (*Blob, int, error) {
	offset++ // tag already checked by caller
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	if offset+int(n) > len(data) {
		return nil, 0, badFormat(byte(TagBlob), offset, "blob: truncated payload")
	}
	v := append([]byte(nil), data[offset:offset+int(n)]...)
	return &Blob{Data: v}, offset + int(n), nil
}

// String is a UTF-8 string cell: a flat leaf carrying its bytes inline,
// the same size bound as Blob applies at construction time.
type String struct {
	Value string
	hash  *Hash
}

func NewString(s string) (*String, error) {
	str := &String{Value: s}
	if enc, err := Encoding(str); err != nil || len(enc) > MaxEncodingLength {
		return nil, &InvalidDataError{Reason: "string: data too large to encode"}
	}
	return str, nil
}

func (s *String) Tag() Tag    { return TagString }
func (s *String) Refs() []Ref { return nil }
func (s *String) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagString))
	b := []byte(s.Value)
	buf.Write(putUVLC(nil, uint64(len(b))))
	buf.Write(b)
	return nil
}
func (s *String) Hash() Hash {
	if s.hash == nil {
		h := computeHash(s)
		s.hash = &h
	}
	return *s.hash
}

func decodeString(data []byte, offset int) (*String, int, error) {
	offset++
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	if offset+int(n) > len(data) {
		return nil, 0, badFormat(byte(TagString), offset, "string: truncated payload")
	}
	v := string(data[offset : offset+int(n)])
	return &String{Value: v}, offset + int(n), nil
}

// Char is a single Unicode code point cell.
type Char struct {
	Value rune
	hash  *Hash
}

func NewChar(r rune) *Char { return &Char{Value: r} }

func (c *Char) Tag() Tag    { return TagChar }
func (c *Char) Refs() []Ref { return nil }
func (c *Char) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagChar))
	buf.Write(putUVLC(nil, uint64(c.Value)))
	return nil
}
func (c *Char) Hash() Hash {
	if c.hash == nil {
		h := computeHash(c)
		c.hash = &h
	}
	return *c.hash
}

func decodeChar(data []byte, offset int) (*Char, int, error) {
	offset++
	v, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	return &Char{Value: rune(v)}, next, nil
}

func decodeBlobFamily(data []byte, offset int, _ Resolver) (Cell, int, error) {
	switch Tag(data[offset]) {
	case TagBlob:
		return decodeBlob(data, offset)
	case TagString:
		return decodeString(data, offset)
	case TagChar:
		return decodeChar(data, offset)
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown blob-family tag")
	}
}
