package cell

import "bytes"

func init() {
	RegisterFamily(byte(TagSymbol)>>4, decodeSymbolic)
}

// Symbol is an interned-style name cell (VM identifier namespace); the core
// treats it as an opaque UTF-8 name.
type Symbol struct {
	Name string
	hash *Hash
}

func NewSymbol(name string) *Symbol { return &Symbol{Name: name} }

func (s *Symbol) Tag() Tag    { return TagSymbol }
func (s *Symbol) Refs() []Ref { return nil }
func (s *Symbol) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagSymbol))
	b := []byte(s.Name)
	buf.Write(putUVLC(nil, uint64(len(b))))
	buf.Write(b)
	return nil
}
func (s *Symbol) Hash() Hash {
	if s.hash == nil {
		h := computeHash(s)
		s.hash = &h
	}
	return *s.hash
}

// Keyword is a self-evaluating tagged name cell (e.g. :gtc, :ioc markers in
// VM data), distinct from Symbol only by tag.
type Keyword struct {
	Name string
	hash *Hash
}

func NewKeyword(name string) *Keyword { return &Keyword{Name: name} }

func (k *Keyword) Tag() Tag    { return TagKeyword }
func (k *Keyword) Refs() []Ref { return nil }
func (k *Keyword) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagKeyword))
	b := []byte(k.Name)
	buf.Write(putUVLC(nil, uint64(len(b))))
	buf.Write(b)
	return nil
}
func (k *Keyword) Hash() Hash {
	if k.hash == nil {
		h := computeHash(k)
		k.hash = &h
	}
	return *k.hash
}

// Address is a 62-bit account index cell (spec.md §3). Negative indices are
// rejected at construction; the top two bits are reserved so the value
// always fits the VLC encoding in at most 9 bytes.
type Address struct {
	Index uint64
	hash  *Hash
}

const maxAddressIndex = (uint64(1) << 62) - 1

func NewAddress(idx uint64) (*Address, error) {
	if idx > maxAddressIndex {
		return nil, &InvalidDataError{Reason: "address index exceeds 62 bits"}
	}
	return &Address{Index: idx}, nil
}

func (a *Address) Tag() Tag    { return TagAddress }
func (a *Address) Refs() []Ref { return nil }
func (a *Address) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagAddress))
	buf.Write(putUVLC(nil, a.Index))
	return nil
}
func (a *Address) Hash() Hash {
	if a.hash == nil {
		h := computeHash(a)
		a.hash = &h
	}
	return *a.hash
}

func decodeSymbolic(data []byte, offset int, _ Resolver) (Cell, int, error) {
	tag := Tag(data[offset])
	switch tag {
	case TagSymbol, TagKeyword:
		start := offset + 1
		n, next, err := readUVLC(data, start)
		if err != nil {
			return nil, 0, err
		}
		if next+int(n) > len(data) {
			return nil, 0, badFormat(byte(tag), next, "symbolic: truncated payload")
		}
		name := string(data[next : next+int(n)])
		end := next + int(n)
		if tag == TagSymbol {
			return &Symbol{Name: name}, end, nil
		}
		return &Keyword{Name: name}, end, nil
	case TagAddress:
		idx, next, err := readUVLC(data, offset+1)
		if err != nil {
			return nil, 0, err
		}
		if idx > maxAddressIndex {
			return nil, 0, badFormat(byte(tag), offset, "address index exceeds 62 bits")
		}
		return &Address{Index: idx}, next, nil
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown symbolic tag")
	}
}
