package cell

import (
	"bytes"
	"math"
	"math/big"
)

func init() {
	RegisterFamily(byte(TagLong)>>4, decodeNumeric)
}

// Long is a fixed-precision 64-bit signed integer cell.
type Long struct {
	Value int64
	hash  *Hash
}

func NewLong(v int64) *Long { return &Long{Value: v} }

func (l *Long) Tag() Tag        { return TagLong }
func (l *Long) Refs() []Ref     { return nil }
func (l *Long) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagLong))
	b := putVLC(nil, l.Value)
	buf.Write(b)
	return nil
}
func (l *Long) Hash() Hash {
	if l.hash == nil {
		h := computeHash(l)
		l.hash = &h
	}
	return *l.hash
}

func decodeLong(data []byte, offset int) (*Long, int, error) {
	if data[offset] != byte(TagLong) {
		return nil, 0, badFormat(data[offset], offset, "not a long tag")
	}
	offset++
	v, next, err := readVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	return &Long{Value: v}, next, nil
}

// BigInt is an arbitrary-precision integer cell, stored as a minimal
// two's-complement big-endian byte string prefixed by its VLC length.
// Zero has length 0 (spec.md §4.1).
type BigInt struct {
	Value *big.Int
	hash  *Hash
}

func NewBigInt(v *big.Int) *BigInt { return &BigInt{Value: v} }

func (b *BigInt) Tag() Tag    { return TagBigInt }
func (b *BigInt) Refs() []Ref { return nil }

func (b *BigInt) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBigInt))
	raw := minimalTwosComplement(b.Value)
	buf.Write(putUVLC(nil, uint64(len(raw))))
	buf.Write(raw)
	return nil
}

func (b *BigInt) Hash() Hash {
	if b.hash == nil {
		h := computeHash(b)
		b.hash = &h
	}
	return *b.hash
}

func decodeBigInt(data []byte, offset int) (*BigInt, int, error) {
	if data[offset] != byte(TagBigInt) {
		return nil, 0, badFormat(data[offset], offset, "not a bigint tag")
	}
	offset++
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	if offset+int(n) > len(data) {
		return nil, 0, badFormat(byte(TagBigInt), offset, "bigint: truncated payload")
	}
	raw := data[offset : offset+int(n)]
	offset += int(n)
	v := fromMinimalTwosComplement(raw)
	return &BigInt{Value: v}, offset, nil
}

// minimalTwosComplement returns the shortest big-endian two's-complement
// byte string representing v, with zero represented by zero bytes.
func minimalTwosComplement(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}
	if v.Sign() > 0 {
		b := v.Bytes()
		if len(b) == 0 || b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}
	// Negative: encode abs(v)-1, complement, ensure high bit set.
	abs := new(big.Int).Abs(v)
	abs.Sub(abs, big.NewInt(1))
	b := abs.Bytes()
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	if len(out) == 0 || out[0]&0x80 == 0 {
		out = append([]byte{0xff}, out...)
	}
	return out
}

func fromMinimalTwosComplement(b []byte) *big.Int {
	if len(b) == 0 {
		return big.NewInt(0)
	}
	if b[0]&0x80 == 0 {
		return new(big.Int).SetBytes(b)
	}
	inv := make([]byte, len(b))
	for i, c := range b {
		inv[i] = ^c
	}
	v := new(big.Int).SetBytes(inv)
	v.Add(v, big.NewInt(1))
	v.Neg(v)
	return v
}

// canonicalNaN is the single bit pattern every NaN normalizes to on decode
// (spec.md §4.1, §8): the standard quiet NaN.
const canonicalNaNBits = uint64(0x7FF8000000000000)

// Double is an IEEE-754 double cell with a single canonical NaN.
type Double struct {
	Value float64
	hash  *Hash
}

func NewDouble(v float64) *Double {
	if math.IsNaN(v) {
		v = math.Float64frombits(canonicalNaNBits)
	}
	return &Double{Value: v}
}

func (d *Double) Tag() Tag    { return TagDouble }
func (d *Double) Refs() []Ref { return nil }

func (d *Double) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagDouble))
	bits := math.Float64bits(d.Value)
	if math.IsNaN(d.Value) {
		bits = canonicalNaNBits
	}
	var raw [8]byte
	for i := 0; i < 8; i++ {
		raw[i] = byte(bits >> (56 - 8*i))
	}
	buf.Write(raw[:])
	return nil
}

func (d *Double) Hash() Hash {
	if d.hash == nil {
		h := computeHash(d)
		d.hash = &h
	}
	return *d.hash
}

func decodeDouble(data []byte, offset int) (*Double, int, error) {
	if data[offset] != byte(TagDouble) {
		return nil, 0, badFormat(data[offset], offset, "not a double tag")
	}
	offset++
	if offset+8 > len(data) {
		return nil, 0, badFormat(byte(TagDouble), offset, "double: truncated payload")
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits = (bits << 8) | uint64(data[offset+i])
	}
	offset += 8
	v := math.Float64frombits(bits)
	if math.IsNaN(v) {
		v = math.Float64frombits(canonicalNaNBits)
	}
	return &Double{Value: v}, offset, nil
}

func decodeNumeric(data []byte, offset int, _ Resolver) (Cell, int, error) {
	switch Tag(data[offset]) {
	case TagLong:
		return decodeLong(data, offset)
	case TagBigInt:
		return decodeBigInt(data, offset)
	case TagDouble:
		return decodeDouble(data, offset)
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown numeric tag")
	}
}
