package cell

import "bytes"

// Status is a ref's observed durability/propagation level. Status only ever
// advances (spec.md §3 invariants): stored < persisted < announced, and an
// embedded ref keeps its status for good.
type Status byte

const (
	StatusStored Status = iota
	StatusPersisted
	StatusEmbedded
	StatusAnnounced
)

func (s Status) String() string {
	switch s {
	case StatusEmbedded:
		return "embedded"
	case StatusStored:
		return "stored"
	case StatusPersisted:
		return "persisted"
	case StatusAnnounced:
		return "announced"
	default:
		return "unknown"
	}
}

// rank orders non-embedded statuses for the monotonic Advance check.
// Embedded cells never transition to another status: they carry their
// value inline forever, independent of store state.
func (s Status) rank() int {
	switch s {
	case StatusStored:
		return 0
	case StatusPersisted:
		return 1
	case StatusAnnounced:
		return 2
	default:
		return -1
	}
}

// Rank exposes the same monotonic ordering rank() uses, for callers outside
// this package (pkg/store's novelty detection: a put only fires the novelty
// sink when it raises a hash's previously-observed status).
func (s Status) Rank() int { return s.rank() }

const (
	refDiscHash     byte = 0x00
	refDiscEmbedded byte = 0x01
)

// Ref is a typed handle to a cell: either the inline embedded value or a
// 32-byte hash, resolved lazily against a Resolver (spec.md §3, §9).
type Ref struct {
	hash   Hash
	value  Cell
	status Status
}

// NewRef builds a ref to c, embedding it inline if it qualifies.
func NewRef(c Cell) Ref {
	if IsEmbedded(c) {
		return Ref{hash: c.Hash(), value: c, status: StatusEmbedded}
	}
	return Ref{hash: c.Hash(), value: c, status: StatusStored}
}

// RefToHash builds a ref that is known only by hash (not yet resolved).
func RefToHash(h Hash) Ref {
	return Ref{hash: h, status: StatusStored}
}

func (r Ref) Hash() Hash     { return r.hash }
func (r Ref) Status() Status { return r.status }
func (r Ref) Embedded() bool { return r.status == StatusEmbedded }

// Value returns the already-resolved cell, if any, without consulting a
// Resolver.
func (r Ref) Value() (Cell, bool) { return r.value, r.value != nil }

// Advance raises the ref's status, ignoring attempts to regress it
// (spec.md §3: "Status is monotonic"). Embedded refs never change status.
func (r *Ref) Advance(s Status) {
	if r.status == StatusEmbedded {
		return
	}
	if s.rank() > r.status.rank() {
		r.status = s
	}
}

// Resolve returns the referenced cell, decoding and caching it from res if
// it is not already held inline.
func (r *Ref) Resolve(res Resolver) (Cell, error) {
	if r.value != nil {
		return r.value, nil
	}
	enc, ok := res.Resolve(r.hash)
	if !ok {
		return nil, &MissingDataError{Hash: r.hash}
	}
	c, _, err := Decode(enc, 0, res)
	if err != nil {
		return nil, err
	}
	r.value = c
	return c, nil
}

// Encode writes the ref's discriminator byte followed by either the inline
// cell encoding or the 32-byte hash.
func (r Ref) Encode(buf *bytes.Buffer) error {
	if r.status == StatusEmbedded {
		buf.WriteByte(refDiscEmbedded)
		if r.value == nil {
			return &InvalidDataError{Reason: "embedded ref missing its value"}
		}
		return r.value.Encode(buf)
	}
	buf.WriteByte(refDiscHash)
	buf.Write(r.hash[:])
	return nil
}

// DecodeRef reads one ref starting at offset. An embedded cell found where
// trailing-cell resolution expects a hash-only ref (spec.md §6: "Any
// embedded value appearing among trailers is a format error") is rejected
// by callers that pass allowEmbedded=false.
func DecodeRef(data []byte, offset int, res Resolver, allowEmbedded bool) (Ref, int, error) {
	if offset >= len(data) {
		return Ref{}, 0, badFormat(0, offset, "ref: read past end of buffer")
	}
	disc := data[offset]
	offset++
	switch disc {
	case refDiscHash:
		if offset+32 > len(data) {
			return Ref{}, 0, badFormat(disc, offset, "ref: truncated hash")
		}
		var h Hash
		copy(h[:], data[offset:offset+32])
		offset += 32
		return Ref{hash: h, status: StatusStored}, offset, nil
	case refDiscEmbedded:
		if !allowEmbedded {
			return Ref{}, 0, badFormat(disc, offset, "embedded cell not allowed here")
		}
		c, next, err := Decode(data, offset, res)
		if err != nil {
			return Ref{}, 0, err
		}
		if !IsEmbedded(c) {
			return Ref{}, 0, badFormat(byte(c.Tag()), offset, "ref marked embedded holds a non-embeddable cell")
		}
		return Ref{hash: c.Hash(), value: c, status: StatusEmbedded}, next, nil
	default:
		return Ref{}, 0, badFormat(disc, offset-1, "unknown ref discriminator")
	}
}
