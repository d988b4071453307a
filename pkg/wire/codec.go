package wire

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// EncodeMultiCell builds a message payload for top: the first cell's own
// encoding, followed by the encoding of every distinct non-embedded
// descendant cell reachable from it (spec.md §6: "Payload = multi-cell
// encoding: the first cell's encoding, then zero or more additional
// non-embedded cells' encodings concatenated"). Embedded descendants never
// need a trailer — the embedding invariant guarantees their own children
// are embedded too, so there is nothing further to resolve under them.
func EncodeMultiCell(top cell.Cell, res cell.Resolver) ([]byte, error) {
	var buf bytes.Buffer
	firstEnc, err := cell.Encoding(top)
	if err != nil {
		return nil, err
	}
	buf.Write(firstEnc)

	seen := map[cell.Hash]bool{top.Hash(): true}
	var walk func(c cell.Cell) error
	walk = func(c cell.Cell) error {
		for _, r := range c.Refs() {
			if r.Embedded() {
				continue
			}
			h := r.Hash()
			if seen[h] {
				continue
			}
			child, err := r.Resolve(res)
			if err != nil {
				return err
			}
			seen[h] = true
			enc, err := cell.Encoding(child)
			if err != nil {
				return err
			}
			buf.Write(enc)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(top); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// trailerResolver answers Resolve from the trailer cells parsed out of one
// multi-cell payload before falling back to a local store, so hash refs
// the sender omitted (because the receiver already had them) still
// resolve.
type trailerResolver struct {
	trailers map[cell.Hash][]byte
	fallback cell.Resolver
}

func (t *trailerResolver) Resolve(h cell.Hash) ([]byte, bool) {
	if enc, ok := t.trailers[h]; ok {
		return enc, true
	}
	if t.fallback != nil {
		return t.fallback.Resolve(h)
	}
	return nil, false
}

// DecodeMultiCell parses a multi-cell payload into its first cell and a
// Resolver that serves every trailing cell's encoding by hash, falling
// back to fallback for anything the sender omitted. Any trailer that
// qualifies for embedding is a format error (spec.md §6: "Any embedded
// value appearing among trailers is a format error") — it should have
// been inlined in its parent instead of sent separately.
func DecodeMultiCell(payload []byte, fallback cell.Resolver) (cell.Cell, cell.Resolver, error) {
	if len(payload) == 0 {
		return nil, nil, &cell.BadFormatError{Reason: "empty multi-cell payload"}
	}
	tr := &trailerResolver{trailers: make(map[cell.Hash][]byte), fallback: fallback}
	first, offset, err := cell.Decode(payload, 0, tr)
	if err != nil {
		return nil, nil, err
	}
	for offset < len(payload) {
		start := offset
		c, next, err := cell.Decode(payload, offset, tr)
		if err != nil {
			return nil, nil, err
		}
		if cell.IsEmbedded(c) {
			return nil, nil, &cell.BadFormatError{Tag: byte(c.Tag()), Offset: start, Reason: "embedded value appears among multi-cell trailers"}
		}
		tr.trailers[c.Hash()] = append([]byte(nil), payload[start:next]...)
		offset = next
	}
	return first, tr, nil
}
