package cell

import (
	"bytes"
	"sort"
)

func init() {
	RegisterFamily(byte(TagVector)>>4, decodeStructureFamily)
}

const maxNodeChildren = 16

// ---- Vector / List: index-range 16-way trees ----

// seqNode is the shared representation for Vector and List: a leaf holding
// up to maxNodeChildren element refs directly, or an internal node holding
// up to maxNodeChildren child seqNodes covering contiguous index ranges
// (spec.md §4.1: "vectors... by index ranges").
type seqNode struct {
	tag      Tag
	leaf     []Ref // set iff this is a leaf
	children []Ref // set iff this is an internal node, each pointing to a seqNode
	hash     *Hash
}

func newSeqNode(tag Tag, elems []Ref) *seqNode {
	if len(elems) <= maxNodeChildren {
		return &seqNode{tag: tag, leaf: elems}
	}
	chunks := splitEven(len(elems), maxNodeChildren)
	children := make([]Ref, 0, len(chunks))
	i := 0
	for _, n := range chunks {
		sub := newSeqNode(tag, elems[i:i+n])
		children = append(children, NewRef(sub))
		i += n
	}
	return &seqNode{tag: tag, children: children}
}

// splitEven divides n items into at most maxParts contiguous, near-equal
// chunks, returning each chunk's length.
func splitEven(n, maxParts int) []int {
	parts := maxParts
	if n < parts {
		parts = n
	}
	if parts == 0 {
		return nil
	}
	base := n / parts
	rem := n % parts
	out := make([]int, parts)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

func (v *seqNode) Tag() Tag    { return v.tag }
func (v *seqNode) Refs() []Ref {
	if v.leaf != nil {
		return v.leaf
	}
	return v.children
}

func (v *seqNode) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(v.tag))
	if v.leaf != nil {
		buf.WriteByte(0)
		buf.Write(putUVLC(nil, uint64(len(v.leaf))))
		for _, r := range v.leaf {
			if err := r.Encode(buf); err != nil {
				return err
			}
		}
		return nil
	}
	buf.WriteByte(1)
	buf.Write(putUVLC(nil, uint64(len(v.children))))
	for _, r := range v.children {
		if err := r.Encode(buf); err != nil {
			return err
		}
	}
	return nil
}

func (v *seqNode) Hash() Hash {
	if v.hash == nil {
		h := computeHash(v)
		v.hash = &h
	}
	return *v.hash
}

// Elements flattens the tree into its logical element order, resolving
// child nodes against res as needed.
func (v *seqNode) Elements(res Resolver) ([]Ref, error) {
	if v.leaf != nil {
		return v.leaf, nil
	}
	var out []Ref
	for _, c := range v.children {
		sub, err := c.Resolve(res)
		if err != nil {
			return nil, err
		}
		sn, ok := sub.(*seqNode)
		if !ok {
			return nil, &InvalidDataError{Reason: "sequence child is not a sequence node"}
		}
		elems, err := sn.Elements(res)
		if err != nil {
			return nil, err
		}
		out = append(out, elems...)
	}
	return out, nil
}

func decodeSeqNode(tag Tag, data []byte, offset int, res Resolver) (*seqNode, int, error) {
	offset++ // tag
	if offset >= len(data) {
		return nil, 0, badFormat(byte(tag), offset, "sequence: missing kind byte")
	}
	kind := data[offset]
	offset++
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	refs := make([]Ref, 0, n)
	for i := uint64(0); i < n; i++ {
		r, nx, err := DecodeRef(data, offset, res, true)
		if err != nil {
			return nil, 0, err
		}
		refs = append(refs, r)
		offset = nx
	}
	switch kind {
	case 0:
		return &seqNode{tag: tag, leaf: refs}, offset, nil
	case 1:
		return &seqNode{tag: tag, children: refs}, offset, nil
	default:
		return nil, 0, badFormat(byte(tag), offset, "sequence: unknown node kind")
	}
}

// Vector constructs a Vector cell from its elements.
func NewVector(elems []Ref) Cell { return newSeqNode(TagVector, elems) }

// List constructs a List cell from its elements.
func NewList(elems []Ref) Cell { return newSeqNode(TagList, elems) }

// ---- Map / Set: hash-bucketed 16-way tries (HAMT-style) ----

type mapEntry struct {
	keyHash Hash
	key     Ref
	val     Ref // the zero Ref (no value) for Set entries
}

type hashNode struct {
	tag      Tag
	isSet    bool
	depth    int // nibble depth this node splits on, for internal nodes
	leaf     []mapEntry
	bitmap   uint16 // which of 16 nibble slots have a child, internal nodes only
	children []Ref
	hash     *Hash
}

func nibble(h Hash, depth int) int {
	b := h[depth/2]
	if depth%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}

func newHashNode(tag Tag, isSet bool, entries []mapEntry, depth int) *hashNode {
	if len(entries) <= maxNodeChildren || depth >= 63 {
		sorted := append([]mapEntry(nil), entries...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].keyHash.Less(sorted[j].keyHash) })
		return &hashNode{tag: tag, isSet: isSet, leaf: sorted}
	}
	buckets := make([][]mapEntry, maxNodeChildren)
	for _, e := range entries {
		n := nibble(e.keyHash, depth)
		buckets[n] = append(buckets[n], e)
	}
	var bitmap uint16
	var children []Ref
	for i, b := range buckets {
		if len(b) == 0 {
			continue
		}
		bitmap |= 1 << uint(i)
		sub := newHashNode(tag, isSet, b, depth+1)
		children = append(children, NewRef(sub))
	}
	return &hashNode{tag: tag, isSet: isSet, depth: depth, bitmap: bitmap, children: children}
}

func (h *hashNode) Tag() Tag { return h.tag }

func (h *hashNode) Refs() []Ref {
	if h.children != nil {
		return h.children
	}
	refs := make([]Ref, 0, 2*len(h.leaf))
	for _, e := range h.leaf {
		refs = append(refs, e.key)
		if !h.isSet {
			refs = append(refs, e.val)
		}
	}
	return refs
}

func (h *hashNode) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(h.tag))
	if h.children == nil {
		buf.WriteByte(0)
		buf.Write(putUVLC(nil, uint64(len(h.leaf))))
		for _, e := range h.leaf {
			if err := e.key.Encode(buf); err != nil {
				return err
			}
			if !h.isSet {
				if err := e.val.Encode(buf); err != nil {
					return err
				}
			}
		}
		return nil
	}
	buf.WriteByte(1)
	buf.Write(putUVLC(nil, uint64(h.bitmap)))
	for _, r := range h.children {
		if err := r.Encode(buf); err != nil {
			return err
		}
	}
	return nil
}

func (h *hashNode) Hash() Hash {
	if h.hash == nil {
		hh := computeHash(h)
		h.hash = &hh
	}
	return *h.hash
}

// Entries flattens the trie into its (key, value) pairs; Set nodes return
// val as the zero Ref.
func (h *hashNode) Entries(res Resolver) ([]mapEntry, error) {
	if h.children == nil {
		return h.leaf, nil
	}
	var out []mapEntry
	for _, c := range h.children {
		sub, err := c.Resolve(res)
		if err != nil {
			return nil, err
		}
		hn, ok := sub.(*hashNode)
		if !ok {
			return nil, &InvalidDataError{Reason: "hash-trie child is not a hash-trie node"}
		}
		entries, err := hn.Entries(res)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func decodeHashNode(tag Tag, isSet bool, data []byte, offset int, res Resolver) (*hashNode, int, error) {
	offset++ // tag
	if offset >= len(data) {
		return nil, 0, badFormat(byte(tag), offset, "hash-trie: missing kind byte")
	}
	kind := data[offset]
	offset++
	switch kind {
	case 0:
		n, next, err := readUVLC(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next
		leaf := make([]mapEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			kr, nx, err := DecodeRef(data, offset, res, true)
			if err != nil {
				return nil, 0, err
			}
			offset = nx
			var vr Ref
			if !isSet {
				vr, nx, err = DecodeRef(data, offset, res, true)
				if err != nil {
					return nil, 0, err
				}
				offset = nx
			}
			leaf = append(leaf, mapEntry{keyHash: kr.Hash(), key: kr, val: vr})
		}
		return &hashNode{tag: tag, isSet: isSet, leaf: leaf}, offset, nil
	case 1:
		bm, next, err := readUVLC(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next
		if bm == 0 || bm > 0xffff {
			return nil, 0, badFormat(byte(tag), offset, "hash-trie: invalid bitmap")
		}
		count := popcount16(uint16(bm))
		children := make([]Ref, 0, count)
		for i := 0; i < count; i++ {
			r, nx, err := DecodeRef(data, offset, res, true)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, r)
			offset = nx
		}
		return &hashNode{tag: tag, isSet: isSet, bitmap: uint16(bm), children: children}, offset, nil
	default:
		return nil, 0, badFormat(byte(tag), offset, "hash-trie: unknown node kind")
	}
}

func popcount16(v uint16) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

// NewMap constructs a Map cell from key/value ref pairs.
func NewMap(keys, vals []Ref) (Cell, error) {
	if len(keys) != len(vals) {
		return nil, &InvalidDataError{Reason: "map: key/value count mismatch"}
	}
	entries := make([]mapEntry, len(keys))
	for i := range keys {
		entries[i] = mapEntry{keyHash: keys[i].Hash(), key: keys[i], val: vals[i]}
	}
	return newHashNode(TagMap, false, entries, 0), nil
}

// MapGet looks up key's value in a Map cell, resolving child nodes against
// res as needed. Reports false if key is absent.
func MapGet(m Cell, key Ref, res Resolver) (Ref, bool, error) {
	hn, ok := m.(*hashNode)
	if !ok || hn.isSet {
		return Ref{}, false, &InvalidDataError{Reason: "MapGet: not a map cell"}
	}
	entries, err := hn.Entries(res)
	if err != nil {
		return Ref{}, false, err
	}
	target := key.Hash()
	for _, e := range entries {
		if e.keyHash == target {
			return e.val, true, nil
		}
	}
	return Ref{}, false, nil
}

// MapSet returns a new Map cell with key bound to val, replacing any
// existing binding for key. Maps are immutable (spec.md §3), so every
// update rebuilds a cell; callers thread the returned ref through their own
// State the way State.Accounts/Peers are replaced wholesale per block.
func MapSet(m Cell, key, val Ref, res Resolver) (Cell, error) {
	hn, ok := m.(*hashNode)
	if !ok || hn.isSet {
		return nil, &InvalidDataError{Reason: "MapSet: not a map cell"}
	}
	entries, err := hn.Entries(res)
	if err != nil {
		return nil, err
	}
	target := key.Hash()
	out := make([]mapEntry, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.keyHash == target {
			out = append(out, mapEntry{keyHash: target, key: key, val: val})
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, mapEntry{keyHash: target, key: key, val: val})
	}
	return newHashNode(TagMap, false, out, 0), nil
}

// MapPairs flattens a Map cell into parallel key/value ref slices, for
// callers that need every binding rather than a single lookup (belief
// merge's peer-key union, and total-stake iteration over State.Peers).
func MapPairs(m Cell, res Resolver) (keys []Ref, vals []Ref, err error) {
	hn, ok := m.(*hashNode)
	if !ok || hn.isSet {
		return nil, nil, &InvalidDataError{Reason: "MapPairs: not a map cell"}
	}
	entries, err := hn.Entries(res)
	if err != nil {
		return nil, nil, err
	}
	keys = make([]Ref, len(entries))
	vals = make([]Ref, len(entries))
	for i, e := range entries {
		keys[i] = e.key
		vals[i] = e.val
	}
	return keys, vals, nil
}

// NewSet constructs a Set cell from element refs.
func NewSet(elems []Ref) Cell {
	entries := make([]mapEntry, len(elems))
	for i, e := range elems {
		entries[i] = mapEntry{keyHash: e.Hash(), key: e}
	}
	return newHashNode(TagSet, true, entries, 0)
}

// ---- BlobMap: byte-key-ordered 16-way tree (index-range split by sorted
// key order, like Vector, but the logical collection is a key->value map
// rather than a sequence) ----

type blobMapNode struct {
	leaf     []mapEntry // sorted by raw key bytes
	children []Ref
	hash     *Hash
}

func newBlobMapNode(entries []mapEntry) *blobMapNode {
	if len(entries) <= maxNodeChildren {
		return &blobMapNode{leaf: entries}
	}
	chunks := splitEven(len(entries), maxNodeChildren)
	children := make([]Ref, 0, len(chunks))
	i := 0
	for _, n := range chunks {
		sub := newBlobMapNode(entries[i : i+n])
		children = append(children, NewRef(sub))
		i += n
	}
	return &blobMapNode{children: children}
}

func (b *blobMapNode) Tag() Tag { return TagBlobMap }
func (b *blobMapNode) Refs() []Ref {
	if b.children != nil {
		return b.children
	}
	refs := make([]Ref, 0, 2*len(b.leaf))
	for _, e := range b.leaf {
		refs = append(refs, e.key, e.val)
	}
	return refs
}

func (b *blobMapNode) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBlobMap))
	if b.children == nil {
		buf.WriteByte(0)
		buf.Write(putUVLC(nil, uint64(len(b.leaf))))
		for _, e := range b.leaf {
			if err := e.key.Encode(buf); err != nil {
				return err
			}
			if err := e.val.Encode(buf); err != nil {
				return err
			}
		}
		return nil
	}
	buf.WriteByte(1)
	buf.Write(putUVLC(nil, uint64(len(b.children))))
	for _, r := range b.children {
		if err := r.Encode(buf); err != nil {
			return err
		}
	}
	return nil
}

func (b *blobMapNode) Hash() Hash {
	if b.hash == nil {
		h := computeHash(b)
		b.hash = &h
	}
	return *b.hash
}

func decodeBlobMapNode(data []byte, offset int, res Resolver) (*blobMapNode, int, error) {
	offset++ // tag
	if offset >= len(data) {
		return nil, 0, badFormat(byte(TagBlobMap), offset, "blobmap: missing kind byte")
	}
	kind := data[offset]
	offset++
	n, next, err := readUVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	switch kind {
	case 0:
		leaf := make([]mapEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			kr, nx, err := DecodeRef(data, offset, res, true)
			if err != nil {
				return nil, 0, err
			}
			offset = nx
			vr, nx2, err := DecodeRef(data, offset, res, true)
			if err != nil {
				return nil, 0, err
			}
			offset = nx2
			leaf = append(leaf, mapEntry{keyHash: kr.Hash(), key: kr, val: vr})
		}
		return &blobMapNode{leaf: leaf}, offset, nil
	case 1:
		children := make([]Ref, 0, n)
		for i := uint64(0); i < n; i++ {
			r, nx, err := DecodeRef(data, offset, res, true)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, r)
			offset = nx
		}
		return &blobMapNode{children: children}, offset, nil
	default:
		return nil, 0, badFormat(byte(TagBlobMap), offset, "blobmap: unknown node kind")
	}
}

// NewBlobMap constructs a BlobMap cell, ordering entries by raw key bytes
// (spec.md §3: "ordered blob-map").
func NewBlobMap(keys [][]byte, vals []Ref) (Cell, error) {
	if len(keys) != len(vals) {
		return nil, &InvalidDataError{Reason: "blob-map: key/value count mismatch"}
	}
	type kv struct {
		k []byte
		r Ref
	}
	pairs := make([]kv, len(keys))
	for i := range keys {
		pairs[i] = kv{k: keys[i], r: vals[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].k, pairs[j].k) < 0 })
	entries := make([]mapEntry, len(pairs))
	for i, p := range pairs {
		keyBlob, err := NewBlob(p.k)
		if err != nil {
			return nil, err
		}
		entries[i] = mapEntry{key: NewRef(keyBlob), val: p.r}
	}
	return newBlobMapNode(entries), nil
}

func decodeStructureFamily(data []byte, offset int, res Resolver) (Cell, int, error) {
	switch Tag(data[offset]) {
	case TagVector:
		return decodeSeqNode(TagVector, data, offset, res)
	case TagList:
		return decodeSeqNode(TagList, data, offset, res)
	case TagMap:
		return decodeHashNode(TagMap, false, data, offset, res)
	case TagSet:
		return decodeHashNode(TagSet, true, data, offset, res)
	case TagBlobMap:
		return decodeBlobMapNode(data, offset, res)
	default:
		return nil, 0, badFormat(data[offset], offset, "unknown structure tag")
	}
}
