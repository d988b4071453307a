// Package consensus implements the data structures and the CPoS belief
// merge algorithm at the heart of the system (spec.md §4.4): Block, Order,
// and Belief cells, and the pure merge function that advances a peer's
// Belief by combining it with incoming peers' Beliefs.
package consensus

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
)

// Block is a timestamped, ordered sequence of signed transactions produced
// by a single peer (spec.md §3: "Canonical form: {timestamp, vector of
// signed-transactions}. Peer identity is recovered from the outer signature
// on the Block, not stored inside.").
type Block struct {
	Timestamp int64
	Txs       cell.Ref // Vector of SignedData(Transaction) refs

	hash *cell.Hash
}

func NewBlock(timestamp int64, txs []cell.Ref) *Block {
	return &Block{Timestamp: timestamp, Txs: cell.NewRef(cell.NewVector(txs))}
}

func (b *Block) Tag() cell.Tag    { return TagBlock }
func (b *Block) Refs() []cell.Ref { return []cell.Ref{b.Txs} }

func (b *Block) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBlock))
	buf.Write(cell.PutVLC(nil, b.Timestamp))
	return b.Txs.Encode(buf)
}

func (b *Block) Hash() cell.Hash {
	if b.hash == nil {
		h := cell.ComputeHash(b)
		b.hash = &h
	}
	return *b.hash
}

// TxRefs resolves Txs into its element refs.
func (b *Block) TxRefs(res cell.Resolver) ([]cell.Ref, error) {
	c, err := b.Txs.Resolve(res)
	if err != nil {
		return nil, err
	}
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		return nil, &cell.InvalidDataError{Reason: "block txs is not a sequence"}
	}
	return seq.Elements(res)
}

func decodeBlock(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagBlock {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a block tag"}
	}
	offset++
	ts, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	txs, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &Block{Timestamp: ts, Txs: txs}, next, nil
}

// Order is a peer's proposed total ordering (spec.md §3): a vector of
// signed Blocks plus three consensus-level pointers and a local timestamp.
//
// The three pointers are stored in the order spec.md §4.4 step 2 computes
// them: Proposal is the loosest/shallowest agreement (closest to the raw
// tip), Consensus is a stricter subset of Proposal, and Finality is the
// strictest subset of Consensus — the smallest, safest prefix, matching
// spec.md §3's "blocks at indices < finality are immutable in every honest
// peer's view" and §4.5's execution trigger firing at the looser Consensus
// pointer before a block is necessarily final. This resolves a tension
// between spec.md §3's literal invariant text ("proposal <= consensus <=
// finality") and §4.4 step 2's operational algorithm plus the
// CONSENSUS_LEVELS ordering "raw-blocks, proposed, consensus, finality"
// (each level strictly narrower than the last, and "each level advances
// only when 67% of stake agrees on the prefix at the previous level"); see
// DESIGN.md for the resolution. The structural invariant enforced
// throughout this package is therefore:
//
//	0 <= Finality <= Consensus <= Proposal <= len(Blocks)
type Order struct {
	Blocks    cell.Ref // Vector of SignedData(Block) refs
	Proposal  int64
	Consensus int64
	Finality  int64
	Timestamp int64

	hash *cell.Hash
}

func NewOrder(blocks []cell.Ref, proposal, consensus, finality, timestamp int64) *Order {
	return &Order{
		Blocks:    cell.NewRef(cell.NewVector(blocks)),
		Proposal:  proposal,
		Consensus: consensus,
		Finality:  finality,
		Timestamp: timestamp,
	}
}

func (o *Order) Tag() cell.Tag    { return TagOrder }
func (o *Order) Refs() []cell.Ref { return []cell.Ref{o.Blocks} }

func (o *Order) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagOrder))
	if err := o.Blocks.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutVLC(nil, o.Proposal))
	buf.Write(cell.PutVLC(nil, o.Consensus))
	buf.Write(cell.PutVLC(nil, o.Finality))
	buf.Write(cell.PutVLC(nil, o.Timestamp))
	return nil
}

func (o *Order) Hash() cell.Hash {
	if o.hash == nil {
		h := cell.ComputeHash(o)
		o.hash = &h
	}
	return *o.hash
}

// BlockRefs resolves Blocks into its element refs.
func (o *Order) BlockRefs(res cell.Resolver) ([]cell.Ref, error) {
	c, err := o.Blocks.Resolve(res)
	if err != nil {
		return nil, err
	}
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		return nil, &cell.InvalidDataError{Reason: "order blocks is not a sequence"}
	}
	return seq.Elements(res)
}

// Len resolves the number of blocks in the order.
func (o *Order) Len(res cell.Resolver) (int64, error) {
	refs, err := o.BlockRefs(res)
	if err != nil {
		return 0, err
	}
	return int64(len(refs)), nil
}

// Valid reports whether the order's pointers satisfy the structural
// invariant 0 <= Finality <= Consensus <= Proposal <= len(Blocks).
func (o *Order) Valid(res cell.Resolver) (bool, error) {
	n, err := o.Len(res)
	if err != nil {
		return false, err
	}
	return 0 <= o.Finality && o.Finality <= o.Consensus && o.Consensus <= o.Proposal && o.Proposal <= n, nil
}

func decodeOrder(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagOrder {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not an order tag"}
	}
	offset++
	blocks, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	proposal, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	consensus, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	finality, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	ts, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	o := &Order{Blocks: blocks, Proposal: proposal, Consensus: consensus, Finality: finality, Timestamp: ts}
	ok, err := o.Valid(res)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, &cell.InvalidDataError{Reason: "order pointers violate 0 <= finality <= consensus <= proposal <= len(blocks)"}
	}
	return o, next, nil
}

// Belief is a peer's complete opinion: mapping PeerKey -> signed Order
// (spec.md §3). A peer's own entry is always the Order it most recently
// produced and signed.
type Belief struct {
	Orders cell.Ref // Map: Symbol(peer key hex) -> SignedData(Order)

	hash *cell.Hash
}

func NewBelief(orders cell.Ref) *Belief { return &Belief{Orders: orders} }

func (b *Belief) Tag() cell.Tag    { return TagBelief }
func (b *Belief) Refs() []cell.Ref { return []cell.Ref{b.Orders} }

func (b *Belief) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagBelief))
	return b.Orders.Encode(buf)
}

func (b *Belief) Hash() cell.Hash {
	if b.hash == nil {
		h := cell.ComputeHash(b)
		b.hash = &h
	}
	return *b.hash
}

func decodeBelief(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagBelief {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a belief tag"}
	}
	offset++
	orders, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &Belief{Orders: orders}, next, nil
}

// PeerKeyRef mirrors state.PeerKeyRef so Belief.Orders and State.Peers are
// keyed identically by a peer's hex-encoded Ed25519 public key.
func PeerKeyRef(peerKeyHex string) cell.Ref { return state.PeerKeyRef(peerKeyHex) }

// SignedOrder returns b's entry for peerKeyHex, resolved and type-asserted
// to *cell.SignedData wrapping an *Order, or found=false if absent.
func (b *Belief) SignedOrder(peerKeyHex string, res cell.Resolver) (*cell.SignedData, bool, error) {
	orders, err := b.Orders.Resolve(res)
	if err != nil {
		return nil, false, err
	}
	val, found, err := cell.MapGet(orders, PeerKeyRef(peerKeyHex), res)
	if err != nil || !found {
		return nil, false, err
	}
	c, err := val.Resolve(res)
	if err != nil {
		return nil, false, err
	}
	sd, ok := c.(*cell.SignedData)
	if !ok {
		return nil, false, &cell.InvalidDataError{Reason: "belief entry is not signed data"}
	}
	return sd, true, nil
}

// Pairs resolves every (peerKeyHex, *cell.SignedData) binding in the belief.
func (b *Belief) Pairs(res cell.Resolver) (map[string]*cell.SignedData, error) {
	orders, err := b.Orders.Resolve(res)
	if err != nil {
		return nil, err
	}
	keys, vals, err := cell.MapPairs(orders, res)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*cell.SignedData, len(keys))
	for i, k := range keys {
		kc, err := k.Resolve(res)
		if err != nil {
			return nil, err
		}
		sym, ok := kc.(*cell.Symbol)
		if !ok {
			return nil, &cell.InvalidDataError{Reason: "belief key is not a symbol"}
		}
		vc, err := vals[i].Resolve(res)
		if err != nil {
			return nil, err
		}
		sd, ok := vc.(*cell.SignedData)
		if !ok {
			return nil, &cell.InvalidDataError{Reason: "belief entry is not signed data"}
		}
		out[sym.Name] = sd
	}
	return out, nil
}
