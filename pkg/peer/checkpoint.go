package peer

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// TagCheckpoint claims family 0xE: nothing else in the tag table needs it,
// and a peer's own restart state (spec.md §6: "the root pointer file...
// holds... the peer's last committed Belief") is naturally a pair of refs
// rather than a bare Belief once the executed State has to survive a
// restart too, so it gets its own record cell instead of overloading
// Belief's tag.
const TagCheckpoint cell.Tag = 0xE0

func init() {
	cell.RegisterFamily(TagCheckpoint.Family(), decodeCheckpointFamily)
}

// Checkpoint is what the store's root pointer resolves to: the last
// Belief a peer produced, paired with the State that Belief's consensus
// pointer has actually been executed against, so a restarting peer does
// not have to replay every block from genesis.
type Checkpoint struct {
	Belief cell.Ref
	State  cell.Ref

	hash *cell.Hash
}

func NewCheckpoint(belief, state cell.Ref) *Checkpoint {
	return &Checkpoint{Belief: belief, State: state}
}

func (c *Checkpoint) Tag() cell.Tag    { return TagCheckpoint }
func (c *Checkpoint) Refs() []cell.Ref { return []cell.Ref{c.Belief, c.State} }

func (c *Checkpoint) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagCheckpoint))
	if err := c.Belief.Encode(buf); err != nil {
		return err
	}
	return c.State.Encode(buf)
}

func (c *Checkpoint) Hash() cell.Hash {
	if c.hash == nil {
		h := cell.ComputeHash(c)
		c.hash = &h
	}
	return *c.hash
}

func decodeCheckpoint(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagCheckpoint {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a checkpoint tag"}
	}
	offset++
	belief, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	st, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &Checkpoint{Belief: belief, State: st}, next, nil
}

func decodeCheckpointFamily(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagCheckpoint {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "unknown checkpoint-family tag"}
	}
	return decodeCheckpoint(data, offset, res)
}
