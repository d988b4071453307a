package consensus

import (
	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
)

// Block/Order/Belief share family 0xA with pkg/state's records; the next
// free slots after state.TagState..state.TagBlockResult (0xA0-0xA4) are
// claimed here via state.RegisterRecordKind rather than a second
// cell.RegisterFamily call, so pkg/consensus never needs to import pkg/cell
// dispatch internals and pkg/cell never needs to import pkg/consensus.
const (
	TagBlock  cell.Tag = 0xA5
	TagOrder  cell.Tag = 0xA6
	TagBelief cell.Tag = 0xA7
)

func init() {
	state.RegisterRecordKind(TagBlock, decodeBlock)
	state.RegisterRecordKind(TagOrder, decodeOrder)
	state.RegisterRecordKind(TagBelief, decodeBelief)
}
