// Package wire implements spec.md §6's external interface: the
// length-prefixed, multi-cell message framing every peer connection speaks,
// plus the handful of cell kinds (Query, StatusVector, Challenge, Response)
// that exist only on the wire and have no place in pkg/state or
// pkg/consensus. Belief, SignedOrder, and Transaction messages are the
// existing pkg/consensus.Belief, cell.SignedData(Order), and
// cell.SignedData(Transaction) cells; this package only adds what those two
// don't already cover.
package wire

import "github.com/cposnet/peer/pkg/cell"

// Wire-only cell kinds claim family 0xB outright (spec.md §9's tag-family
// dispatch table), since nothing outside this package needs to decode them
// without pkg/wire already being linked in.
const (
	TagQuery     cell.Tag = 0xB0
	TagStatus    cell.Tag = 0xB1
	TagChallenge cell.Tag = 0xB2
	TagResponse  cell.Tag = 0xB3
)

var wireFamily [16]cell.DecodeFunc

func init() {
	cell.RegisterFamily(TagQuery.Family(), decodeWireFamily)
	registerWireKind(TagQuery, decodeQuery)
	registerWireKind(TagStatus, decodeStatusVector)
	registerWireKind(TagChallenge, decodeChallenge)
	registerWireKind(TagResponse, decodeResponse)
}

func registerWireKind(tag cell.Tag, fn cell.DecodeFunc) {
	wireFamily[byte(tag)&0x0F] = fn
}

func decodeWireFamily(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	tag := cell.Tag(data[offset])
	fn := wireFamily[byte(tag)&0x0F]
	if fn == nil {
		return nil, 0, &cell.BadFormatError{Tag: byte(tag), Offset: offset, Reason: "unknown wire tag"}
	}
	return fn(data, offset, res)
}
