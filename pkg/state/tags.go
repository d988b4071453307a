package state

import "github.com/cposnet/peer/pkg/cell"

// Record tags (family 0xA: State, AccountStatus, PeerStatus, Result,
// BlockResult here; Block/Order/Belief register into the same family from
// pkg/consensus via RegisterRecordKind, so only one package calls
// cell.RegisterFamily(0xA, ...)).
const (
	TagState         cell.Tag = 0xA0
	TagAccountStatus cell.Tag = 0xA1
	TagPeerStatus    cell.Tag = 0xA2
	TagResult        cell.Tag = 0xA3
	TagBlockResult   cell.Tag = 0xA4
)

// Transaction tags (family 0xD).
const (
	TagInvoke   cell.Tag = 0xD0
	TagTransfer cell.Tag = 0xD1
	TagCall     cell.Tag = 0xD2
	TagMulti    cell.Tag = 0xD3
)

var recordFamily [16]cell.DecodeFunc
var txFamily [16]cell.DecodeFunc

func init() {
	cell.RegisterFamily(TagState.Family(), decodeRecordFamily)
	cell.RegisterFamily(TagInvoke.Family(), decodeTxFamily)

	RegisterRecordKind(TagState, decodeState)
	RegisterRecordKind(TagAccountStatus, decodeAccountStatus)
	RegisterRecordKind(TagPeerStatus, decodePeerStatus)
	RegisterRecordKind(TagResult, decodeResult)
	RegisterRecordKind(TagBlockResult, decodeBlockResult)

	registerTxKind(TagInvoke, decodeInvoke)
	registerTxKind(TagTransfer, decodeTransferTx)
	registerTxKind(TagCall, decodeCallTx)
	registerTxKind(TagMulti, decodeMultiTx)
}

// RegisterRecordKind binds the decoder for one record tag within the shared
// 0xA family. Exported so pkg/consensus can register Block/Order/Belief
// without pkg/state importing pkg/consensus (the same driver-registration
// technique pkg/cell uses for RegisterFamily itself).
func RegisterRecordKind(tag cell.Tag, fn cell.DecodeFunc) {
	recordFamily[byte(tag)&0x0F] = fn
}

func decodeRecordFamily(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	tag := cell.Tag(data[offset])
	fn := recordFamily[byte(tag)&0x0F]
	if fn == nil {
		return nil, 0, &cell.BadFormatError{Tag: byte(tag), Offset: offset, Reason: "unknown record tag"}
	}
	return fn(data, offset, res)
}

func registerTxKind(tag cell.Tag, fn cell.DecodeFunc) {
	txFamily[byte(tag)&0x0F] = fn
}

func decodeTxFamily(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	tag := cell.Tag(data[offset])
	fn := txFamily[byte(tag)&0x0F]
	if fn == nil {
		return nil, 0, &cell.BadFormatError{Tag: byte(tag), Offset: offset, Reason: "unknown transaction tag"}
	}
	return fn(data, offset, res)
}
