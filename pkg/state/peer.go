package state

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// PeerStatus is a consensus participant's stake status record (spec.md §3:
// "mapping PeerKey → PeerStatus (stake, delegated stakes, host,
// timestamp)"). Effective stake for belief merge is Stake+DelegatedStake,
// provided Stake itself meets the configured minimum (spec.md §4.4 step 2).
type PeerStatus struct {
	Stake          int64
	DelegatedStake int64
	Host           string
	Timestamp      int64

	hash *cell.Hash
}

func (p *PeerStatus) EffectiveStake() int64 { return p.Stake + p.DelegatedStake }

func (p *PeerStatus) Tag() cell.Tag    { return TagPeerStatus }
func (p *PeerStatus) Refs() []cell.Ref { return nil }

func (p *PeerStatus) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagPeerStatus))
	buf.Write(cell.PutVLC(nil, p.Stake))
	buf.Write(cell.PutVLC(nil, p.DelegatedStake))
	writeString(buf, p.Host)
	buf.Write(cell.PutVLC(nil, p.Timestamp))
	return nil
}

func (p *PeerStatus) Hash() cell.Hash {
	if p.hash == nil {
		h := cell.ComputeHash(p)
		p.hash = &h
	}
	return *p.hash
}

func decodePeerStatus(data []byte, offset int, _ cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagPeerStatus {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a peer-status tag"}
	}
	offset++
	stake, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	delegated, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	host, next, err := readString(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	ts, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	return &PeerStatus{Stake: stake, DelegatedStake: delegated, Host: host, Timestamp: ts}, next, nil
}
