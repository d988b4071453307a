package state

import (
	"bytes"

	"github.com/cposnet/peer/pkg/cell"
)

// State is the single cell representing the entire ledger snapshot
// (spec.md §3): address-indexed accounts, peer-key-indexed stake status,
// the global timestamp, juice/memory pricing, and the scheduled-transaction
// queue. Successive States share structure by ref (same Map/Vector
// subtrees), so advancing by one block is cheap to encode.
type State struct {
	Accounts     cell.Ref // Map: Address -> AccountStatus
	Peers        cell.Ref // Map: symbolic PeerKey -> PeerStatus
	Timestamp    int64
	JuicePrice   int64
	MemoryPool   int64
	MemoryPrice  int64
	ScheduledTxs cell.Ref // Vector of (trigger-timestamp, transaction) pairs

	hash *cell.Hash
}

// Genesis builds an empty State with no accounts, no peers, and no
// scheduled transactions, at the given genesis timestamp and starting
// juice/memory prices.
func Genesis(timestamp, juicePrice, memoryPrice int64) (*State, error) {
	accounts, err := cell.NewMap(nil, nil)
	if err != nil {
		return nil, err
	}
	peers, err := cell.NewMap(nil, nil)
	if err != nil {
		return nil, err
	}
	return &State{
		Accounts:     cell.NewRef(accounts),
		Peers:        cell.NewRef(peers),
		Timestamp:    timestamp,
		JuicePrice:   juicePrice,
		MemoryPrice:  memoryPrice,
		ScheduledTxs: cell.NewRef(cell.NewVector(nil)),
	}, nil
}

func (s *State) Tag() cell.Tag { return TagState }

func (s *State) Refs() []cell.Ref {
	return []cell.Ref{s.Accounts, s.Peers, s.ScheduledTxs}
}

func (s *State) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagState))
	if err := s.Accounts.Encode(buf); err != nil {
		return err
	}
	if err := s.Peers.Encode(buf); err != nil {
		return err
	}
	buf.Write(cell.PutVLC(nil, s.Timestamp))
	buf.Write(cell.PutVLC(nil, s.JuicePrice))
	buf.Write(cell.PutVLC(nil, s.MemoryPool))
	buf.Write(cell.PutVLC(nil, s.MemoryPrice))
	return s.ScheduledTxs.Encode(buf)
}

func (s *State) Hash() cell.Hash {
	if s.hash == nil {
		h := cell.ComputeHash(s)
		s.hash = &h
	}
	return *s.hash
}

func decodeState(data []byte, offset int, res cell.Resolver) (cell.Cell, int, error) {
	if cell.Tag(data[offset]) != TagState {
		return nil, 0, &cell.BadFormatError{Tag: data[offset], Offset: offset, Reason: "not a state tag"}
	}
	offset++
	accounts, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	peers, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	ts, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	juicePrice, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	memPool, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	memPrice, next, err := cell.ReadVLC(data, offset)
	if err != nil {
		return nil, 0, err
	}
	offset = next
	scheduled, next, err := cell.DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	return &State{
		Accounts:     accounts,
		Peers:        peers,
		Timestamp:    ts,
		JuicePrice:   juicePrice,
		MemoryPool:   memPool,
		MemoryPrice:  memPrice,
		ScheduledTxs: scheduled,
	}, next, nil
}

// NewScheduledEntry pairs a trigger timestamp with a transaction ref, the
// unit the scheduled-transaction queue is built from (spec.md §4.5:
// "scheduled transactions whose trigger timestamp ≤ block timestamp").
func NewScheduledEntry(trigger int64, tx cell.Ref) cell.Ref {
	entry := cell.NewVector([]cell.Ref{cell.NewRef(cell.NewLong(trigger)), tx})
	return cell.NewRef(entry)
}

// ScheduledEntryParts extracts the trigger timestamp and transaction ref
// from a cell built by NewScheduledEntry.
func ScheduledEntryParts(c cell.Cell, res cell.Resolver) (int64, cell.Ref, error) {
	seq, ok := c.(interface {
		Elements(cell.Resolver) ([]cell.Ref, error)
	})
	if !ok {
		return 0, cell.Ref{}, &cell.InvalidDataError{Reason: "scheduled entry is not a sequence"}
	}
	elems, err := seq.Elements(res)
	if err != nil {
		return 0, cell.Ref{}, err
	}
	if len(elems) != 2 {
		return 0, cell.Ref{}, &cell.InvalidDataError{Reason: "scheduled entry must have exactly 2 elements"}
	}
	triggerCell, err := elems[0].Resolve(res)
	if err != nil {
		return 0, cell.Ref{}, err
	}
	trigger, ok := triggerCell.(*cell.Long)
	if !ok {
		return 0, cell.Ref{}, &cell.InvalidDataError{Reason: "scheduled entry trigger is not a long"}
	}
	return trigger.Value, elems[1], nil
}
