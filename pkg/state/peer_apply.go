package state

import "github.com/cposnet/peer/pkg/cell"

// PeerKeyRef builds the Map key belief merge and State.Peers share for a
// peer identified by its hex-encoded Ed25519 public key.
func PeerKeyRef(peerKeyHex string) cell.Ref {
	return cell.NewRef(cell.NewSymbol(peerKeyHex))
}

// LookupPeer resolves a peer's current PeerStatus from st.Peers, reporting
// found=false rather than an error if the key is absent (unlike
// Lookup/AccountStatus, an absent peer is routine: the belief merge sees
// peer keys with no stake on file yet).
func (s *State) LookupPeer(peerKeyHex string, res cell.Resolver) (*PeerStatus, bool, error) {
	peers, err := s.Peers.Resolve(res)
	if err != nil {
		return nil, false, err
	}
	val, found, err := cell.MapGet(peers, PeerKeyRef(peerKeyHex), res)
	if err != nil || !found {
		return nil, false, err
	}
	c, err := val.Resolve(res)
	if err != nil {
		return nil, false, err
	}
	ps, ok := c.(*PeerStatus)
	if !ok {
		return nil, false, &StateError{Reason: "peer entry is not a PeerStatus"}
	}
	return ps, true, nil
}

// PutPeer returns a new State with peerKeyHex rebound to status.
func (s *State) PutPeer(peerKeyHex string, status *PeerStatus, res cell.Resolver) (*State, error) {
	peers, err := s.Peers.Resolve(res)
	if err != nil {
		return nil, err
	}
	updated, err := cell.MapSet(peers, PeerKeyRef(peerKeyHex), cell.NewRef(status), res)
	if err != nil {
		return nil, err
	}
	next := *s
	next.Peers = cell.NewRef(updated)
	next.hash = nil
	return &next, nil
}

// PeerStake pairs a peer key with the PeerStatus read for it, the unit
// belief merge's stake-weighting iterates over.
type PeerStake struct {
	PeerKey string
	Status  *PeerStatus
}

// EachPeer resolves every binding in st.Peers, skipping entries whose
// own Stake (delegated stake not counted) falls below minEffectiveStake (spec.md §4.4 step 2:
// "provided the peer's stake >= minimum").
func (s *State) EachPeer(res cell.Resolver, minEffectiveStake int64) ([]PeerStake, error) {
	peers, err := s.Peers.Resolve(res)
	if err != nil {
		return nil, err
	}
	keys, vals, err := cell.MapPairs(peers, res)
	if err != nil {
		return nil, err
	}
	out := make([]PeerStake, 0, len(keys))
	for i, k := range keys {
		kc, err := k.Resolve(res)
		if err != nil {
			return nil, err
		}
		sym, ok := kc.(*cell.Symbol)
		if !ok {
			return nil, &StateError{Reason: "peer key is not a symbol"}
		}
		vc, err := vals[i].Resolve(res)
		if err != nil {
			return nil, err
		}
		ps, ok := vc.(*PeerStatus)
		if !ok {
			return nil, &StateError{Reason: "peer entry is not a PeerStatus"}
		}
		if ps.Stake < minEffectiveStake {
			continue
		}
		out = append(out, PeerStake{PeerKey: sym.Name, Status: ps})
	}
	return out, nil
}

// TotalEffectiveStake sums EffectiveStake() over every peer that clears
// minEffectiveStake, the denominator belief merge's 67% thresholds use.
func (s *State) TotalEffectiveStake(res cell.Resolver, minEffectiveStake int64) (int64, error) {
	peers, err := s.EachPeer(res, minEffectiveStake)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range peers {
		total += p.Status.EffectiveStake()
	}
	return total, nil
}
