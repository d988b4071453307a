package consensus

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/sig"
	"github.com/cposnet/peer/pkg/state"
)

// quorumNum/quorumDen express the 67% stake threshold (spec.md §4.4 step 2)
// as exact integer arithmetic: stake*quorumDen >= total*quorumNum.
const (
	quorumNum = 67
	quorumDen = 100
)

// Config carries the merge-time parameters spec.md §4.4/§9 leaves to
// configuration: the minimum effective stake a peer needs to be weighed at
// all, and whether fork recovery (step 4, disabled by default) is enabled.
type Config struct {
	MinEffectiveStake  int64
	EnableForkRecovery bool
}

// Equivocation records a rejected, conflicting Order from a peer that
// already had one accepted — spec.md §8 scenario 6: "produce evidence (both
// signed Orders) to the operator log."
type Equivocation struct {
	PeerKey     string
	FirstOrder  *cell.SignedData
	SecondOrder *cell.SignedData
	Reason      string
}

func meets(stake, total int64) bool {
	return stake*quorumDen >= total*quorumNum
}

// blockHashSeq flattens an Order's block vector into the sequence of
// hashes merge compares for prefix agreement (spec.md §4.4 step 2: "block
// vector agrees on blocks [0..k)"). Each hash is of the SignedData(Block)
// ref, so two peers only "agree" on a block if they hold the identical
// signed bytes for it.
func blockHashSeq(o *Order, res cell.Resolver) ([]cell.Hash, error) {
	refs, err := o.BlockRefs(res)
	if err != nil {
		return nil, err
	}
	out := make([]cell.Hash, len(refs))
	for i, r := range refs {
		out[i] = r.Hash()
	}
	return out, nil
}

// candidate is one peer's proposed Order under consideration during a
// merge round, together with the data the agreement and selection passes
// need repeatedly.
type candidate struct {
	peerKey string
	signed  *cell.SignedData
	order   *Order
	hashes  []cell.Hash
	stake   int64
}

// mostRecentOrder reports whether a is strictly more recent than b per
// spec.md §4.4 step 1's ordered tie-break: greater finality, else greater
// consensus, else greater proposal, else longer block vector, else greater
// timestamp, else — per SPEC_FULL.md §9(a) — the lower signed-order hash.
func mostRecentOrder(a, b candidate) bool {
	if a.order.Finality != b.order.Finality {
		return a.order.Finality > b.order.Finality
	}
	if a.order.Consensus != b.order.Consensus {
		return a.order.Consensus > b.order.Consensus
	}
	if a.order.Proposal != b.order.Proposal {
		return a.order.Proposal > b.order.Proposal
	}
	if len(a.hashes) != len(b.hashes) {
		return len(a.hashes) > len(b.hashes)
	}
	if a.order.Timestamp != b.order.Timestamp {
		return a.order.Timestamp > b.order.Timestamp
	}
	return a.signed.Hash().Less(b.signed.Hash())
}

// conflictsBelow reports whether a and b disagree anywhere within the
// first n block hashes — the non-equivocation check (spec.md §3, §4.4 step
// 3): a peer's Order may never contradict a block below its own finality
// pointer.
func conflictsBelow(a, b []cell.Hash, n int64) bool {
	for i := int64(0); i < n && i < int64(len(a)) && i < int64(len(b)); i++ {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// buildCandidate validates and wraps one peer's signed Order: the
// signature must be by the claimed peer key, and the pubkey embedded in
// the signature must match the symbol key it is filed under (spec.md
// §4.4 step 1: "Never accept an Order from peer P that is not signed by
// P.").
func buildCandidate(peerKey string, signed *cell.SignedData, res cell.Resolver, stakeOf map[string]int64) (candidate, bool, error) {
	if hex.EncodeToString(signed.PubKey[:]) != peerKey {
		return candidate{}, false, nil
	}
	ok, err := signed.Verify(res)
	if err != nil {
		return candidate{}, false, err
	}
	if !ok {
		return candidate{}, false, nil
	}
	payload, err := signed.Payload.Resolve(res)
	if err != nil {
		return candidate{}, false, err
	}
	order, ok := payload.(*Order)
	if !ok {
		return candidate{}, false, nil
	}
	valid, err := order.Valid(res)
	if err != nil || !valid {
		return candidate{}, false, err
	}
	hashes, err := blockHashSeq(order, res)
	if err != nil {
		return candidate{}, false, err
	}
	return candidate{peerKey: peerKey, signed: signed, order: order, hashes: hashes, stake: stakeOf[peerKey]}, true, nil
}

// Step 1: union every peer-key's Orders across self and the incoming
// Beliefs into the single most-recent, validated candidate per peer,
// enforcing the non-equivocation invariant against whatever self already
// held for that peer.
func unionOrders(selfPairs map[string]*cell.SignedData, incoming []*Belief, res cell.Resolver, stakeOf map[string]int64) (map[string]candidate, []Equivocation, error) {
	held := make(map[string]candidate, len(selfPairs))
	for peerKey, signed := range selfPairs {
		c, ok, err := buildCandidate(peerKey, signed, res, stakeOf)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			held[peerKey] = c
		}
	}

	all := make(map[string][]candidate, len(held))
	for k, c := range held {
		all[k] = append(all[k], c)
	}

	var equivocations []Equivocation
	for _, b := range incoming {
		pairs, err := b.Pairs(res)
		if err != nil {
			return nil, nil, err
		}
		for peerKey, signed := range pairs {
			c, ok, err := buildCandidate(peerKey, signed, res, stakeOf)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			if h, wasHeld := held[peerKey]; wasHeld && h.signed.Hash() != c.signed.Hash() {
				n := h.order.Finality
				if c.order.Finality < n {
					n = c.order.Finality
				}
				if conflictsBelow(h.hashes, c.hashes, n) {
					equivocations = append(equivocations, Equivocation{
						PeerKey: peerKey, FirstOrder: h.signed, SecondOrder: c.signed,
						Reason: "conflicting Orders below claimed finality",
					})
					continue
				}
			}
			all[peerKey] = append(all[peerKey], c)
		}
	}

	winners := make(map[string]candidate, len(all))
	for peerKey, cs := range all {
		best := cs[0]
		for _, c := range cs[1:] {
			if mostRecentOrder(c, best) {
				best = c
			}
		}
		winners[peerKey] = best
	}
	return winners, equivocations, nil
}

// agreementPrefix implements spec.md §4.4 step 2's trie-style descent:
// starting from the full candidate set, repeatedly split by the next block
// hash and keep descending into the heaviest-stake subgroup as long as it
// still clears quorumNum/quorumDen of total stake. Returns the deepest
// agreed length, the agreed hash prefix, and the peer keys that hold it —
// the same grouping step 3 uses to pick the winning suffix.
func agreementPrefix(cs []candidate, total int64) (int64, []cell.Hash, map[string]bool) {
	group := make([]candidate, len(cs))
	copy(group, cs)
	var prefix []cell.Hash
	for {
		byHash := map[cell.Hash][]candidate{}
		for _, c := range group {
			depth := int64(len(prefix))
			if int64(len(c.hashes)) <= depth {
				continue
			}
			h := c.hashes[depth]
			byHash[h] = append(byHash[h], c)
		}
		if len(byHash) == 0 {
			break
		}
		var bestHash cell.Hash
		var bestGroup []candidate
		var bestStake int64
		first := true
		for h, members := range byHash {
			var stake int64
			for _, m := range members {
				stake += m.stake
			}
			if first || stake > bestStake || (stake == bestStake && h.Less(bestHash)) {
				bestHash, bestGroup, bestStake, first = h, members, stake, false
			}
		}
		if !meets(bestStake, total) {
			break
		}
		prefix = append(prefix, bestHash)
		group = bestGroup
	}
	members := make(map[string]bool, len(group))
	for _, c := range group {
		members[c.peerKey] = true
	}
	return int64(len(prefix)), prefix, members
}

// RecoverFork implements spec.md §4.4 step 4's optional recovery path,
// experimental and off by default (SPEC_FULL.md §9(b)): a foreign finalized
// prefix that conflicts with the peer's own only replaces it if its
// effective stake strictly exceeds the local branch's.
func RecoverFork(localStake, incomingStake int64) bool {
	return incomingStake > localStake
}

// Merge advances self by combining it with incoming Beliefs, implementing
// spec.md §4.4 in full. ownBlocks are SignedData(Block) refs the local
// transaction handler has assembled this round and wants appended to the
// peer's own Order, subject to the non-equivocation invariant. now is the
// wall-clock timestamp for the new self Order.
//
// Returns the next Belief, the set of cells new to this round (for the
// novelty/broadcast sink), any rejected equivocations (for evidence
// logging), and whether the change was limited to the peer's own Order
// (the "quick broadcast" case, spec.md §4.4).
func Merge(self *Belief, incoming []*Belief, selfKeyHex string, kp *sig.KeyPair, st *state.State, res cell.Resolver, ownBlocks []cell.Ref, now int64, cfg Config, log *zap.SugaredLogger) (next *Belief, novelty []cell.Cell, equivocations []Equivocation, onlySelfChanged bool, err error) {
	peers, err := st.EachPeer(res, cfg.MinEffectiveStake)
	if err != nil {
		return nil, nil, nil, false, err
	}
	stakeOf := make(map[string]int64, len(peers))
	var total int64
	for _, p := range peers {
		stakeOf[p.PeerKey] = p.Status.EffectiveStake()
		total += p.Status.EffectiveStake()
	}

	selfPairs, err := self.Pairs(res)
	if err != nil {
		return nil, nil, nil, false, err
	}
	winners, equivocations, err := unionOrders(selfPairs, incoming, res, stakeOf)
	if err != nil {
		return nil, nil, nil, false, err
	}

	var selfHeld candidate
	hadSelf := false
	if c, ok := winners[selfKeyHex]; ok {
		selfHeld = c
		hadSelf = true
	}

	// Step 2/3: stake-weighted agreement over the raw block vectors,
	// the "proposed" candidate for this round.
	all := make([]candidate, 0, len(winners))
	for _, c := range winners {
		all = append(all, c)
	}
	proposedLen, proposedPrefix, proposedMembers := agreementPrefix(all, total)

	var oldFinality, oldConsensus, oldProposal int64
	if hadSelf {
		oldFinality, oldConsensus, oldProposal = selfHeld.order.Finality, selfHeld.order.Consensus, selfHeld.order.Proposal
	}

	// Promote one level at a time: this round's agreed length becomes (or
	// extends) Proposal; Proposal only becomes Consensus, and Consensus
	// only becomes Finality, once re-confirmed by a subsequent round — see
	// DESIGN.md for why this rolling-confirmation reading was chosen to
	// resolve spec.md §4.4 step 2/3's "two rounds ahead" wording.
	newProposal := maxI64(oldProposal, proposedLen)
	newConsensus := oldConsensus
	if proposedLen >= oldProposal && oldProposal > newConsensus {
		newConsensus = oldProposal
	}
	newFinality := oldFinality
	if proposedLen >= oldConsensus && oldConsensus > newFinality {
		newFinality = oldConsensus
	}
	if newConsensus > newProposal {
		newConsensus = newProposal
	}
	if newFinality > newConsensus {
		newFinality = newConsensus
	}

	// Step 3: build the winning block vector by walking the agreed prefix
	// depth by depth against proposedPrefix — the actual quorum-backed
	// hash at each depth — rather than trusting self's own held Order
	// wholesale. Self's ref is only reused where it already matches the
	// agreed hash; any other depth adopts the ref from a peer in the
	// winning group instead.
	var selfRefs []cell.Ref
	if hadSelf {
		var err error
		selfRefs, err = selfHeld.order.BlockRefs(res)
		if err != nil {
			return nil, nil, nil, false, err
		}
	}
	winningBlocks := make([]cell.Ref, 0, len(proposedPrefix)+len(ownBlocks))
	held := false
	for i := int64(0); i < proposedLen; i++ {
		if i < int64(len(selfRefs)) && selfRefs[i].Hash() == proposedPrefix[i] {
			winningBlocks = append(winningBlocks, selfRefs[i])
			continue
		}
		// Self's own block at this depth disagrees with the agreed hash. A
		// disagreement within self's own already-final prefix is the fork
		// spec.md §4.4 step 4 describes: only cross it when fork recovery
		// is enabled and the incoming branch's stake strictly exceeds
		// self's own; otherwise self holds position for this whole round.
		if i < int64(len(selfRefs)) && i < oldFinality {
			recovered := false
			var incomingStake int64
			if cfg.EnableForkRecovery {
				for _, c := range all {
					if proposedMembers[c.peerKey] {
						incomingStake += c.stake
					}
				}
				recovered = RecoverFork(stakeOf[selfKeyHex], incomingStake)
			}
			if !recovered {
				if log != nil {
					log.Warnw("fork detected below finality, holding position",
						"peer", selfKeyHex, "depth", i, "recovery_enabled", cfg.EnableForkRecovery,
						"local_stake", stakeOf[selfKeyHex], "incoming_stake", incomingStake)
				}
				held = true
				break
			}
			if log != nil {
				log.Warnw("fork recovery accepted incoming branch", "peer", selfKeyHex, "depth", i,
					"local_stake", stakeOf[selfKeyHex], "incoming_stake", incomingStake)
			}
		}
		filled := false
		for _, c := range all {
			if !proposedMembers[c.peerKey] {
				continue
			}
			if int64(len(c.hashes)) > i && c.hashes[i] == proposedPrefix[i] {
				refs, err := c.order.BlockRefs(res)
				if err != nil {
					return nil, nil, nil, false, err
				}
				winningBlocks = append(winningBlocks, refs[i])
				filled = true
				break
			}
		}
		if !filled {
			break
		}
	}
	if held {
		// Holding position: this round's disagreement lies below self's own
		// finality, so self keeps its own chain and pointers exactly as
		// they were rather than adopt an unrecovered fork.
		winningBlocks = append([]cell.Ref(nil), selfRefs...)
		newProposal, newConsensus, newFinality = oldProposal, oldConsensus, oldFinality
	} else if actual := int64(len(winningBlocks)); actual < newProposal {
		// Agreement fell short of the agreed prefix for some other reason
		// (a winning-group member's blocks could not be resolved): the
		// pointers must not claim agreement the block vector does not
		// actually contain (Order.Valid's 0 <= Finality <= Consensus <=
		// Proposal <= len(Blocks)).
		newProposal = actual
		if newConsensus > newProposal {
			newConsensus = newProposal
		}
		if newFinality > newConsensus {
			newFinality = newConsensus
		}
	}
	winningBlocks = append(winningBlocks, ownBlocks...)

	selfOrder := NewOrder(winningBlocks, newProposal, newConsensus, newFinality, now)
	hash := selfOrder.Hash()
	sigBytes := kp.Sign([32]byte(hash))
	selfSigned := cell.NewSignedData(kp.PublicKey(), sigBytes, cell.NewRef(selfOrder))

	ordersKeys := make([]cell.Ref, 0, len(winners)+1)
	ordersVals := make([]cell.Ref, 0, len(winners)+1)
	onlySelfChanged = true
	changedPeers := make(map[string]candidate)
	for peerKey, c := range winners {
		if peerKey == selfKeyHex {
			continue
		}
		if prev, ok := selfPairs[peerKey]; !ok || prev.Hash() != c.signed.Hash() {
			onlySelfChanged = false
			changedPeers[peerKey] = c
		}
		ordersKeys = append(ordersKeys, PeerKeyRef(peerKey))
		ordersVals = append(ordersVals, cell.NewRef(c.signed))
	}
	ordersKeys = append(ordersKeys, PeerKeyRef(selfKeyHex))
	ordersVals = append(ordersVals, cell.NewRef(selfSigned))

	ordersMap, err := cell.NewMap(ordersKeys, ordersVals)
	if err != nil {
		return nil, nil, nil, false, err
	}
	nextBelief := NewBelief(cell.NewRef(ordersMap))

	novelty = []cell.Cell{selfOrder, selfSigned}
	if !onlySelfChanged {
		novelty = append(novelty, ordersMap)
		for _, c := range changedPeers {
			novelty = append(novelty, c.order, c.signed)
		}
	}

	if log != nil {
		for _, e := range equivocations {
			log.Warnw("rejected conflicting order", "peer", e.PeerKey, "reason", e.Reason,
				"first_hash", e.FirstOrder.Hash().String(), "second_hash", e.SecondOrder.Hash().String())
		}
	}

	return nextBelief, novelty, equivocations, onlySelfChanged, nil
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
