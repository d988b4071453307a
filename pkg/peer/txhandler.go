package peer

import (
	"context"
	"time"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/consensus"
)

// flushInterval bounds how long a transaction can sit in the pending block
// before it is merged in, even below MaxTransactionsPerBlock (spec.md §4.6:
// "assembles the next Block... on a schedule, not only when full").
const flushInterval = 250 * time.Millisecond

// runTxHandler is worker 2 (spec.md §4.6): it validates client
// transactions into a pending Block, and is also where incoming Beliefs
// get folded in via consensus.Merge, since Merge accepts both ownBlocks and
// incoming Beliefs in the same pure call.
func (s *Server) runTxHandler(ctx context.Context) {
	defer s.wg.Done()

	var pendingTxs []cell.Ref
	var pendingBeliefs []*consensus.Belief
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pendingTxs) == 0 && len(pendingBeliefs) == 0 {
			return
		}
		s.txHandlerTracker.Track(func() {
			s.mergeRound(pendingTxs, pendingBeliefs)
		})
		pendingTxs = nil
		pendingBeliefs = nil
	}

	for {
		select {
		case <-s.stop:
			flush()
			return
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case signed := <-s.txInbox:
			s.txHandlerTracker.Track(func() {
				ledger := s.currentState()
				if _, _, err := ledger.CheckTransaction(signed, s.store, s.cfg.JuiceLimit); err != nil {
					s.log.Debugw("transaction_rejected", "err", err)
					return
				}
				pendingTxs = append(pendingTxs, cell.NewRef(signed))
			})
			if len(pendingTxs) >= s.cfg.MaxTransactionsPerBlock {
				flush()
			}
		case ib := <-s.beliefInbox:
			pendingBeliefs = append(pendingBeliefs, ib.belief)
			if len(pendingBeliefs) >= 4 {
				flush()
			}
		}
	}
}

// mergeRound builds this round's ownBlocks (if any pending transactions),
// runs consensus.Merge, and distributes the outcome: novel cells go to the
// store, the belief pointer advances, a broadcast is requested, and the
// executor is nudged every round (it executes no block when the Consensus
// pointer has not moved).
func (s *Server) mergeRound(pendingTxs []cell.Ref, pendingBeliefs []*consensus.Belief) {
	now := time.Now().Unix()
	var ownBlocks []cell.Ref
	if len(pendingTxs) > 0 {
		block := consensus.NewBlock(now, pendingTxs)
		hash := block.Hash()
		sigBytes := s.kp.Sign([32]byte(hash))
		signedBlock := cell.NewSignedData(s.kp.PublicKey(), sigBytes, cell.NewRef(block))
		ownBlocks = []cell.Ref{cell.NewRef(signedBlock)}
	}

	self := s.currentBelief()
	ledger := s.currentState()
	next, novelty, equivocations, onlySelf, err := consensus.Merge(
		self, pendingBeliefs, s.keyHex, s.kp, ledger, s.store, ownBlocks, now, s.mergeCfg, s.log,
	)
	if err != nil {
		s.log.Errorw("merge_failed", "err", err)
		return
	}
	for _, eq := range equivocations {
		s.log.Warnw("equivocation_detected", "peer", eq.PeerKey, "reason", eq.Reason)
	}

	for _, c := range novelty {
		if err := s.store.Put(cell.NewRef(c), cell.StatusStored, nil); err != nil {
			s.log.Errorw("novelty_store_failed", "err", err)
		}
	}

	s.belief.Store(next)

	select {
	case s.broadcastReq <- broadcastRequest{belief: next, quick: onlySelf, selfKeyHex: s.keyHex}:
	default:
		s.log.Warnw("broadcast_queue_full_dropping_request")
	}

	select {
	case s.executeReq <- struct{}{}:
	default:
	}
}
