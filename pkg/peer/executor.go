package peer

import (
	"context"
	"sync/atomic"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/consensus"
)

// runExecutor is worker 4 (spec.md §4.6, §4.5): whenever the Consensus
// pointer of the peer's own Order advances, it applies every newly
// consensed block exactly once, in order, against the current State, and
// persists the resulting BlockResults.
func (s *Server) runExecutor(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.executeReq:
			s.executorTracker.Track(func() {
				if err := s.executeNewlyConsensed(ctx); err != nil {
					s.log.Errorw("execute_failed", "err", err)
				}
			})
		}
	}
}

func (s *Server) executeNewlyConsensed(ctx context.Context) error {
	belief := s.currentBelief()
	signed, found, err := belief.SignedOrder(s.keyHex, s.store)
	if err != nil || !found {
		return err
	}
	payload, err := signed.Payload.Resolve(s.store)
	if err != nil {
		return err
	}
	order, ok := payload.(*consensus.Order)
	if !ok {
		return &cell.InvalidDataError{Reason: "belief entry is not an order"}
	}
	blockRefs, err := order.BlockRefs(s.store)
	if err != nil {
		return err
	}

	consensusIdx := atomic.LoadInt64(&s.lastExecuted)
	orderConsensus := order.Consensus

	ledger := s.currentState()
	for consensusIdx < orderConsensus && consensusIdx < int64(len(blockRefs)) {
		blockCell, err := blockRefs[consensusIdx].Resolve(s.store)
		if err != nil {
			return err
		}
		signedBlock, ok := blockCell.(*cell.SignedData)
		if !ok {
			return &cell.InvalidDataError{Reason: "order entry is not a signed block"}
		}
		blockPayload, err := signedBlock.Payload.Resolve(s.store)
		if err != nil {
			return err
		}
		block, ok := blockPayload.(*consensus.Block)
		if !ok {
			return &cell.InvalidDataError{Reason: "signed payload is not a block"}
		}
		txRefs, err := block.TxRefs(s.store)
		if err != nil {
			return err
		}

		nextState, result, err := s.exec.ExecuteBlock(ctx, ledger, txRefs, s.store)
		if err != nil {
			return err
		}
		if err := s.store.Put(cell.NewRef(result), cell.StatusStored, nil); err != nil {
			s.log.Warnw("block_result_store_failed", "err", err)
		}
		ledger = nextState
		consensusIdx++
	}

	s.state.Store(ledger)
	atomic.StoreInt64(&s.lastExecuted, consensusIdx)
	if err := s.persistCheckpoint(); err != nil {
		s.log.Warnw("checkpoint_persist_failed", "err", err)
	}
	return nil
}
