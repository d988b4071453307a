package peer

import (
	"context"

	"github.com/cposnet/peer/pkg/consensus"
	"github.com/cposnet/peer/pkg/wire"
)

// broadcastRequest is what the transaction/merge worker hands the
// propagator once a merge round has produced a new self Belief: either the
// full Belief, or (when onlySelfChanged) just the peer's own signed Order,
// the "quick broadcast" spec.md §4.4/§4.6 allow when nothing else in the
// Belief moved.
type broadcastRequest struct {
	belief     *consensus.Belief
	quick      bool
	selfKeyHex string
}

// runPropagator is worker 3 (spec.md §4.6): on each broadcastRequest it
// serializes the chosen payload as a multi-cell wire message and publishes
// it to the belief gossip topic, rate-limited so a burst of local merges
// does not flood the network with redundant Beliefs.
func (s *Server) runPropagator(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case req := <-s.broadcastReq:
			s.propagatorTracker.Track(func() {
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				payload, err := s.buildBroadcastPayload(req)
				if err != nil {
					s.log.Warnw("broadcast_encode_failed", "err", err)
					return
				}
				if err := s.transport.BroadcastBelief(ctx, payload); err != nil {
					s.log.Warnw("broadcast_publish_failed", "err", err)
				}
			})
		}
	}
}

func (s *Server) buildBroadcastPayload(req broadcastRequest) ([]byte, error) {
	if req.quick {
		signed, found, err := req.belief.SignedOrder(req.selfKeyHex, s.store)
		if err != nil {
			return nil, err
		}
		if found {
			return wire.EncodeMultiCell(signed, s.store)
		}
	}
	return wire.EncodeMultiCell(req.belief, s.store)
}
