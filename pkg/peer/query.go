package peer

import (
	"context"
	"time"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/state"
	"github.com/cposnet/peer/pkg/wire"
)

const queryTimeout = 2 * time.Second

type queryRequest struct {
	payload []byte
	respCh  chan []byte
}

// runQueryProcessor is worker 5 (spec.md §4.6): it answers Query and Status
// requests against the latest committed State snapshot without touching
// consensus state, so a flood of reads never competes with merge or
// execution for the belief/state locks (there are none to compete for —
// both are plain atomic loads).
func (s *Server) runQueryProcessor(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case req := <-s.queryInbox:
			s.queryTracker.Track(func() {
				req.respCh <- s.answer(ctx, req.payload)
			})
		}
	}
}

// handleQueryPayload is called by the connection manager on every stream
// that arrives on the query protocol (spec.md §6). A Status poll is
// answered inline since it needs nothing but the already-atomic load
// trackers; every other payload (a Query) is routed to this worker's inbox.
func (s *Server) handleQueryPayload(payload []byte) []byte {
	if top, res, err := wire.DecodeMultiCell(payload, s.store); err == nil {
		if kind, err := wire.Classify(top, res); err == nil && kind == wire.KindStatus {
			return s.answerStatus()
		}
	}
	req := queryRequest{payload: payload, respCh: make(chan []byte, 1)}
	select {
	case s.queryInbox <- req:
	default:
		return nil
	}
	select {
	case resp := <-req.respCh:
		return resp
	case <-time.After(queryTimeout):
		return nil
	}
}

func (s *Server) answer(ctx context.Context, payload []byte) []byte {
	top, res, err := wire.DecodeMultiCell(payload, s.store)
	if err != nil {
		s.log.Warnw("query_decode_failed", "err", err)
		return nil
	}
	kind, err := wire.Classify(top, res)
	if err != nil {
		s.log.Warnw("query_classify_failed", "err", err)
		return nil
	}
	switch kind {
	case wire.KindQuery:
		return s.answerQuery(ctx, top.(*wire.Query), res)
	case wire.KindStatus:
		return s.answerStatus()
	default:
		s.log.Debugw("query_stream_unexpected_kind", "kind", kind.String())
		return nil
	}
}

func (s *Server) answerQuery(ctx context.Context, q *wire.Query, res cell.Resolver) []byte {
	ledger := s.currentState()
	idC, err := q.ID.Resolve(res)
	id := cell.Ref{}
	if err == nil {
		id = cell.NewRef(idC)
	}
	var result *state.Result
	if s.vm == nil {
		result = &state.Result{ID: id, ErrorCode: "no_vm", Trace: "query processor: no VM configured"}
	} else {
		out, err := s.vm.Eval(ctx, ledger, q.Address, q.Form, res)
		if err != nil {
			result = &state.Result{ID: id, ErrorCode: "eval_error", Trace: err.Error()}
		} else {
			result = &state.Result{ID: id, Value: out.Value}
		}
	}
	out, err := wire.EncodeMultiCell(result, s.store)
	if err != nil {
		s.log.Warnw("query_result_encode_failed", "err", err)
		return nil
	}
	return out
}

func (s *Server) answerStatus() []byte {
	sv := s.Status(time.Now().Unix())
	out, err := wire.EncodeMultiCell(sv, s.store)
	if err != nil {
		s.log.Warnw("status_encode_failed", "err", err)
		return nil
	}
	return out
}

// handleChallengePayload answers the identity handshake (spec.md §6): sign
// the presented nonce and return our public key and signature so the
// requester can verify us against the key we claim in State.Peers.
func (s *Server) handleChallengePayload(payload []byte) ([]byte, error) {
	top, res, err := wire.DecodeMultiCell(payload, s.store)
	if err != nil {
		return nil, err
	}
	kind, err := wire.Classify(top, res)
	if err != nil {
		return nil, err
	}
	if kind != wire.KindChallenge {
		return nil, &cell.InvalidDataError{Reason: "expected a challenge on the challenge protocol"}
	}
	challenge := top.(*wire.Challenge)
	sigBytes := s.kp.Sign(challenge.Nonce)
	resp := wire.NewResponse(challenge.Nonce, s.kp.PublicKey(), sigBytes)
	return wire.EncodeMultiCell(resp, s.store)
}
