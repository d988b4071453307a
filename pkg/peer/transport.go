package peer

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/cposnet/peer/pkg/wire"
)

// Protocol IDs for the four unicast message kinds (spec.md §6, SPEC_FULL
// §6): one libp2p stream protocol per kind, grounded on the teacher's
// single protocolVote handler in pkg/p2p/libp2pnet.go generalized to one
// handler per kind instead of one handler for the whole system.
const (
	protocolTx        = protocol.ID("/cpos/tx/1.0.0")
	protocolQuery     = protocol.ID("/cpos/query/1.0.0")
	protocolResult    = protocol.ID("/cpos/result/1.0.0")
	protocolChallenge = protocol.ID("/cpos/challenge/1.0.0")

	beliefTopic = "cpos-beliefs"
)

// transport is the connection manager (spec.md §4.6 worker 1): it owns the
// libp2p host, the belief gossip topic, and the per-kind unicast stream
// handlers, and routes decoded messages into srv's worker inboxes.
type transport struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger
	srv   *Server
}

func newTransport(ctx context.Context, listenAddr string, bootstrap []string, srv *Server, log *zap.SugaredLogger) (*transport, error) {
	var opts []libp2p.Option
	if listenAddr != "" {
		maddr, err := ma.NewMultiaddr(listenAddr)
		if err != nil {
			return nil, fmt.Errorf("peer: parse listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("peer: new libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("peer: new gossipsub: %w", err)
	}
	topic, err := ps.Join(beliefTopic)
	if err != nil {
		return nil, fmt.Errorf("peer: join belief topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("peer: subscribe belief topic: %w", err)
	}

	t := &transport{h: h, ps: ps, topic: topic, sub: sub, log: log, srv: srv}

	h.SetStreamHandler(protocolTx, t.handleTxStream)
	h.SetStreamHandler(protocolQuery, t.handleQueryStream)
	h.SetStreamHandler(protocolChallenge, t.handleChallengeStream)
	h.SetStreamHandler(protocolResult, t.handleResultStream)

	for _, addr := range bootstrap {
		if err := t.connect(ctx, addr); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", addr, "err", err)
		}
	}

	go t.readBeliefs(ctx)

	log.Infow("peer_listening", "id", h.ID().String(), "addr", listenAddr)
	return t, nil
}

func (t *transport) connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return t.h.Connect(ctx, *info)
}

func (t *transport) Close() error {
	t.sub.Cancel()
	return t.h.Close()
}

// BroadcastBelief publishes top (a *consensus.Belief or a quick
// cell.SignedData(Order)) plus its non-embedded descendants to every
// subscriber of the belief topic (spec.md §4.6 worker 3, §6).
func (t *transport) BroadcastBelief(ctx context.Context, payload []byte) error {
	return t.topic.Publish(ctx, payload)
}

func (t *transport) readBeliefs(ctx context.Context) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.h.ID() {
			continue
		}
		t.srv.handleInboundPayload(msg.Data)
	}
}

func (t *transport) handleTxStream(s network.Stream) {
	defer s.Close()
	payload, err := wire.ReadMessage(s)
	if err != nil {
		t.log.Warnw("tx_stream_read_failed", "err", err)
		return
	}
	t.srv.handleInboundPayload(payload)
}

func (t *transport) handleQueryStream(s network.Stream) {
	defer s.Close()
	payload, err := wire.ReadMessage(s)
	if err != nil {
		t.log.Warnw("query_stream_read_failed", "err", err)
		return
	}
	result := t.srv.handleQueryPayload(payload)
	if result == nil {
		return
	}
	if err := wire.WriteMessage(s, result); err != nil {
		t.log.Warnw("query_stream_write_failed", "err", err)
	}
}

func (t *transport) handleResultStream(s network.Stream) {
	defer s.Close()
	// Query results are returned inline on the query stream (transaction
	// streams get no reply); this handler exists so a peer can still push
	// a Result asynchronously (e.g. for a scheduled transaction whose
	// submitter reconnects later) without a client having to keep its
	// original stream open.
	payload, err := wire.ReadMessage(s)
	if err != nil {
		t.log.Warnw("result_stream_read_failed", "err", err)
		return
	}
	t.srv.handleInboundPayload(payload)
}

func (t *transport) handleChallengeStream(s network.Stream) {
	defer s.Close()
	payload, err := wire.ReadMessage(s)
	if err != nil {
		t.log.Warnw("challenge_stream_read_failed", "err", err)
		return
	}
	resp, err := t.srv.handleChallengePayload(payload)
	if err != nil {
		t.log.Warnw("challenge_handling_failed", "err", err)
		return
	}
	if err := wire.WriteMessage(s, resp); err != nil {
		t.log.Warnw("challenge_stream_write_failed", "err", err)
	}
}
