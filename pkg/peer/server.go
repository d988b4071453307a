// Package peer assembles the five cooperating workers of spec.md §4.6 into
// a long-running process: the connection manager (pkg/peer/transport.go),
// transaction handler (txhandler.go), belief propagator (propagator.go),
// CVM executor (executor.go), and query processor (query.go), wired from
// launch_peer the way cmd/node/main.go wires Engine+Libp2pNet+AccountManager
// in the teacher repo.
package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cposnet/peer/params"
	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/consensus"
	"github.com/cposnet/peer/pkg/sig"
	"github.com/cposnet/peer/pkg/state"
	"github.com/cposnet/peer/pkg/store"
	"github.com/cposnet/peer/pkg/vm"
	"github.com/cposnet/peer/pkg/wire"
)

// Inbox capacities. Backpressure on the belief inbox drops the oldest
// undigested belief on overflow (spec.md §5: "the next one supersedes it
// anyway"); the transaction inbox instead drops a transaction that
// arrives while it is full, with a warning. There is no per-client rate
// limit on transactions.
const (
	beliefInboxCapacity = 64
	txInboxCapacity     = 4096
	broadcastRate       = 20 // messages/sec
	broadcastBurst      = 5
)

type incomingBelief struct {
	peerKeyHex string
	belief     *consensus.Belief
}

// Server is a running peer: the five workers of spec.md §4.6 plus the
// atomically-replaced Belief/State snapshots spec.md §5's shared-resource
// policy requires.
type Server struct {
	cfg    params.Config
	log    *zap.SugaredLogger
	store  *store.Store
	kp     *sig.KeyPair
	keyHex string
	vm     vm.VM
	exec   *vm.Executor

	mergeCfg consensus.Config

	transport *transport
	metrics   *Metrics

	belief atomic.Pointer[consensus.Belief]
	state  atomic.Pointer[state.State]

	// lastExecuted is the Consensus-pointer index the CVM executor has
	// already applied to state (spec.md §4.5: "a block at index i... is
	// executed exactly once").
	lastExecuted int64

	txInbox      chan *cell.SignedData
	beliefInbox  chan incomingBelief
	broadcastReq chan broadcastRequest
	executeReq   chan struct{}
	queryInbox   chan queryRequest

	connTracker       *loadTracker
	txHandlerTracker  *loadTracker
	propagatorTracker *loadTracker
	executorTracker   *loadTracker
	queryTracker      *loadTracker

	limiter *rate.Limiter

	stop   chan struct{}
	wg     sync.WaitGroup
	stopMu sync.Mutex
	done   bool
}

// Launch starts a peer process per spec.md §6's launch_peer(config) ->
// Server contract: opens the store, restores (or builds) Belief/State from
// the root checkpoint, starts the libp2p transport, and spawns the five
// workers.
func Launch(ctx context.Context, cfg params.Config, kp *sig.KeyPair, machine vm.VM, log *zap.SugaredLogger) (*Server, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("peer: open store: %w", err)
	}

	belief, ledger, err := restoreOrGenesis(st, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	srv := &Server{
		cfg:    cfg,
		log:    log,
		store:  st,
		kp:     kp,
		keyHex: kp.PublicKeyHex(),
		vm:     machine,
		exec: vm.New(machine, vm.Config{
			JuiceLimit:           cfg.JuiceLimit,
			MaxScheduledPerBlock: cfg.MaxScheduledPerBlock,
		}),
		mergeCfg: consensus.Config{
			MinEffectiveStake:  cfg.MinEffectiveStake,
			EnableForkRecovery: cfg.EnableForkRecovery,
		},
		metrics:      NewMetrics(nil),
		txInbox:      make(chan *cell.SignedData, txInboxCapacity),
		beliefInbox:  make(chan incomingBelief, beliefInboxCapacity),
		broadcastReq: make(chan broadcastRequest, 8),
		executeReq:   make(chan struct{}, 1),
		queryInbox:   make(chan queryRequest, 256),
		limiter:      rate.NewLimiter(rate.Limit(broadcastRate), broadcastBurst),
		stop:         make(chan struct{}),
	}
	srv.belief.Store(belief)
	srv.state.Store(ledger)
	srv.connTracker = newLoadTracker(srv.metrics.ConnLoad)
	srv.txHandlerTracker = newLoadTracker(srv.metrics.TxHandlerLoad)
	srv.propagatorTracker = newLoadTracker(srv.metrics.PropagatorLoad)
	srv.executorTracker = newLoadTracker(srv.metrics.ExecutorLoad)
	srv.queryTracker = newLoadTracker(srv.metrics.QueryLoad)

	t, err := newTransport(ctx, cfg.ListenAddr, cfg.PeerPeers, srv, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	srv.transport = t

	srv.wg.Add(5)
	go srv.runTxHandler(ctx)
	go srv.runPropagator(ctx)
	go srv.runExecutor(ctx)
	go srv.runQueryProcessor(ctx)
	go srv.runMetricsTicker()

	log.Infow("peer_launched", "key", srv.keyHex, "store", cfg.StorePath)
	return srv, nil
}

func restoreOrGenesis(st *store.Store, cfg params.Config) (*consensus.Belief, *state.State, error) {
	if h, ok := st.RootHash(); ok {
		ref, found := st.Get(h)
		if found {
			c, err := ref.Resolve(st)
			if err != nil {
				return nil, nil, fmt.Errorf("peer: resolve checkpoint root: %w", err)
			}
			cp, ok := c.(*Checkpoint)
			if !ok {
				return nil, nil, fmt.Errorf("peer: store root is not a checkpoint cell")
			}
			beliefC, err := cp.Belief.Resolve(st)
			if err != nil {
				return nil, nil, fmt.Errorf("peer: resolve checkpoint belief: %w", err)
			}
			stateC, err := cp.State.Resolve(st)
			if err != nil {
				return nil, nil, fmt.Errorf("peer: resolve checkpoint state: %w", err)
			}
			belief, ok := beliefC.(*consensus.Belief)
			if !ok {
				return nil, nil, fmt.Errorf("peer: checkpoint belief is not a Belief cell")
			}
			ledger, ok := stateC.(*state.State)
			if !ok {
				return nil, nil, fmt.Errorf("peer: checkpoint state is not a State cell")
			}
			return belief, ledger, nil
		}
	}
	emptyOrders, err := cell.NewMap(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	genesis, err := state.Genesis(time.Now().Unix(), 1, 1)
	if err != nil {
		return nil, nil, err
	}
	return consensus.NewBelief(cell.NewRef(emptyOrders)), genesis, nil
}

func (s *Server) currentBelief() *consensus.Belief { return s.belief.Load() }
func (s *Server) currentState() *state.State       { return s.state.Load() }

// persistCheckpoint writes the current Belief+State pair as the store's
// root pointer (spec.md §6: "the root pointer file... holds... the peer's
// last committed Belief").
func (s *Server) persistCheckpoint() error {
	belief := s.currentBelief()
	ledger := s.currentState()
	if err := s.store.PutTop(cell.NewRef(belief), cell.StatusPersisted, nil); err != nil {
		return err
	}
	if err := s.store.PutTop(cell.NewRef(ledger), cell.StatusPersisted, nil); err != nil {
		return err
	}
	cp := NewCheckpoint(cell.NewRef(belief), cell.NewRef(ledger))
	_, err := s.store.SetRoot(cp)
	return err
}

// handleInboundPayload decodes a multi-cell message from the transport
// (connection manager, spec.md §4.6 worker 1) and routes it by kind to the
// worker inbox that owns it.
func (s *Server) handleInboundPayload(payload []byte) {
	s.connTracker.Track(func() {
		top, res, err := wire.DecodeMultiCell(payload, s.store)
		if err != nil {
			s.log.Warnw("inbound_decode_failed", "err", err)
			return
		}
		kind, err := wire.Classify(top, res)
		if err != nil {
			s.log.Warnw("inbound_classify_failed", "err", err)
			return
		}
		switch kind {
		case wire.KindBelief:
			b := top.(*consensus.Belief)
			s.enqueueBelief(incomingBelief{belief: b})
		case wire.KindSignedOrder:
			signed := top.(*cell.SignedData)
			m, err := cell.NewMap([]cell.Ref{consensus.PeerKeyRef(hexFromPubKey(signed.PubKey))}, []cell.Ref{cell.NewRef(signed)})
			if err != nil {
				s.log.Warnw("quick_order_wrap_failed", "err", err)
				return
			}
			s.enqueueBelief(incomingBelief{belief: consensus.NewBelief(cell.NewRef(m))})
		case wire.KindTransaction:
			signed := top.(*cell.SignedData)
			select {
			case s.txInbox <- signed:
			default:
				s.log.Warnw("tx_inbox_full_dropping_transaction")
			}
		case wire.KindResult:
			s.log.Debugw("result_received", "result", top.(*state.Result).ErrorCode)
		default:
			s.log.Debugw("inbound_message_ignored", "kind", kind.String())
		}
	})
}

func (s *Server) enqueueBelief(ib incomingBelief) {
	select {
	case s.beliefInbox <- ib:
	default:
		// Backpressure policy (spec.md §5): drop the oldest undigested
		// belief, the incoming one supersedes it anyway.
		select {
		case <-s.beliefInbox:
		default:
		}
		select {
		case s.beliefInbox <- ib:
		default:
		}
	}
}

func hexFromPubKey(pub [32]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range pub {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0x0f]
	}
	return string(out)
}

func (s *Server) runMetricsTicker() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.connTracker.tick()
			s.txHandlerTracker.tick()
			s.propagatorTracker.tick()
			s.executorTracker.tick()
			s.queryTracker.tick()
		}
	}
}

// Status returns the current per-worker load vector for a Status poll
// (spec.md §4.6, §6).
func (s *Server) Status(now int64) *wire.StatusVector {
	return wire.NewStatusVector(
		s.connTracker.statusPermille(),
		s.txHandlerTracker.statusPermille(),
		s.propagatorTracker.statusPermille(),
		s.executorTracker.statusPermille(),
		s.queryTracker.statusPermille(),
		now,
	)
}

// Shutdown stops every worker cooperatively (spec.md §5: "each worker
// observes a stop flag between queue drains, completes in-flight work,
// persists Belief and State to the store's root, and exits").
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopMu.Lock()
	if s.done {
		s.stopMu.Unlock()
		return nil
	}
	s.done = true
	s.stopMu.Unlock()

	close(s.stop)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warnw("shutdown_timed_out_waiting_for_workers")
	}

	if err := s.persistCheckpoint(); err != nil {
		s.log.Errorw("checkpoint_persist_failed", "err", err)
	}
	if err := s.transport.Close(); err != nil {
		s.log.Warnw("transport_close_failed", "err", err)
	}
	return s.store.Close()
}
