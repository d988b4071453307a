package peer

import (
	"testing"

	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/params"
	"github.com/cposnet/peer/pkg/consensus"
	"github.com/cposnet/peer/pkg/state"
	"github.com/cposnet/peer/pkg/store"
)

// TestCheckpointRoundTrip matches the restart contract server.go's
// restoreOrGenesis relies on: a Checkpoint set as a store's root resolves
// back to the same Belief and State cells after the store is reopened.
func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := cell.NewMap(nil, nil)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	belief := consensus.NewBelief(cell.NewRef(m))
	genesis, err := state.Genesis(1000, 1, 1)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}

	func() {
		st, err := store.Open(dir)
		if err != nil {
			t.Fatalf("store.Open: %v", err)
		}
		defer st.Close()

		if err := st.PutTop(cell.NewRef(belief), cell.StatusPersisted, nil); err != nil {
			t.Fatalf("PutTop belief: %v", err)
		}
		if err := st.PutTop(cell.NewRef(genesis), cell.StatusPersisted, nil); err != nil {
			t.Fatalf("PutTop state: %v", err)
		}
		cp := NewCheckpoint(cell.NewRef(belief), cell.NewRef(genesis))
		if _, err := st.SetRoot(cp); err != nil {
			t.Fatalf("SetRoot: %v", err)
		}
	}()

	st2, err := store.Open(dir)
	if err != nil {
		t.Fatalf("reopen store.Open: %v", err)
	}
	defer st2.Close()

	gotBelief, gotState, err := restoreOrGenesis(st2, params.Config{})
	if err != nil {
		t.Fatalf("restoreOrGenesis: %v", err)
	}
	if gotBelief.Hash() != belief.Hash() {
		t.Fatalf("belief hash mismatch after restore")
	}
	if gotState.Hash() != genesis.Hash() {
		t.Fatalf("state hash mismatch after restore")
	}
}

// TestRestoreOrGenesisFallsBackToGenesis matches server.go's
// restoreOrGenesis: an empty store with no root pointer yields a fresh
// empty Belief and a genesis State rather than failing.
func TestRestoreOrGenesisFallsBackToGenesis(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	belief, ledger, err := restoreOrGenesis(st, params.Config{})
	if err != nil {
		t.Fatalf("restoreOrGenesis: %v", err)
	}
	if belief == nil {
		t.Fatalf("expected a non-nil belief")
	}
	pairs, err := belief.Pairs(st)
	if err != nil {
		t.Fatalf("Pairs: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("expected an empty genesis belief, got %d orders", len(pairs))
	}
	if ledger == nil {
		t.Fatalf("expected a non-nil genesis state")
	}
}
