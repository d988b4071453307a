package store

import (
	"testing"

	"github.com/cposnet/peer/pkg/cell"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bigBlob(t *testing.T, n int) *cell.Blob {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	b, err := cell.NewBlob(data)
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	b := bigBlob(t, 500) // forces a non-embedded ref
	r := cell.NewRef(b)
	if r.Embedded() {
		t.Fatalf("500-byte blob should not embed")
	}

	var novelCount int
	if err := s.Put(r, cell.StatusStored, func(cell.Ref) { novelCount++ }); err != nil {
		t.Fatalf("put: %v", err)
	}
	if novelCount != 1 {
		t.Fatalf("expected 1 novelty callback, got %d", novelCount)
	}

	got, ok := s.Get(b.Hash())
	if !ok {
		t.Fatalf("expected to find stored blob")
	}
	v, err := got.Resolve(s)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	gb, ok := v.(*cell.Blob)
	if !ok || string(gb.Data) != string(b.Data) {
		t.Fatalf("resolved blob mismatch")
	}
}

func TestPutIsIdempotentAndNoveltyOnlyFiresOnce(t *testing.T) {
	s := openTestStore(t)
	b := bigBlob(t, 300)
	r := cell.NewRef(b)

	var count int
	sink := func(cell.Ref) { count++ }
	if err := s.Put(r, cell.StatusStored, sink); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := s.Put(r, cell.StatusStored, sink); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected novelty to fire once across duplicate puts, got %d", count)
	}

	// Raising the status re-fires novelty (a fresh observation at a higher
	// durability level), but a second put at that same higher status does not.
	if err := s.Put(r, cell.StatusPersisted, sink); err != nil {
		t.Fatalf("put 3: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected novelty to fire again on status advance, got %d", count)
	}
	if err := s.Put(r, cell.StatusPersisted, sink); err != nil {
		t.Fatalf("put 4: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected no further novelty at unchanged status, got %d", count)
	}
}

func TestPutRecursesIntoNonEmbeddedChildren(t *testing.T) {
	s := openTestStore(t)
	child := bigBlob(t, 400)
	elems := []cell.Ref{cell.NewRef(child), cell.NewRef(cell.NewLong(1))}
	vec := cell.NewVector(elems)
	r := cell.NewRef(vec)

	var novel []cell.Hash
	if err := s.Put(r, cell.StatusStored, func(rr cell.Ref) { novel = append(novel, rr.Hash()) }); err != nil {
		t.Fatalf("put: %v", err)
	}

	found := false
	for _, h := range novel {
		if h == child.Hash() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected non-embedded child to be stored and reported as novel")
	}

	if _, ok := s.Get(child.Hash()); !ok {
		t.Fatalf("expected child blob to be independently retrievable")
	}
}

func TestPutTopPersistsEvenWhenEmbedded(t *testing.T) {
	s := openTestStore(t)
	small := cell.NewLong(7)
	r := cell.NewRef(small)
	if !r.Embedded() {
		t.Fatalf("small long should embed")
	}
	if err := s.PutTop(r, cell.StatusPersisted, nil); err != nil {
		t.Fatalf("put_top: %v", err)
	}
	if _, ok := s.Get(small.Hash()); !ok {
		t.Fatalf("expected put_top to make embedded cell independently retrievable")
	}
}

func TestSetRootAndRootHash(t *testing.T) {
	s := openTestStore(t)
	if _, ok := s.RootHash(); ok {
		t.Fatalf("expected no root before SetRoot")
	}

	b := bigBlob(t, 600)
	if _, err := s.SetRoot(b); err != nil {
		t.Fatalf("set root: %v", err)
	}

	h, ok := s.RootHash()
	if !ok {
		t.Fatalf("expected a root hash after SetRoot")
	}
	if h != b.Hash() {
		t.Fatalf("root hash mismatch")
	}
}

func TestGetMissingHashReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	var h cell.Hash
	if _, ok := s.Get(h); ok {
		t.Fatalf("expected miss for unknown hash")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	b := bigBlob(t, 700)
	if err := s1.Put(cell.NewRef(b), cell.StatusPersisted, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s1.SetRoot(b); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	h, ok := s2.RootHash()
	if !ok || h != b.Hash() {
		t.Fatalf("root pointer did not survive reopen")
	}
	got, ok := s2.Get(b.Hash())
	if !ok {
		t.Fatalf("expected blob to survive reopen")
	}
	v, err := got.Resolve(s2)
	if err != nil {
		t.Fatalf("resolve after reopen: %v", err)
	}
	if gb, ok := v.(*cell.Blob); !ok || string(gb.Data) != string(b.Data) {
		t.Fatalf("blob contents mismatch after reopen")
	}
}

func TestEvidenceLogRecordsEquivocation(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenEvidenceLog(dir + "/evidence.log")
	if err != nil {
		t.Fatalf("open evidence log: %v", err)
	}
	defer log.Close()

	entry := EvidenceEntry{
		PeerKey:    "abcd",
		FirstHash:  "1111",
		SecondHash: "2222",
		Reason:     "disagreeing orders below finality",
	}
	if err := log.Record(entry); err != nil {
		t.Fatalf("record: %v", err)
	}
}
