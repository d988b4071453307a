// Package store implements the content-addressed store every cell passes
// through on its way to disk or the wire: an append-only log of canonical
// encodings, a pebble-backed hash index, a single ROOT pointer, and an
// in-memory LRU of hot decoded cells (spec.md "Content-Addressed Store").
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cposnet/peer/pkg/cell"
)

const defaultCacheSize = 4096

// NoveltySink receives a ref the instant its hash is first observed at or
// above a requested status (spec.md's novelty semantics). pkg/peer passes
// no sink: its propagator broadcasts each merge round's whole Belief (or
// quick Order) with every non-embedded descendant, not only novel cells.
type NoveltySink func(cell.Ref)

// Store is a peer's content-addressed cell store.
type Store struct {
	mu       sync.Mutex
	dataLog  *os.File
	offset   int64
	index    *pebble.DB
	rootPath string
	cache    *lru.Cache[cell.Hash, cell.Cell]
}

// Open opens (creating if necessary) the store rooted at path: path/data.log
// for the append-only encodings, path/index for the pebble hash index, and
// path/ROOT for the single persistent root pointer.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, ioError(fmt.Sprintf("mkdir %s", path), err)
	}
	f, err := os.OpenFile(filepath.Join(path, "data.log"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ioError("open data log", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat data log", err)
	}
	db, err := pebble.Open(filepath.Join(path, "index"), &pebble.Options{})
	if err != nil {
		f.Close()
		return nil, ioError("open index", err)
	}
	c, err := lru.New[cell.Hash, cell.Cell](defaultCacheSize)
	if err != nil {
		db.Close()
		f.Close()
		return nil, fmt.Errorf("store: new blob cache: %w", err)
	}
	return &Store{
		dataLog:  f,
		offset:   info.Size(),
		index:    db,
		rootPath: filepath.Join(path, "ROOT"),
		cache:    c,
	}, nil
}

// Close releases the store's file and database handles.
func (s *Store) Close() error {
	if err := s.index.Close(); err != nil {
		s.dataLog.Close()
		return ioError("close index", err)
	}
	if err := s.dataLog.Close(); err != nil {
		return ioError("close data log", err)
	}
	return nil
}

// Put persists c and, recursively, its non-embedded descendants at status,
// invoking novelty for every hash this raises to a new status it had not
// previously reached (spec.md: "put(ref, status, novelty_sink)"). An
// embedded ref is not itself written (it lives inline in its parent); its
// non-embedded children still are.
func (s *Store) Put(r cell.Ref, status cell.Status, novelty NoveltySink) error {
	return s.put(r, status, novelty, false)
}

// PutTop is like Put but persists the top cell even if it qualifies for
// embedding (spec.md: "put_top... also persists the top cell even if
// embedded"), used for the store's own root pointer and other cells a peer
// wants addressable by hash regardless of size.
func (s *Store) PutTop(r cell.Ref, status cell.Status, novelty NoveltySink) error {
	return s.put(r, status, novelty, true)
}

func (s *Store) put(r cell.Ref, status cell.Status, novelty NoveltySink, forceTop bool) error {
	c, ok := r.Value()
	if !ok {
		// Hash-only ref with nothing resident: nothing new to write.
		return nil
	}
	if r.Embedded() && !forceTop {
		return s.putChildren(c, status, novelty)
	}
	isNew, err := s.putOne(c, status)
	if err != nil {
		return err
	}
	if isNew && novelty != nil {
		novelty(r)
	}
	return s.putChildren(c, status, novelty)
}

func (s *Store) putChildren(c cell.Cell, status cell.Status, novelty NoveltySink) error {
	for _, child := range c.Refs() {
		if child.Embedded() {
			if v, ok := child.Value(); ok {
				if err := s.putChildren(v, status, novelty); err != nil {
					return err
				}
			}
			continue
		}
		if err := s.put(child, status, novelty, false); err != nil {
			return err
		}
	}
	return nil
}

// putOne writes c's encoding to the data log (if not already present) and
// commits the index entry, fsyncing the data page before the index update
// so the store survives a crash between the two writes (spec.md "Storage
// layout"). It reports whether this raised the hash's status for the first
// time (including first-ever observation).
func (s *Store) putOne(c cell.Cell, status cell.Status) (bool, error) {
	h := c.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.lookupLocked(h)
	if err != nil {
		return false, err
	}
	if found && existing.status.Rank() >= status.Rank() {
		return false, nil
	}

	enc, err := cell.Encoding(c)
	if err != nil {
		return false, fmt.Errorf("store: encode %s: %w", h, err)
	}

	entry := existing
	entry.status = status
	if !found {
		// The data log is a self-describing length-prefixed stream of
		// encodings (spec.md §6: "append-only, length-prefixed cell
		// encodings"), so it can be replayed from scratch to rebuild a lost
		// index; the index's own length field still lets Get/Resolve read
		// the payload directly without re-parsing the prefix.
		record := cell.PutUVLC(nil, uint64(len(enc)))
		record = append(record, enc...)
		payloadOffset := s.offset + int64(len(record)-len(enc))
		if _, err := s.dataLog.Write(record); err != nil {
			return false, ioError("append data log", err)
		}
		if err := s.dataLog.Sync(); err != nil {
			return false, ioError("fsync data log", err)
		}
		s.offset += int64(len(record))
		entry = indexEntry{offset: payloadOffset, length: int32(len(enc)), status: status}
	}

	if err := s.index.Set(h[:], entry.marshal(), pebble.Sync); err != nil {
		return false, ioError("commit index", err)
	}
	s.cache.Add(h, c)
	return true, nil
}

// Get returns a ref to hash resolvable against this store, or false if the
// hash has never been observed. A hit in the blob cache resolves the value
// without touching the data log (spec.md "Blob cache": "avoids re-decoding
// hot cells").
func (s *Store) Get(h cell.Hash) (cell.Ref, bool) {
	if c, ok := s.cache.Get(h); ok {
		return cell.NewRef(c), true
	}
	s.mu.Lock()
	entry, found, err := s.lookupLocked(h)
	if err != nil || !found {
		s.mu.Unlock()
		return cell.Ref{}, false
	}
	enc, err := s.readAtLocked(entry)
	s.mu.Unlock()
	if err != nil {
		return cell.Ref{}, false
	}
	c, err := s.Decode(enc)
	if err != nil {
		return cell.Ref{}, false
	}
	s.cache.Add(h, c)
	return cell.NewRef(c), true
}

// Resolve implements cell.Resolver, so the store itself can serve as the
// resolution context for lazy ref decoding and Decode below.
func (s *Store) Resolve(h cell.Hash) ([]byte, bool) {
	s.mu.Lock()
	entry, found, err := s.lookupLocked(h)
	if err != nil || !found {
		s.mu.Unlock()
		return nil, false
	}
	enc, err := s.readAtLocked(entry)
	s.mu.Unlock()
	if err != nil {
		return nil, false
	}
	return enc, true
}

// Decode parses encoding against this store as the current resolution
// context, for lazy child lookup (spec.md: "decode(encoding)").
func (s *Store) Decode(encoding []byte) (cell.Cell, error) {
	c, _, err := cell.Decode(encoding, 0, s)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RootHash returns the store's single persistent root pointer, used to
// restart a peer from its last committed Belief+State.
func (s *Store) RootHash() (cell.Hash, bool) {
	data, err := os.ReadFile(s.rootPath)
	if err != nil || len(data) != 32 {
		return cell.Hash{}, false
	}
	var h cell.Hash
	copy(h[:], data)
	return h, true
}

// SetRoot persists c (even if it would otherwise be embedded) and atomically
// repoints the ROOT file at its hash.
func (s *Store) SetRoot(c cell.Cell) (cell.Ref, error) {
	r := cell.NewRef(c)
	if err := s.PutTop(r, cell.StatusPersisted, nil); err != nil {
		return cell.Ref{}, err
	}
	h := c.Hash()
	tmp := s.rootPath + ".tmp"
	if err := os.WriteFile(tmp, h[:], 0o644); err != nil {
		return cell.Ref{}, ioError("write root tmp file", err)
	}
	if err := os.Rename(tmp, s.rootPath); err != nil {
		return cell.Ref{}, ioError("commit root pointer", err)
	}
	return r, nil
}

var _ cell.Resolver = (*Store)(nil)
