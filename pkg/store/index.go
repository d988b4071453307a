package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/cposnet/peer/pkg/cell"
)

const indexEntrySize = 8 + 4 + 1

// indexEntry is the pebble value stored under a cell's hash: its position in
// the data log plus the durability status it was last persisted at
// (spec.md "Storage layout": "hash prefixes to (file offset, length,
// status)").
type indexEntry struct {
	offset int64
	length int32
	status cell.Status
}

func (e indexEntry) marshal() []byte {
	buf := make([]byte, indexEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.length))
	buf[12] = byte(e.status)
	return buf
}

func unmarshalIndexEntry(buf []byte) (indexEntry, bool) {
	if len(buf) != indexEntrySize {
		return indexEntry{}, false
	}
	return indexEntry{
		offset: int64(binary.BigEndian.Uint64(buf[0:8])),
		length: int32(binary.BigEndian.Uint32(buf[8:12])),
		status: cell.Status(buf[12]),
	}, true
}

func (s *Store) lookupLocked(h cell.Hash) (indexEntry, bool, error) {
	val, closer, err := s.index.Get(h[:])
	if err == pebble.ErrNotFound {
		return indexEntry{}, false, nil
	}
	if err != nil {
		return indexEntry{}, false, ioError("index lookup", err)
	}
	defer closer.Close()
	e, ok := unmarshalIndexEntry(val)
	if !ok {
		return indexEntry{}, false, fmt.Errorf("store: corrupt index entry for %s", h)
	}
	return e, true, nil
}

func (s *Store) readAtLocked(e indexEntry) ([]byte, error) {
	buf := make([]byte, e.length)
	if _, err := s.dataLog.ReadAt(buf, e.offset); err != nil {
		return nil, ioError(fmt.Sprintf("read data log at offset %d", e.offset), err)
	}
	return buf, nil
}
