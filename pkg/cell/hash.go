package cell

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash is a cell's identity: the BLAKE2b-256 digest of its canonical
// encoding (spec.md §3, §4.1).
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Less gives a total order over hashes, used as the final tie-break in
// belief merge (spec.md §4.4 step 1, SPEC_FULL.md §9 open question a).
func (h Hash) Less(o Hash) bool { return bytes.Compare(h[:], o[:]) < 0 }

var zeroHash Hash

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == zeroHash }

func sum(encoding []byte) Hash {
	return blake2b.Sum256(encoding)
}

// computeHash encodes c and hashes the result. Concrete cell types call
// this once and cache the result (spec.md §4.1: "Hashes are cached per
// cell once computed").
func computeHash(c Cell) Hash {
	var buf bytes.Buffer
	// Encode errors here would indicate a cell built by invalid
	// construction (e.g. an oversized child slipped past a constructor);
	// such a cell cannot have a meaningful identity.
	if err := c.Encode(&buf); err != nil {
		panic(err)
	}
	return sum(buf.Bytes())
}

// ComputeHash exposes computeHash to cell kinds defined outside this
// package (pkg/state's records and transactions, pkg/consensus's
// Block/Order/Belief), which need to cache their own Hash() the same way
// every built-in kind does.
func ComputeHash(c Cell) Hash { return computeHash(c) }
