// Package cell implements the canonical, hash-addressed value universe that
// the rest of the system is built on: every entity on the wire, on disk, and
// in memory is a Cell with a deterministic byte encoding and a 32-byte hash
// identity.
package cell

// Tag identifies a cell's kind. The high nibble groups tags into families so
// decode can dispatch on a small table instead of a long type switch (see
// RegisterFamily). Families 0xA (records) and 0xD (transactions) are owned
// by pkg/state (pkg/consensus adds its records to 0xA through pkg/state) and registered
// at init time to avoid an import cycle back into this package.
type Tag byte

const (
	TagNull    Tag = 0x00
	TagFalse   Tag = 0x01
	TagTrue    Tag = 0x02
	TagLong    Tag = 0x10
	TagBigInt  Tag = 0x11
	TagDouble  Tag = 0x12
	TagBlob    Tag = 0x20
	TagString  Tag = 0x21
	TagChar    Tag = 0x22
	TagSymbol  Tag = 0x30
	TagKeyword Tag = 0x31
	TagAddress Tag = 0x32
	TagVector  Tag = 0x80
	TagList    Tag = 0x81
	TagMap     Tag = 0x82
	TagSet     Tag = 0x83
	TagBlobMap Tag = 0x84
	TagSigned  Tag = 0x90

	// Code-cell family: Op/Fn/MultiFn/CoreDef. The VM that interprets them
	// is out of scope (spec.md §1); these only need to round-trip.
	TagOp      Tag = 0xC0
	TagFn      Tag = 0xC1
	TagMultiFn Tag = 0xC2
	TagCoreDef Tag = 0xC3
)

// Family returns the high nibble used for decode dispatch.
func (t Tag) Family() byte { return byte(t) >> 4 }

// MaxEncodingLength is the hard cap on any single cell's encoding (spec.md
// §3): two-byte VLC length prefixes top out here.
const MaxEncodingLength = 8191

// EmbedThreshold is the inline-vs-by-reference cutoff (spec.md §4.1).
const EmbedThreshold = 140
