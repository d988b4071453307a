package cell

import "fmt"

// BadFormatError is raised by decode on any malformed encoding: a read past
// the buffer, a non-canonical VLC, an encoding over MaxEncodingLength, an
// unknown tag, or an embedded/non-embedded mismatch (spec.md §4.1, §7).
type BadFormatError struct {
	Tag    byte
	Offset int
	Reason string
}

func (e *BadFormatError) Error() string {
	return fmt.Sprintf("bad format: tag=0x%02x offset=%d: %s", e.Tag, e.Offset, e.Reason)
}

func badFormat(tag byte, offset int, reason string) error {
	return &BadFormatError{Tag: tag, Offset: offset, Reason: reason}
}

// MissingDataError is raised when a ref's hash cannot be resolved against
// the current store/resolver context (spec.md §4.2, §7).
type MissingDataError struct {
	Hash Hash
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data: %s", e.Hash)
}

// InvalidDataError is raised by post-decode validation (spec.md §7):
// structurally well-formed but semantically invalid (e.g. a sequence node
// whose child is not a sequence node, or a construction invariant
// violated).
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string { return "invalid data: " + e.Reason }
