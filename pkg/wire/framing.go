package wire

import (
	"fmt"
	"io"

	"github.com/cposnet/peer/pkg/cell"
)

// MaxMessageLength is the hard ceiling on one framed message's payload
// (spec.md §6: "Maximum message length: 20,000,000 bytes").
const MaxMessageLength = 20_000_000

// maxLengthPrefixBytes bounds how many bytes ReadMessage will consume
// looking for the end of a VLC length prefix before giving up on a
// connection that is either lying or not speaking this protocol at all.
const maxLengthPrefixBytes = 10

// WriteMessage frames payload as VLC(length) || payload (spec.md §6) and
// writes it to w.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageLength {
		return fmt.Errorf("wire: payload of %d bytes exceeds max message length", len(payload))
	}
	prefix := cell.PutUVLC(nil, uint64(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one VLC(length) || payload frame from r. The length
// prefix is read one byte at a time until the continuation bit clears,
// since it arrives over a stream rather than a byte slice with a known
// end; ReadUVLC is then used to enforce the same canonicity the rest of
// the codec requires (spec.md §8: "VLC canonicity").
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		prefix = append(prefix, b[0])
		if b[0]&0x80 == 0 {
			break
		}
		if len(prefix) >= maxLengthPrefixBytes {
			return nil, &cell.BadFormatError{Reason: "message length prefix too long"}
		}
	}
	n, next, err := cell.ReadUVLC(prefix, 0)
	if err != nil {
		return nil, err
	}
	if next != len(prefix) {
		return nil, &cell.BadFormatError{Reason: "trailing bytes in message length prefix"}
	}
	if n > MaxMessageLength {
		return nil, &cell.BadFormatError{Reason: "message exceeds max length"}
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}
