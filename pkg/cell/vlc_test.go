package cell

import "testing"

func TestVLCRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 8191, -8192, 1 << 20, -(1 << 20),
		1<<62 - 1, -(1 << 62), 1<<63 - 1, -1 << 63}
	for _, v := range values {
		enc := putVLC(nil, v)
		got, next, err := readVLC(enc, 0)
		if err != nil {
			t.Fatalf("readVLC(%d): %v", v, err)
		}
		if next != len(enc) {
			t.Fatalf("readVLC(%d): consumed %d, want %d", v, next, len(enc))
		}
		if got != v {
			t.Fatalf("readVLC(%d): got %d", v, got)
		}
	}
}

func TestVLCCanonicityRejectsRedundantSignByte(t *testing.T) {
	// Minimal encoding of 0 is a single zero byte.
	minimal := putVLC(nil, 0)
	if len(minimal) != 1 {
		t.Fatalf("expected 1-byte minimal encoding of 0, got %d", len(minimal))
	}
	// Prepend a redundant continuation byte that is itself sign-consistent
	// with the following byte (0x80 | 0x00, then the minimal 0x00) -- this
	// decodes to the same value but is not the minimal encoding.
	redundant := append([]byte{0x80}, minimal...)
	if _, _, err := readVLC(redundant, 0); err == nil {
		t.Fatalf("expected BadFormat on redundant leading byte, got success")
	}
}

func TestVLCReadPastBufferFails(t *testing.T) {
	if _, _, err := readVLC([]byte{0x80}, 0); err == nil {
		t.Fatalf("expected error reading truncated VLC")
	}
}
