package wire

import (
	"bytes"
	"testing"

	"github.com/cposnet/peer/pkg/cell"
)

// TestMultiCellRoundTripsByRefTrailer matches spec.md §6: a ref the sender
// didn't embed travels as a trailer cell, and the receiver resolves it
// from the trailer without touching its own store.
func TestMultiCellRoundTripsByRefTrailer(t *testing.T) {
	big, err := cell.NewBlob(make([]byte, 200))
	if err != nil {
		t.Fatalf("NewBlob: %v", err)
	}
	addr := cell.NewRef(big)
	if addr.Embedded() {
		t.Fatalf("200-byte blob should not be embedded")
	}
	q := NewQuery(cell.NewRef(cell.NewLong(1)), addr, cell.NewRef(cell.Null))

	payload, err := EncodeMultiCell(q, cell.NopResolver{})
	if err != nil {
		t.Fatalf("EncodeMultiCell: %v", err)
	}

	top, res, err := DecodeMultiCell(payload, cell.NopResolver{})
	if err != nil {
		t.Fatalf("DecodeMultiCell: %v", err)
	}
	got, ok := top.(*Query)
	if !ok {
		t.Fatalf("decoded top is %T, want *Query", top)
	}
	resolved, err := got.Address.Resolve(res)
	if err != nil {
		t.Fatalf("resolve trailer address: %v", err)
	}
	blob, ok := resolved.(*cell.Blob)
	if !ok {
		t.Fatalf("resolved address is %T, want *cell.Blob", resolved)
	}
	if !bytes.Equal(blob.Data, big.Data) {
		t.Fatalf("trailer blob mismatch")
	}
}

// TestDecodeMultiCellRejectsEmbeddedTrailer matches spec.md §6: "any
// embedded value appearing among trailers is a format error."
func TestDecodeMultiCellRejectsEmbeddedTrailer(t *testing.T) {
	small := cell.NewLong(7)
	enc, err := cell.Encoding(small)
	if err != nil {
		t.Fatalf("Encoding: %v", err)
	}
	top := NewStatusVector(0, 0, 0, 0, 0, 1000)
	topEnc, err := cell.Encoding(top)
	if err != nil {
		t.Fatalf("Encoding: %v", err)
	}
	payload := append(append([]byte(nil), topEnc...), enc...)

	if _, _, err := DecodeMultiCell(payload, cell.NopResolver{}); err == nil {
		t.Fatalf("expected an error decoding an embedded trailer")
	}
}

func TestStatusVectorRoundTrip(t *testing.T) {
	sv := NewStatusVector(10, 20, 30, 40, 50, 123456)
	enc, err := cell.Encoding(sv)
	if err != nil {
		t.Fatalf("Encoding: %v", err)
	}
	c, _, err := cell.Decode(enc, 0, cell.NopResolver{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := c.(*StatusVector)
	if !ok {
		t.Fatalf("decoded %T, want *StatusVector", c)
	}
	if got.ConnLoad != 10 || got.TxHandlerLoad != 20 || got.PropagatorLoad != 30 ||
		got.ExecutorLoad != 40 || got.QueryLoad != 50 || got.Timestamp != 123456 {
		t.Fatalf("status vector round trip mismatch: %+v", got)
	}
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	var nonce [32]byte
	nonce[0] = 1
	ch := NewChallenge(nonce)
	payload, err := EncodeMultiCell(ch, cell.NopResolver{})
	if err != nil {
		t.Fatalf("EncodeMultiCell: %v", err)
	}
	top, res, err := DecodeMultiCell(payload, cell.NopResolver{})
	if err != nil {
		t.Fatalf("DecodeMultiCell: %v", err)
	}
	kind, err := Classify(top, res)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != KindChallenge {
		t.Fatalf("kind = %v, want challenge", kind)
	}
	got := top.(*Challenge)
	if got.Nonce != nonce {
		t.Fatalf("nonce mismatch")
	}

	var pub [32]byte
	pub[1] = 2
	var sig [64]byte
	sig[2] = 3
	resp := NewResponse(nonce, pub, sig)
	rpayload, err := EncodeMultiCell(resp, cell.NopResolver{})
	if err != nil {
		t.Fatalf("EncodeMultiCell: %v", err)
	}
	rtop, rres, err := DecodeMultiCell(rpayload, cell.NopResolver{})
	if err != nil {
		t.Fatalf("DecodeMultiCell: %v", err)
	}
	rkind, err := Classify(rtop, rres)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rkind != KindResponse {
		t.Fatalf("kind = %v, want response", rkind)
	}
}
