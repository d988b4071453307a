package cell

import (
	"bytes"
	stded25519 "crypto/ed25519"
)

func init() {
	RegisterFamily(byte(TagSigned)>>4, decodeSignedFamily)
}

const (
	ed25519PubKeyLen = 32
	ed25519SigLen    = 64
)

// SignedData wraps a public key, an Ed25519 signature, and a ref to the
// signed payload (spec.md §4.3). Its hash covers the full encoding,
// signature included, so two signatures over the same payload by the same
// key are distinct cells only if the signature bytes differ (they never do
// for deterministic Ed25519, making SignedData content-addressed just like
// everything else).
type SignedData struct {
	PubKey    [ed25519PubKeyLen]byte
	Signature [ed25519SigLen]byte
	Payload   Ref

	hash     *Hash
	verified *bool
}

func NewSignedData(pub [ed25519PubKeyLen]byte, sig [ed25519SigLen]byte, payload Ref) *SignedData {
	return &SignedData{PubKey: pub, Signature: sig, Payload: payload}
}

func (s *SignedData) Tag() Tag    { return TagSigned }
func (s *SignedData) Refs() []Ref { return []Ref{s.Payload} }

func (s *SignedData) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(TagSigned))
	buf.Write(s.PubKey[:])
	buf.Write(s.Signature[:])
	return s.Payload.Encode(buf)
}

func (s *SignedData) Hash() Hash {
	if s.hash == nil {
		h := computeHash(s)
		s.hash = &h
	}
	return *s.hash
}

// Verify checks the Ed25519 signature over the payload cell's hash,
// caching a successful result on the cell so repeated verification (e.g.
// across merge rounds that keep re-encountering the same signed Order) is
// cheap (spec.md §4.3: "lazily caches success on the cell").
//
// The raw signature check uses the standard library's crypto/ed25519
// (interoperable with circl/sign/ed25519's RFC 8032 output, which
// pkg/sig uses to produce signatures) rather than importing pkg/sig here,
// which would create an import cycle back into this package.
func (s *SignedData) Verify(res Resolver) (bool, error) {
	if s.verified != nil && *s.verified {
		return true, nil
	}
	payload, err := s.Payload.Resolve(res)
	if err != nil {
		return false, err
	}
	h := payload.Hash()
	ok := stded25519.Verify(s.PubKey[:], h[:], s.Signature[:])
	s.verified = &ok
	return ok, nil
}

func decodeSignedFamily(data []byte, offset int, res Resolver) (Cell, int, error) {
	if Tag(data[offset]) != TagSigned {
		return nil, 0, badFormat(data[offset], offset, "unknown signed-family tag")
	}
	offset++
	if offset+ed25519PubKeyLen+ed25519SigLen > len(data) {
		return nil, 0, badFormat(byte(TagSigned), offset, "signed-data: truncated header")
	}
	var s SignedData
	copy(s.PubKey[:], data[offset:offset+ed25519PubKeyLen])
	offset += ed25519PubKeyLen
	copy(s.Signature[:], data[offset:offset+ed25519SigLen])
	offset += ed25519SigLen
	r, next, err := DecodeRef(data, offset, res, true)
	if err != nil {
		return nil, 0, err
	}
	s.Payload = r
	return &s, next, nil
}
