// Package sig manages Ed25519 key pairs and produces/checks the signatures
// that SignedData cells carry (spec.md "Signatures": sign(keypair, hash) ->
// sig, verify(pubkey, hash, sig) -> bool).
package sig

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/ed25519"
)

// KeyPair holds an Ed25519 signing identity.
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sig: generate key: %w", err)
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// FromSeedHex rebuilds a key pair from a hex-encoded 32-byte Ed25519 seed,
// the format written by KeyPair.SeedHex and used for keypair files on disk.
func FromSeedHex(seedHex string) (*KeyPair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("sig: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("sig: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{public: pub, private: priv}, nil
}

// LoadKeyPairFile reads a keypair file written by WriteKeyPairFile: a single
// line containing the hex-encoded seed.
func LoadKeyPairFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sig: read keypair file: %w", err)
	}
	return FromSeedHex(trimNewline(string(data)))
}

// WriteKeyPairFile writes the key pair's seed, hex-encoded, to path with
// owner-only permissions.
func (k *KeyPair) WriteKeyPairFile(path string) error {
	if err := os.WriteFile(path, []byte(k.SeedHex()+"\n"), 0600); err != nil {
		return fmt.Errorf("sig: write keypair file: %w", err)
	}
	return nil
}

// SeedHex returns the hex-encoded 32-byte seed that deterministically
// regenerates this key pair.
func (k *KeyPair) SeedHex() string {
	return hex.EncodeToString(k.private.Seed())
}

// PublicKey returns the 32-byte Ed25519 public key.
func (k *KeyPair) PublicKey() [ed25519.PublicKeySize]byte {
	var out [ed25519.PublicKeySize]byte
	copy(out[:], k.public)
	return out
}

// PublicKeyHex returns the public key, hex-encoded, for display and config.
func (k *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.public)
}

// Sign produces an Ed25519 signature over a 32-byte cell hash.
func (k *KeyPair) Sign(hash [32]byte) [ed25519.SignatureSize]byte {
	sig := ed25519.Sign(k.private, hash[:])
	var out [ed25519.SignatureSize]byte
	copy(out[:], sig)
	return out
}

// Verify checks an Ed25519 signature over a 32-byte cell hash against pub.
func Verify(pub [ed25519.PublicKeySize]byte, hash [32]byte, signature [ed25519.SignatureSize]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), hash[:], signature[:])
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
