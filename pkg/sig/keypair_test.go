package sig

import "testing"

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(kp.SeedHex()) != 64 {
		t.Fatalf("seed hex length = %d, want 64", len(kp.SeedHex()))
	}
	if len(kp.PublicKeyHex()) != 64 {
		t.Fatalf("public key hex length = %d, want 64", len(kp.PublicKeyHex()))
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, _ := GenerateKeyPair()
	var hash [32]byte
	copy(hash[:], []byte("some cell hash to be signed....."))

	signature := kp.Sign(hash)
	if !Verify(kp.PublicKey(), hash, signature) {
		t.Fatalf("signature did not verify")
	}

	other, _ := GenerateKeyPair()
	if Verify(other.PublicKey(), hash, signature) {
		t.Fatalf("signature verified against wrong public key")
	}

	hash[0] ^= 0xFF
	if Verify(kp.PublicKey(), hash, signature) {
		t.Fatalf("signature verified against tampered hash")
	}
}

func TestSeedRoundTrip(t *testing.T) {
	kp, _ := GenerateKeyPair()
	reloaded, err := FromSeedHex(kp.SeedHex())
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if reloaded.PublicKeyHex() != kp.PublicKeyHex() {
		t.Fatalf("reloaded key pair has different public key")
	}

	var hash [32]byte
	copy(hash[:], []byte("another message to sign........."))
	sig1 := kp.Sign(hash)
	sig2 := reloaded.Sign(hash)
	if sig1 != sig2 {
		t.Fatalf("reloaded key pair produced a different (non-deterministic?) signature")
	}
}

func TestKeyPairFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/keypair"

	kp, _ := GenerateKeyPair()
	if err := kp.WriteKeyPairFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadKeyPairFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PublicKeyHex() != kp.PublicKeyHex() {
		t.Fatalf("loaded key pair public key mismatch")
	}
}

func TestFromSeedHexRejectsWrongLength(t *testing.T) {
	if _, err := FromSeedHex("abcd"); err == nil {
		t.Fatalf("expected error for short seed")
	}
}
