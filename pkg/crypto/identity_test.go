package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	if id.PublicKey().IsZero() {
		t.Error("PublicKey() is zero")
	}
	if id.HopID() != id.PublicKey()[0] {
		t.Errorf("HopID() = %x, want first key byte %x", id.HopID(), id.PublicKey()[0])
	}
}

func TestIdentityFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)

	a, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed() error = %v", err)
	}
	b, err := IdentityFromSeed(seed)
	if err != nil {
		t.Fatalf("IdentityFromSeed() error = %v", err)
	}

	if a.PublicKey() != b.PublicKey() {
		t.Error("same seed produced different public keys")
	}

	if _, err := IdentityFromSeed(seed[:16]); err == nil {
		t.Error("IdentityFromSeed(short) should fail")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	msg := []byte("counter and text bytes")
	sig := id.Sign(msg)

	if !Verify(id.PublicKey(), msg, sig[:]) {
		t.Error("Verify() = false for a valid signature")
	}
	if Verify(id.PublicKey(), []byte("other message"), sig[:]) {
		t.Error("Verify() = true for the wrong message")
	}

	sig[0] ^= 0x01
	if Verify(id.PublicKey(), msg, sig[:]) {
		t.Error("Verify() = true for a corrupted signature")
	}
}

func TestSharedSecretSymmetry(t *testing.T) {
	alice, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	bob, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	ab, err := alice.SharedSecret(bob.PublicKey())
	if err != nil {
		t.Fatalf("alice.SharedSecret() error = %v", err)
	}
	ba, err := bob.SharedSecret(alice.PublicKey())
	if err != nil {
		t.Fatalf("bob.SharedSecret() error = %v", err)
	}

	if ab != ba {
		t.Errorf("shared secrets differ: %x vs %x", ab, ba)
	}
	if ab == ([32]byte{}) {
		t.Error("shared secret is zero")
	}

	carol, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	ac, err := alice.SharedSecret(carol.PublicKey())
	if err != nil {
		t.Fatalf("alice.SharedSecret(carol) error = %v", err)
	}
	if ac == ab {
		t.Error("distinct peers produced the same secret")
	}
}

func TestIdentityFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	if err := SaveIdentity(path, id); err != nil {
		t.Fatalf("SaveIdentity() error = %v", err)
	}

	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	if loaded.PublicKey() != id.PublicKey() {
		t.Error("loaded identity differs from saved")
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error = %v", err)
	}

	loaded, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() second call error = %v", err)
	}

	if created.PublicKey() != loaded.PublicKey() {
		t.Error("second call did not load the saved identity")
	}
}
