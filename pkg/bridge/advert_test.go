package bridge

import (
	"strings"
	"testing"

	"github.com/ezmesh/meshdm/pkg/crypto"
)

func TestAdvertRoundTrip(t *testing.T) {
	ident, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	adv, err := NewAdvert(ident, "basecamp", 1700000000)
	if err != nil {
		t.Fatalf("NewAdvert failed: %v", err)
	}

	wire, err := adv.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got Advert
	if err := got.Decode(wire); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", got.Timestamp)
	}
	if got.PublicKey != ident.PublicKey() {
		t.Error("public key mismatch")
	}
	if got.Name != "basecamp" {
		t.Errorf("name = %q, want %q", got.Name, "basecamp")
	}
	if !got.Verify() {
		t.Error("decoded advert failed verification")
	}
}

func TestAdvertEmptyName(t *testing.T) {
	ident, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	adv, err := NewAdvert(ident, "", 42)
	if err != nil {
		t.Fatalf("NewAdvert failed: %v", err)
	}

	wire, err := adv.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got Advert
	if err := got.Decode(wire); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Name != "" || !got.Verify() {
		t.Errorf("empty-name advert: name=%q verified=%v", got.Name, got.Verify())
	}
}

func TestAdvertTamperFailsVerify(t *testing.T) {
	ident, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	adv, err := NewAdvert(ident, "summit", 99)
	if err != nil {
		t.Fatalf("NewAdvert failed: %v", err)
	}

	cases := []struct {
		name string
		bit  int
	}{
		{"timestamp", 0},
		{"pubkey", 4},
		{"signature", 4 + 32},
		{"name", advertFixedLen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := adv.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			wire[tc.bit] ^= 0x01

			var got Advert
			if err := got.Decode(wire); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Verify() {
				t.Error("tampered advert passed verification")
			}
		})
	}
}

func TestAdvertNameTooLong(t *testing.T) {
	ident, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	if _, err := NewAdvert(ident, strings.Repeat("x", MaxAdvertNameLen+1), 1); err != ErrAdvertNameTooLong {
		t.Fatalf("expected ErrAdvertNameTooLong, got %v", err)
	}
}

func TestAdvertDecodeShort(t *testing.T) {
	var adv Advert
	if err := adv.Decode(make([]byte, advertFixedLen-1)); err != ErrShortAdvert {
		t.Fatalf("expected ErrShortAdvert, got %v", err)
	}
}
