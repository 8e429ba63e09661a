package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestSealOpen(t *testing.T) {
	key := testKey()

	tests := []struct {
		name      string
		plaintext []byte
		macSize   int
	}{
		{
			name:      "short text MAC",
			plaintext: []byte("hello"),
			macSize:   TextMACSize,
		},
		{
			name:      "exact block",
			plaintext: bytes.Repeat([]byte{0xAB}, 16),
			macSize:   TextMACSize,
		},
		{
			name:      "multi block request MAC",
			plaintext: bytes.Repeat([]byte{0x7F}, 45),
			macSize:   ReqMACSize,
		},
		{
			name:      "single byte",
			plaintext: []byte{0x01},
			macSize:   ReqMACSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(key, tt.plaintext, tt.macSize)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}

			wantLen := tt.macSize + (len(tt.plaintext)+15)/16*16
			if len(sealed) != wantLen {
				t.Errorf("sealed length = %d, want %d", len(sealed), wantLen)
			}

			opened, err := Open(key, sealed, tt.macSize)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			if !bytes.Equal(opened[:len(tt.plaintext)], tt.plaintext) {
				t.Errorf("plaintext = %x, want %x", opened[:len(tt.plaintext)], tt.plaintext)
			}
			for _, b := range opened[len(tt.plaintext):] {
				if b != 0 {
					t.Errorf("padding not zero: %x", opened[len(tt.plaintext):])
					break
				}
			}
		})
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := testKey()
	sealed, err := Seal(key, []byte("the quick brown fox"), TextMACSize)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	// Flipping any byte, MAC or ciphertext, must fail authentication.
	for i := range sealed {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[i] ^= 0x01

		if _, err := Open(key, tampered, TextMACSize); !errors.Is(err, ErrBadMAC) {
			t.Errorf("Open(tampered byte %d) error = %v, want %v", i, err, ErrBadMAC)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := Seal(testKey(), []byte("secret"), ReqMACSize)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	var other Key
	other[0] = 0xFF
	if _, err := Open(other, sealed, ReqMACSize); !errors.Is(err, ErrBadMAC) {
		t.Errorf("Open(wrong key) error = %v, want %v", err, ErrBadMAC)
	}
}

func TestOpenErrors(t *testing.T) {
	key := testKey()

	tests := []struct {
		name    string
		sealed  []byte
		macSize int
		wantErr error
	}{
		{
			name:    "too short",
			sealed:  make([]byte, TextMACSize+15),
			macSize: TextMACSize,
			wantErr: ErrShortSealed,
		},
		{
			name:    "unaligned ciphertext",
			sealed:  make([]byte, TextMACSize+17),
			macSize: TextMACSize,
			wantErr: ErrBadCiphertext,
		},
		{
			name:    "unsupported MAC size",
			sealed:  make([]byte, 64),
			macSize: 4,
			wantErr: ErrBadMACSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(key, tt.sealed, tt.macSize); !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := Seal(key, []byte("x"), 3); !errors.Is(err, ErrBadMACSize) {
		t.Errorf("Seal(bad MAC size) error = %v, want %v", err, ErrBadMACSize)
	}
}

func TestDeriveKey(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(0xF0 + i)
	}

	key := DeriveKey(secret)
	if !bytes.Equal(key[:], secret[:KeySize]) {
		t.Errorf("DeriveKey() = %x, want %x", key, secret[:KeySize])
	}
}
