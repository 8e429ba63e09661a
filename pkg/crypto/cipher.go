package crypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

const (
	// KeySize is the symmetric key length (AES-128)
	KeySize = 16

	// MAC truncations: text bodies carry 2 bytes, request bodies 16
	TextMACSize = 2
	ReqMACSize  = 16

	// The HMAC key is the symmetric key zero-extended to 32 bytes
	hmacKeySize = 32
)

var (
	ErrBadMAC        = errors.New("message authentication failed")
	ErrBadMACSize    = errors.New("unsupported MAC size")
	ErrShortSealed   = errors.New("sealed body too short")
	ErrBadCiphertext = errors.New("ciphertext not block aligned")
)

// Key is a 16-byte symmetric key shared with one contact
type Key [KeySize]byte

// DeriveKey reduces an X25519 shared secret to a symmetric key
func DeriveKey(secret [32]byte) Key {
	var k Key
	copy(k[:], secret[:KeySize])
	return k
}

// Seal encrypts plaintext with AES-128-ECB and prepends a macSize-byte
// HMAC-SHA-256 computed over the ciphertext: [MAC:macSize][ciphertext].
// The plaintext is zero-padded to whole blocks first.
func Seal(key Key, plaintext []byte, macSize int) ([]byte, error) {
	if macSize != TextMACSize && macSize != ReqMACSize {
		return nil, ErrBadMACSize
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, macSize+len(padded))
	ct := out[macSize:]
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(ct[i:], padded[i:])
	}

	mac := computeMAC(key, ct)
	copy(out, mac[:macSize])

	return out, nil
}

// Open verifies the MAC in constant time and decrypts
// [MAC:macSize][ciphertext], returning the padded plaintext. Callers
// parse their own framing; block padding stays at the tail.
func Open(key Key, sealed []byte, macSize int) ([]byte, error) {
	if macSize != TextMACSize && macSize != ReqMACSize {
		return nil, ErrBadMACSize
	}
	if len(sealed) < macSize+aes.BlockSize {
		return nil, ErrShortSealed
	}

	ct := sealed[macSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, ErrBadCiphertext
	}

	mac := computeMAC(key, ct)
	if !hmac.Equal(sealed[:macSize], mac[:macSize]) {
		return nil, ErrBadMAC
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(ct))
	for i := 0; i < len(ct); i += aes.BlockSize {
		block.Decrypt(pt[i:], ct[i:])
	}

	return pt, nil
}

// computeMAC runs HMAC-SHA-256 keyed with the zero-extended symmetric key
func computeMAC(key Key, ciphertext []byte) [sha256.Size]byte {
	var hk [hmacKeySize]byte
	copy(hk[:], key[:])

	m := hmac.New(sha256.New, hk[:])
	m.Write(ciphertext)

	var out [sha256.Size]byte
	copy(out[:], m.Sum(nil))
	return out
}

// pad zero-extends b to a multiple of blockSize
func pad(b []byte, blockSize int) []byte {
	rem := len(b) % blockSize
	if rem == 0 {
		return b
	}
	return append(b[:len(b):len(b)], make([]byte, blockSize-rem)...)
}
