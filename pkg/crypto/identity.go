package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrBadSeedFile = errors.New("malformed identity seed file")
)

// Identity is a node's long-term Ed25519 key pair. The same key signs
// messages and, converted to its X25519 form, derives shared secrets.
type Identity struct {
	priv ed25519.PrivateKey
	pub  protocol.PublicKey
}

// NewIdentity generates a fresh identity
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return identityFromKeys(pub, priv), nil
}

// IdentityFromSeed rebuilds an identity from a 32-byte seed
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return identityFromKeys(priv.Public().(ed25519.PublicKey), priv), nil
}

func identityFromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	id := &Identity{priv: priv}
	copy(id.pub[:], pub)
	return id
}

// PublicKey returns the identity's public key
func (id *Identity) PublicKey() protocol.PublicKey {
	return id.pub
}

// HopID returns the identity's one-byte path identifier
func (id *Identity) HopID() byte {
	return id.pub.HopID()
}

// Seed returns the 32-byte private seed
func (id *Identity) Seed() []byte {
	return id.priv.Seed()
}

// Sign signs msg with the identity key
func (id *Identity) Sign(msg []byte) [protocol.SignatureSize]byte {
	var sig [protocol.SignatureSize]byte
	copy(sig[:], ed25519.Sign(id.priv, msg))
	return sig
}

// Verify checks sig over msg against the peer's public key
func Verify(peer protocol.PublicKey, msg []byte, sig []byte) bool {
	return ed25519.Verify(peer[:], msg, sig)
}

// SharedSecret computes the X25519 shared secret with peer. Both sides
// convert their Ed25519 keys to the Montgomery form first, so A and B
// derive the same 32 bytes.
func (id *Identity) SharedSecret(peer protocol.PublicKey) ([32]byte, error) {
	var secret [32]byte

	mont, err := ed25519PubToX25519(peer)
	if err != nil {
		return secret, fmt.Errorf("convert peer key: %w", err)
	}

	out, err := curve25519.X25519(ed25519PrivToX25519(id.priv), mont)
	if err != nil {
		return secret, err
	}
	copy(secret[:], out)

	return secret, nil
}

// ed25519PubToX25519 maps an Ed25519 point to its Montgomery u-coordinate
func ed25519PubToX25519(pub protocol.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	return p.BytesMontgomery(), nil
}

// ed25519PrivToX25519 derives the clamped X25519 scalar from the seed
func ed25519PrivToX25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	scalar := h[:curve25519.ScalarSize]
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}

// SaveIdentity writes the identity seed to filename as hex
func SaveIdentity(filename string, id *Identity) error {
	return os.WriteFile(filename, []byte(hex.EncodeToString(id.Seed())+"\n"), 0600)
}

// LoadIdentity reads a hex seed file written by SaveIdentity
func LoadIdentity(filename string) (*Identity, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, ErrBadSeedFile
	}

	return IdentityFromSeed(seed)
}

// LoadOrCreateIdentity loads filename, generating and saving a fresh
// identity when the file does not exist yet
func LoadOrCreateIdentity(filename string) (*Identity, error) {
	id, err := LoadIdentity(filename)
	if err == nil {
		return id, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	id, err = NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(filename, id); err != nil {
		return nil, err
	}

	return id, nil
}
