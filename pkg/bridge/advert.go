package bridge

import (
	"encoding/binary"
	"errors"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

const advertFixedLen = 4 + protocol.PubKeySize + protocol.SignatureSize

// MaxAdvertNameLen keeps a maximum advert inside one payload
const MaxAdvertNameLen = protocol.MaxPayloadLen - advertFixedLen

var (
	ErrShortAdvert       = errors.New("advert too short")
	ErrAdvertNameTooLong = errors.New("advert name too long")
)

// Advert announces a node identity and display name to the mesh. The
// signature covers timestamp, key and name, so a repeater can extend
// the packet path without breaking it.
type Advert struct {
	Timestamp uint32
	PublicKey protocol.PublicKey
	Signature [protocol.SignatureSize]byte
	Name      string
}

// NewAdvert builds a signed advert for the local identity
func NewAdvert(ident *crypto.Identity, name string, timestamp uint32) (*Advert, error) {
	if len(name) > MaxAdvertNameLen {
		return nil, ErrAdvertNameTooLong
	}

	adv := &Advert{
		Timestamp: timestamp,
		PublicKey: ident.PublicKey(),
		Name:      name,
	}
	adv.Signature = ident.Sign(adv.signedBytes())
	return adv, nil
}

// Encode encodes the advert to its wire form:
// [timestamp:4][pubkey:32][signature:64][name]
func (a *Advert) Encode() ([]byte, error) {
	if len(a.Name) > MaxAdvertNameLen {
		return nil, ErrAdvertNameTooLong
	}

	buf := make([]byte, advertFixedLen+len(a.Name))
	binary.LittleEndian.PutUint32(buf[0:4], a.Timestamp)
	copy(buf[4:36], a.PublicKey[:])
	copy(buf[36:100], a.Signature[:])
	copy(buf[100:], a.Name)
	return buf, nil
}

// Decode decodes an advert from bytes
func (a *Advert) Decode(buf []byte) error {
	if len(buf) < advertFixedLen {
		return ErrShortAdvert
	}

	a.Timestamp = binary.LittleEndian.Uint32(buf[0:4])
	copy(a.PublicKey[:], buf[4:36])
	copy(a.Signature[:], buf[36:100])
	a.Name = string(buf[advertFixedLen:])
	return nil
}

// Verify checks the advert signature against its own public key
func (a *Advert) Verify() bool {
	return crypto.Verify(a.PublicKey, a.signedBytes(), a.Signature[:])
}

func (a *Advert) signedBytes() []byte {
	buf := make([]byte, 4+protocol.PubKeySize+len(a.Name))
	binary.LittleEndian.PutUint32(buf[0:4], a.Timestamp)
	copy(buf[4:36], a.PublicKey[:])
	copy(buf[36:], a.Name)
	return buf
}
