// Package mesh defines the boundary between the messaging engine and
// the radio it runs on: the transport contract, inbound packet shape,
// peer identities and the node directory.
package mesh

import (
	"time"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// PeerIdentity names a node on the mesh
type PeerIdentity struct {
	PublicKey protocol.PublicKey `json:"public_key"`
	Name      string             `json:"name"`
}

// HopID returns the peer's one-byte path identifier
func (p PeerIdentity) HopID() byte {
	return p.PublicKey.HopID()
}

// InboundPacket is a decoded packet handed up by the transport
type InboundPacket struct {
	Route      protocol.RouteKind
	Kind       protocol.PayloadKind
	Path       []byte
	Payload    []byte
	RSSI       float32
	SNR        float32
	ReceivedAt time.Time
}

// SenderHop returns the originating hop ID (path[0] on the wire)
func (p *InboundPacket) SenderHop() (byte, bool) {
	if len(p.Path) == 0 {
		return 0, false
	}
	return p.Path[0], true
}

// Transport is the radio seen from the engine. Send hands a packet to
// the radio and reports whether it was accepted for transmission; a
// false return leaves retry responsibility with the caller.
type Transport interface {
	// LocalHopID returns this node's path identifier
	LocalHopID() byte

	// LocalIdentity returns this node's public identity
	LocalIdentity() PeerIdentity

	// Send builds and transmits one packet
	Send(route protocol.RouteKind, kind protocol.PayloadKind, path []byte, payload []byte) bool

	// SharedSecret derives the ECDH secret with a peer
	SharedSecret(peer protocol.PublicKey) ([32]byte, error)

	// Sign signs msg with the local identity key
	Sign(msg []byte) [protocol.SignatureSize]byte

	// Verify checks a peer's signature over msg
	Verify(peer protocol.PublicKey, msg []byte, sig []byte) bool

	// Resolve maps a hop ID to a known peer identity
	Resolve(hop byte) (PeerIdentity, bool)
}

// Clock abstracts time so engine behavior is testable
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock
type SystemClock struct{}

// Now returns the wall-clock time
func (SystemClock) Now() time.Time {
	return time.Now()
}
