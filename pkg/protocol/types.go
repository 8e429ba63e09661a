package protocol

import "encoding/hex"

// Protocol constants
const (
	// Wire format version carried in the top two header bits
	PacketVersion = 0x00

	// Maximum hops a path may record
	MaxPathLen = 64

	// Maximum payload bytes after header, transport codes and path
	MaxPayloadLen = 184

	// Key and signature sizes (Ed25519)
	PubKeySize    = 32
	SignatureSize = 64

	// Size of the optional transport code block
	TransportCodesLen = 4
)

// Route kinds (low 2 bits of the header byte)
type RouteKind uint8

const (
	RouteTransportFlood  RouteKind = 0x00 // Flood, addressed by transport codes
	RouteFlood           RouteKind = 0x01 // Broadcast, repeaters append themselves
	RouteDirect          RouteKind = 0x02 // Hop-by-hop along an explicit path
	RouteTransportDirect RouteKind = 0x03 // Direct, addressed by transport codes
)

// Payload kinds (middle 4 bits of the header byte)
type PayloadKind uint8

const (
	PayloadReq       PayloadKind = 0x00 // Request to a peer (keyed, 16-byte MAC)
	PayloadResponse  PayloadKind = 0x01 // Response to a request
	PayloadTxtMsg    PayloadKind = 0x02 // Direct text message (keyed, 2-byte MAC)
	PayloadAck       PayloadKind = 0x03 // Delivery acknowledgment
	PayloadAdvert    PayloadKind = 0x04 // Node identity advertisement
	PayloadGrpTxt    PayloadKind = 0x05 // Group text (unused by this node)
	PayloadGrpData   PayloadKind = 0x06 // Group data (unused by this node)
	PayloadAnonReq   PayloadKind = 0x07 // Request without an established contact
	PayloadPath      PayloadKind = 0x08 // Route teaching
	PayloadTrace     PayloadKind = 0x09 // Path diagnostics
	PayloadMultipart PayloadKind = 0x0A // Fragmented payload carrier

	// PayloadNone marks the absence of a piggybacked payload.
	PayloadNone PayloadKind = 0x0F
)

// Request types carried inside a Req payload
const (
	RequestAckBatch uint8 = 0x01 // Which of these counters did you receive?
	RequestResend   uint8 = 0x02 // Retransmit these counters
)

// Text limits. A sealed text body is 2 MAC bytes plus at most 11 AES blocks
// of ciphertext; the inner plaintext spends TextOverhead bytes on framing.
const (
	TextOverhead = 2 + 2 + SignatureSize + 1 // counter, reserved, signature, NUL
	MaxTextLen   = 107
)

// PublicKey is a node's Ed25519 identity key
type PublicKey [PubKeySize]byte

// HopID returns the one-byte path identifier derived from the key
func (k PublicKey) HopID() byte {
	return k[0]
}

// ShortString returns an abbreviated hex form for logs
func (k PublicKey) ShortString() string {
	return hex.EncodeToString(k[:4])
}

// StoreID returns the stable identifier used to key persisted state
func (k PublicKey) StoreID() string {
	return hex.EncodeToString(k[:8])
}

// IsZero checks if the key is unset
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// ParsePublicKey parses a 64-character hex key
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(raw) != PubKeySize {
		return k, ErrInvalidKeyLength
	}
	copy(k[:], raw)
	return k, nil
}

// String returns the full hex form of the key
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText encodes the key as hex for JSON and text formats
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a hex key
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
