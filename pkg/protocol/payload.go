package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	ErrShortPayload   = errors.New("payload too short")
	ErrTextTooLong    = errors.New("text exceeds maximum length")
	ErrInvalidText    = errors.New("text contains a NUL byte")
	ErrTruncatedList  = errors.New("truncated counter list")
	ErrTooManyEntries = errors.New("too many list entries")
)

// ===== TEXT MESSAGE =====

// TextMessage is the plaintext of a TxtMsg payload. On the wire it is
// sealed as [MAC:2][ciphertext]; the ciphertext decrypts to
// [counter:2][reserved:2][signature:64][text][0x00] plus block padding.
type TextMessage struct {
	Counter   uint16              // Per-conversation send counter
	Reserved  uint16              // Zero on encode, ignored on decode
	Signature [SignatureSize]byte // Ed25519 over SignedBytes()
	Text      string              // UTF-8, at most MaxTextLen bytes
}

// Encode encodes the text plaintext to bytes
func (m *TextMessage) Encode() ([]byte, error) {
	if len(m.Text) > MaxTextLen {
		return nil, ErrTextTooLong
	}
	if bytes.IndexByte([]byte(m.Text), 0) >= 0 {
		return nil, ErrInvalidText
	}

	buf := make([]byte, TextOverhead+len(m.Text))
	offset := 0

	binary.LittleEndian.PutUint16(buf[offset:], m.Counter)
	offset += 2

	binary.LittleEndian.PutUint16(buf[offset:], m.Reserved)
	offset += 2

	copy(buf[offset:], m.Signature[:])
	offset += SignatureSize

	copy(buf[offset:], m.Text)
	offset += len(m.Text)

	buf[offset] = 0x00

	return buf, nil
}

// Decode decodes the text plaintext from bytes. The buffer may carry
// cipher block padding after the terminating NUL.
func (m *TextMessage) Decode(buf []byte) error {
	if len(buf) < TextOverhead {
		return ErrShortPayload
	}

	offset := 0

	m.Counter = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2

	m.Reserved = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2

	copy(m.Signature[:], buf[offset:offset+SignatureSize])
	offset += SignatureSize

	text := buf[offset:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	if len(text) > MaxTextLen {
		return ErrTextTooLong
	}
	m.Text = string(text)

	return nil
}

// SignedBytes returns the bytes covered by the signature:
// [counter:2][reserved:2][text]
func (m *TextMessage) SignedBytes() []byte {
	buf := make([]byte, 4+len(m.Text))
	binary.LittleEndian.PutUint16(buf[0:], m.Counter)
	binary.LittleEndian.PutUint16(buf[2:], m.Reserved)
	copy(buf[4:], m.Text)
	return buf
}

// ===== ACK =====

// AckSize is the fixed length of an ack payload
const AckSize = 8

// Ack acknowledges one message: [counter:2][reserved:2][checksum:4]
type Ack struct {
	Counter  uint16 // Counter of the acknowledged message
	Reserved uint16 // Zero on encode, ignored on decode
	Checksum uint32 // ContentChecksum of the acknowledged text
}

// Encode encodes the ack to bytes
func (a *Ack) Encode() []byte {
	buf := make([]byte, AckSize)
	binary.LittleEndian.PutUint16(buf[0:], a.Counter)
	binary.LittleEndian.PutUint16(buf[2:], a.Reserved)
	binary.LittleEndian.PutUint32(buf[4:], a.Checksum)
	return buf
}

// Decode decodes the ack from bytes
func (a *Ack) Decode(buf []byte) error {
	if len(buf) < AckSize {
		return ErrShortPayload
	}
	a.Counter = binary.LittleEndian.Uint16(buf[0:])
	a.Reserved = binary.LittleEndian.Uint16(buf[2:])
	a.Checksum = binary.LittleEndian.Uint32(buf[4:])
	return nil
}

// ===== ROUTE TEACHING =====

// PathTeach carries a usable return route back to a flood sender:
// [path_len:1][path][extra_kind:1][extra]. The extra slot usually
// piggybacks the ack for the message that triggered the teach.
type PathTeach struct {
	Path      []byte      // Intermediate hops, receiver-to-sender transmit order
	ExtraKind PayloadKind // Kind of the piggybacked payload, PayloadNone if absent
	Extra     []byte      // Piggybacked payload body
}

// Encode encodes the route teach to bytes
func (p *PathTeach) Encode() ([]byte, error) {
	if len(p.Path) > MaxPathLen {
		return nil, ErrPathTooLong
	}

	size := 1 + len(p.Path)
	if p.ExtraKind != PayloadNone {
		size += 1 + len(p.Extra)
	}

	buf := make([]byte, size)
	buf[0] = byte(len(p.Path))
	offset := 1

	copy(buf[offset:], p.Path)
	offset += len(p.Path)

	if p.ExtraKind != PayloadNone {
		buf[offset] = byte(p.ExtraKind)
		offset++
		copy(buf[offset:], p.Extra)
	}

	return buf, nil
}

// Decode decodes the route teach from bytes
func (p *PathTeach) Decode(buf []byte) error {
	if len(buf) < 1 {
		return ErrShortPayload
	}

	pathLen := int(buf[0])
	if pathLen > MaxPathLen {
		return ErrPathTooLong
	}
	if len(buf) < 1+pathLen {
		return ErrShortPayload
	}

	p.Path = make([]byte, pathLen)
	copy(p.Path, buf[1:1+pathLen])
	offset := 1 + pathLen

	if offset == len(buf) {
		p.ExtraKind = PayloadNone
		p.Extra = nil
		return nil
	}

	p.ExtraKind = PayloadKind(buf[offset] & 0x0F)
	offset++

	p.Extra = make([]byte, len(buf)-offset)
	copy(p.Extra, buf[offset:])

	return nil
}

// ===== REQUEST / RESPONSE =====

// SealedEnvelope is the outer frame shared by Req and Response payloads:
// [dest_hop:1][src_hop:1][MAC:16][ciphertext]
type SealedEnvelope struct {
	DestHop byte   // Hop ID of the addressee
	SrcHop  byte   // Hop ID of the originator
	Sealed  []byte // MAC-prefixed ciphertext
}

// Encode encodes the envelope to bytes
func (e *SealedEnvelope) Encode() []byte {
	buf := make([]byte, 2+len(e.Sealed))
	buf[0] = e.DestHop
	buf[1] = e.SrcHop
	copy(buf[2:], e.Sealed)
	return buf
}

// Decode decodes the envelope from bytes
func (e *SealedEnvelope) Decode(buf []byte) error {
	if len(buf) < 2 {
		return ErrShortPayload
	}
	e.DestHop = buf[0]
	e.SrcHop = buf[1]
	e.Sealed = make([]byte, len(buf)-2)
	copy(e.Sealed, buf[2:])
	return nil
}

// Request is the plaintext of a Req payload:
// [timestamp:4][request_type:1][request_data]
type Request struct {
	Timestamp uint32 // Sender clock, echoed back by the response
	Type      uint8  // RequestAckBatch or RequestResend
	Data      []byte // Type-specific body
}

// Encode encodes the request plaintext to bytes
func (r *Request) Encode() []byte {
	buf := make([]byte, 5+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:], r.Timestamp)
	buf[4] = r.Type
	copy(buf[5:], r.Data)
	return buf
}

// Decode decodes the request plaintext from bytes. Trailing cipher
// padding stays in Data; type-specific decoders carry their own counts.
func (r *Request) Decode(buf []byte) error {
	if len(buf) < 5 {
		return ErrShortPayload
	}
	r.Timestamp = binary.LittleEndian.Uint32(buf[0:])
	r.Type = buf[4]
	r.Data = make([]byte, len(buf)-5)
	copy(r.Data, buf[5:])
	return nil
}

// Response is the plaintext of a Response payload:
// [timestamp:4][response_data]
type Response struct {
	Timestamp uint32 // Echo of the request timestamp
	Data      []byte // Type-specific body
}

// Encode encodes the response plaintext to bytes
func (r *Response) Encode() []byte {
	buf := make([]byte, 4+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:], r.Timestamp)
	copy(buf[4:], r.Data)
	return buf
}

// Decode decodes the response plaintext from bytes
func (r *Response) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrShortPayload
	}
	r.Timestamp = binary.LittleEndian.Uint32(buf[0:])
	r.Data = make([]byte, len(buf)-4)
	copy(r.Data, buf[4:])
	return nil
}

// ===== COUNTER LISTS =====

// EncodeCounterList encodes request data for the batch request types:
// [n:1][counter:2]*n
func EncodeCounterList(counters []uint16) ([]byte, error) {
	if len(counters) > 255 {
		return nil, ErrTooManyEntries
	}

	buf := make([]byte, 1+2*len(counters))
	buf[0] = byte(len(counters))
	for i, c := range counters {
		binary.LittleEndian.PutUint16(buf[1+2*i:], c)
	}
	return buf, nil
}

// DecodeCounterList decodes [n:1][counter:2]*n, ignoring trailing padding
func DecodeCounterList(buf []byte) ([]uint16, error) {
	if len(buf) < 1 {
		return nil, ErrShortPayload
	}

	n := int(buf[0])
	if len(buf) < 1+2*n {
		return nil, ErrTruncatedList
	}

	counters := make([]uint16, n)
	for i := range counters {
		counters[i] = binary.LittleEndian.Uint16(buf[1+2*i:])
	}
	return counters, nil
}

// AckEntry pairs a received counter with its content checksum
type AckEntry struct {
	Counter  uint16
	Checksum uint32
}

// EncodeAckEntries encodes response data for an ack-batch request:
// [n:1]([counter:2][checksum:4])*n
func EncodeAckEntries(entries []AckEntry) ([]byte, error) {
	if len(entries) > 255 {
		return nil, ErrTooManyEntries
	}

	buf := make([]byte, 1+6*len(entries))
	buf[0] = byte(len(entries))
	for i, e := range entries {
		binary.LittleEndian.PutUint16(buf[1+6*i:], e.Counter)
		binary.LittleEndian.PutUint32(buf[3+6*i:], e.Checksum)
	}
	return buf, nil
}

// DecodeAckEntries decodes [n:1]([counter:2][checksum:4])*n, ignoring
// trailing padding
func DecodeAckEntries(buf []byte) ([]AckEntry, error) {
	if len(buf) < 1 {
		return nil, ErrShortPayload
	}

	n := int(buf[0])
	if len(buf) < 1+6*n {
		return nil, ErrTruncatedList
	}

	entries := make([]AckEntry, n)
	for i := range entries {
		entries[i].Counter = binary.LittleEndian.Uint16(buf[1+6*i:])
		entries[i].Checksum = binary.LittleEndian.Uint32(buf[3+6*i:])
	}
	return entries, nil
}
