package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortPacket      = errors.New("packet too short")
	ErrPathTooLong      = errors.New("path exceeds maximum length")
	ErrPayloadTooLong   = errors.New("payload exceeds maximum length")
	ErrInvalidKeyLength = errors.New("invalid public key length")
)

// Packet is the on-air unit: a one-byte header, optional transport codes,
// the hop path and an opaque payload.
//
// Header byte layout: route (bits 0-1), payload kind (bits 2-5),
// version (bits 6-7).
type Packet struct {
	Route          RouteKind   // How the packet travels
	Kind           PayloadKind // What the payload carries
	Version        uint8       // Wire format version
	TransportCodes [2]uint16   // Present only on transport-coded routes
	Path           []byte      // Hop IDs, sender first
	Payload        []byte      // Opaque payload body
}

// HasTransportCodes checks if the route carries the 4-byte code block
func (p *Packet) HasTransportCodes() bool {
	return p.Route == RouteTransportFlood || p.Route == RouteTransportDirect
}

// SenderHop returns the originating hop ID (always path[0] on the wire)
func (p *Packet) SenderHop() (byte, bool) {
	if len(p.Path) == 0 {
		return 0, false
	}
	return p.Path[0], true
}

// Encode encodes the packet to bytes
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Path) > MaxPathLen {
		return nil, ErrPathTooLong
	}
	if len(p.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLong
	}

	size := 1 + 1 + len(p.Path) + len(p.Payload)
	if p.HasTransportCodes() {
		size += TransportCodesLen
	}

	buf := make([]byte, size)
	buf[0] = byte(p.Route)&0x03 | byte(p.Kind&0x0F)<<2 | (p.Version&0x03)<<6
	offset := 1

	if p.HasTransportCodes() {
		binary.LittleEndian.PutUint16(buf[offset:], p.TransportCodes[0])
		binary.LittleEndian.PutUint16(buf[offset+2:], p.TransportCodes[1])
		offset += TransportCodesLen
	}

	buf[offset] = byte(len(p.Path))
	offset++

	copy(buf[offset:], p.Path)
	offset += len(p.Path)

	copy(buf[offset:], p.Payload)

	return buf, nil
}

// Decode decodes the packet from bytes
func (p *Packet) Decode(buf []byte) error {
	if len(buf) < 2 {
		return ErrShortPacket
	}

	p.Route = RouteKind(buf[0] & 0x03)
	p.Kind = PayloadKind(buf[0] >> 2 & 0x0F)
	p.Version = buf[0] >> 6 & 0x03
	offset := 1

	if p.HasTransportCodes() {
		if len(buf) < offset+TransportCodesLen+1 {
			return ErrShortPacket
		}
		p.TransportCodes[0] = binary.LittleEndian.Uint16(buf[offset:])
		p.TransportCodes[1] = binary.LittleEndian.Uint16(buf[offset+2:])
		offset += TransportCodesLen
	}

	pathLen := int(buf[offset])
	offset++

	if pathLen > MaxPathLen {
		return ErrPathTooLong
	}
	if len(buf) < offset+pathLen {
		return ErrShortPacket
	}

	p.Path = make([]byte, pathLen)
	copy(p.Path, buf[offset:offset+pathLen])
	offset += pathLen

	if len(buf)-offset > MaxPayloadLen {
		return ErrPayloadTooLong
	}

	p.Payload = make([]byte, len(buf)-offset)
	copy(p.Payload, buf[offset:])

	return nil
}
