package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "flood text",
			pkt: &Packet{
				Route:   RouteFlood,
				Kind:    PayloadTxtMsg,
				Path:    []byte{0xA1},
				Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
			},
		},
		{
			name: "direct ack",
			pkt: &Packet{
				Route:   RouteDirect,
				Kind:    PayloadAck,
				Path:    []byte{0xA1, 0x42, 0xB7},
				Payload: bytes.Repeat([]byte{0x55}, AckSize),
			},
		},
		{
			name: "transport flood with codes",
			pkt: &Packet{
				Route:          RouteTransportFlood,
				Kind:           PayloadReq,
				TransportCodes: [2]uint16{0x1234, 0xABCD},
				Path:           []byte{0xA1, 0x42},
				Payload:        []byte{0x01, 0x02, 0x03},
			},
		},
		{
			name: "empty path advert",
			pkt: &Packet{
				Route:   RouteFlood,
				Kind:    PayloadAdvert,
				Path:    []byte{},
				Payload: bytes.Repeat([]byte{0x11}, 40),
			},
		},
		{
			name: "maximum payload",
			pkt: &Packet{
				Route:   RouteDirect,
				Kind:    PayloadResponse,
				Path:    bytes.Repeat([]byte{0x07}, MaxPathLen),
				Payload: bytes.Repeat([]byte{0xFF}, MaxPayloadLen),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.pkt.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			decoded := &Packet{}
			if err := decoded.Decode(encoded); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if decoded.Route != tt.pkt.Route {
				t.Errorf("Route = %v, want %v", decoded.Route, tt.pkt.Route)
			}
			if decoded.Kind != tt.pkt.Kind {
				t.Errorf("Kind = %v, want %v", decoded.Kind, tt.pkt.Kind)
			}
			if decoded.Version != tt.pkt.Version {
				t.Errorf("Version = %v, want %v", decoded.Version, tt.pkt.Version)
			}
			if decoded.TransportCodes != tt.pkt.TransportCodes {
				t.Errorf("TransportCodes = %v, want %v", decoded.TransportCodes, tt.pkt.TransportCodes)
			}
			if !bytes.Equal(decoded.Path, tt.pkt.Path) {
				t.Errorf("Path = %x, want %x", decoded.Path, tt.pkt.Path)
			}
			if !bytes.Equal(decoded.Payload, tt.pkt.Payload) {
				t.Errorf("Payload = %x, want %x", decoded.Payload, tt.pkt.Payload)
			}
		})
	}
}

func TestPacketEncodeLimits(t *testing.T) {
	tests := []struct {
		name    string
		pkt     *Packet
		wantErr error
	}{
		{
			name: "path too long",
			pkt: &Packet{
				Route: RouteFlood,
				Kind:  PayloadTxtMsg,
				Path:  bytes.Repeat([]byte{0x01}, MaxPathLen+1),
			},
			wantErr: ErrPathTooLong,
		},
		{
			name: "payload too long",
			pkt: &Packet{
				Route:   RouteFlood,
				Kind:    PayloadTxtMsg,
				Path:    []byte{0xA1},
				Payload: bytes.Repeat([]byte{0x01}, MaxPayloadLen+1),
			},
			wantErr: ErrPayloadTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.pkt.Encode(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPacketDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{
			name:    "empty buffer",
			buf:     nil,
			wantErr: ErrShortPacket,
		},
		{
			name:    "header only",
			buf:     []byte{0x09},
			wantErr: ErrShortPacket,
		},
		{
			name:    "path length beyond buffer",
			buf:     []byte{0x09, 0x05, 0xA1, 0x42},
			wantErr: ErrShortPacket,
		},
		{
			name:    "path length beyond maximum",
			buf:     append([]byte{0x09, 0xFF}, bytes.Repeat([]byte{0x01}, 255)...),
			wantErr: ErrPathTooLong,
		},
		{
			name:    "transport codes cut off",
			buf:     []byte{0x08, 0x34, 0x12},
			wantErr: ErrShortPacket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := &Packet{}
			if err := pkt.Decode(tt.buf); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPacketHeaderByte(t *testing.T) {
	pkt := &Packet{
		Route:   RouteDirect,
		Kind:    PayloadPath,
		Version: 0x01,
		Path:    []byte{0xA1},
	}

	encoded, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// route=2, kind=8, version=1: 0b01_1000_10
	want := byte(0x02 | 0x08<<2 | 0x01<<6)
	if encoded[0] != want {
		t.Errorf("header byte = %08b, want %08b", encoded[0], want)
	}
}

func TestPacketSenderHop(t *testing.T) {
	pkt := &Packet{Path: []byte{0xA1, 0x42}}
	hop, ok := pkt.SenderHop()
	if !ok || hop != 0xA1 {
		t.Errorf("SenderHop() = %x, %v, want a1, true", hop, ok)
	}

	empty := &Packet{}
	if _, ok := empty.SenderHop(); ok {
		t.Error("SenderHop() on empty path should not be ok")
	}
}
