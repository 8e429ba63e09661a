// Package bridge carries mesh packets over TCP for nodes without a
// radio attached: a Hub rebroadcasts every frame to every other
// connected client like a shared RF channel, and a Radio is the hub
// client that implements mesh.Transport, announces the local identity
// and feeds decoded packets to the engine.
package bridge

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// MaxFrameSize bounds one framed packet: header byte, transport codes,
// path length byte, path, payload.
const MaxFrameSize = 1 + protocol.TransportCodesLen + 1 + protocol.MaxPathLen + protocol.MaxPayloadLen

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes one packet as a big-endian length-prefixed frame
func WriteFrame(w io.Writer, packet []byte) error {
	if len(packet) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(packet)
	return err
}

// ReadFrame reads one length-prefixed frame, rejecting oversized
// lengths before allocating.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint16(hdr[:])
	if int(n) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
