package bridge

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

const (
	// AnnounceInterval is how often a radio re-advertises its identity
	AnnounceInterval = 5 * time.Minute

	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Radio connects a node to a Hub and implements mesh.Transport. It
// frames outgoing packets onto the hub connection, decodes inbound
// frames, maintains the node directory from received adverts and
// re-dials the hub with backoff when the connection drops.
type Radio struct {
	ident *crypto.Identity
	name  string
	addr  string
	log   *zap.Logger
	dir   *mesh.Directory
	clock mesh.Clock

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool

	done      chan struct{}
	closeOnce sync.Once

	// OnPacket receives every decoded frame addressed to this node.
	// OnNodeDiscovered fires for every verified advert, including
	// repeats from already known nodes.
	OnPacket         func(mesh.InboundPacket)
	OnNodeDiscovered func(mesh.PeerIdentity)
}

// NewRadio creates a radio that will connect to the hub at addr
func NewRadio(addr, name string, ident *crypto.Identity, clock mesh.Clock, log *zap.Logger) *Radio {
	return &Radio{
		ident: ident,
		name:  name,
		addr:  addr,
		log:   log,
		dir:   mesh.NewDirectory(),
		clock: clock,
		done:  make(chan struct{}),
	}
}

// Connect dials the hub and starts the receive and announce loops
func (r *Radio) Connect() error {
	conn, err := net.Dial("tcp", r.addr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.mu.Unlock()

	r.log.Info("radio connected",
		zap.String("hub", r.addr),
		zap.String("name", r.name),
		zap.Uint8("hop", r.ident.HopID()))

	go r.receiveLoopWithReconnect()
	go r.announceLoop()

	r.Announce()
	return nil
}

// Close shuts the radio down permanently
func (r *Radio) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		conn := r.conn
		r.connected = false
		r.mu.Unlock()

		close(r.done)
		if conn != nil {
			conn.Close()
		}
	})
}

// Directory exposes the node directory built from received adverts
func (r *Radio) Directory() *mesh.Directory {
	return r.dir
}

// ===== mesh.Transport =====

// LocalHopID returns this node's path identifier
func (r *Radio) LocalHopID() byte {
	return r.ident.HopID()
}

// LocalIdentity returns this node's public identity
func (r *Radio) LocalIdentity() mesh.PeerIdentity {
	return mesh.PeerIdentity{
		PublicKey: r.ident.PublicKey(),
		Name:      r.name,
	}
}

// Send frames one packet onto the hub connection. A false return means
// the packet never left: not connected, encode failure or write error.
func (r *Radio) Send(route protocol.RouteKind, kind protocol.PayloadKind, path []byte, payload []byte) bool {
	pkt := &protocol.Packet{
		Route:   route,
		Kind:    kind,
		Version: protocol.PacketVersion,
		Path:    path,
		Payload: payload,
	}

	encoded, err := pkt.Encode()
	if err != nil {
		r.log.Warn("packet encode failed", zap.Error(err))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected || r.conn == nil {
		return false
	}
	if err := WriteFrame(r.conn, encoded); err != nil {
		// Let the receive loop notice and reconnect.
		r.conn.Close()
		r.connected = false
		return false
	}
	return true
}

// SharedSecret derives the ECDH secret with a peer
func (r *Radio) SharedSecret(peer protocol.PublicKey) ([32]byte, error) {
	return r.ident.SharedSecret(peer)
}

// Sign signs msg with the local identity key
func (r *Radio) Sign(msg []byte) [protocol.SignatureSize]byte {
	return r.ident.Sign(msg)
}

// Verify checks a peer's signature over msg
func (r *Radio) Verify(peer protocol.PublicKey, msg []byte, sig []byte) bool {
	return crypto.Verify(peer, msg, sig)
}

// Resolve maps a hop ID to a known peer identity
func (r *Radio) Resolve(hop byte) (mesh.PeerIdentity, bool) {
	return r.dir.ResolveHop(hop)
}

// ===== Announcing =====

// Announce floods a signed identity advert
func (r *Radio) Announce() {
	adv, err := NewAdvert(r.ident, r.name, uint32(r.clock.Now().Unix()))
	if err != nil {
		r.log.Warn("advert build failed", zap.Error(err))
		return
	}
	wire, err := adv.Encode()
	if err != nil {
		r.log.Warn("advert encode failed", zap.Error(err))
		return
	}

	if !r.Send(protocol.RouteFlood, protocol.PayloadAdvert, []byte{r.LocalHopID()}, wire) {
		r.log.Debug("advert not sent, radio offline")
	}
}

func (r *Radio) announceLoop() {
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Announce()
		case <-r.done:
			return
		}
	}
}

// ===== Receiving =====

func (r *Radio) receiveLoopWithReconnect() {
	delay := reconnectBaseDelay

	for {
		r.receiveLoop()

		r.mu.Lock()
		closed := r.closed
		r.connected = false
		r.mu.Unlock()
		if closed {
			return
		}

		r.log.Info("hub connection lost, reconnecting",
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-r.done:
			return
		}

		conn, err := net.Dial("tcp", r.addr)
		if err != nil {
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.connected = true
		r.mu.Unlock()

		delay = reconnectBaseDelay
		r.log.Info("hub connection restored")
		r.Announce()
	}
}

func (r *Radio) receiveLoop() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return
		}
		r.handleFrame(frame)
	}
}

func (r *Radio) handleFrame(frame []byte) {
	var pkt protocol.Packet
	if err := pkt.Decode(frame); err != nil {
		r.log.Debug("undecodable frame dropped", zap.Error(err))
		return
	}

	if pkt.Kind == protocol.PayloadAdvert {
		r.handleAdvert(&pkt)
		return
	}

	if !r.addressedToUs(&pkt) {
		return
	}

	if r.OnPacket != nil {
		r.OnPacket(mesh.InboundPacket{
			Route:      pkt.Route,
			Kind:       pkt.Kind,
			Path:       pkt.Path,
			Payload:    pkt.Payload,
			ReceivedAt: r.clock.Now(),
		})
	}
}

// addressedToUs filters directed packets to those ending at our hop.
// Floods are everyone's business.
func (r *Radio) addressedToUs(pkt *protocol.Packet) bool {
	switch pkt.Route {
	case protocol.RouteDirect, protocol.RouteTransportDirect:
		return len(pkt.Path) > 0 && pkt.Path[len(pkt.Path)-1] == r.LocalHopID()
	default:
		return true
	}
}

func (r *Radio) handleAdvert(pkt *protocol.Packet) {
	var adv Advert
	if err := adv.Decode(pkt.Payload); err != nil {
		r.log.Debug("malformed advert dropped", zap.Error(err))
		return
	}
	if adv.PublicKey == r.ident.PublicKey() {
		return
	}
	if !adv.Verify() {
		r.log.Debug("advert signature invalid, dropped",
			zap.String("name", adv.Name))
		return
	}

	ident := mesh.PeerIdentity{PublicKey: adv.PublicKey, Name: adv.Name}
	isNew := r.dir.Update(ident, adv.Timestamp, 0, 0, r.clock.Now())
	if isNew {
		r.log.Info("node discovered",
			zap.String("name", adv.Name),
			zap.Uint8("hop", ident.HopID()))
	}

	if r.OnNodeDiscovered != nil {
		r.OnNodeDiscovered(ident)
	}
}
