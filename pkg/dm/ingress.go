package dm

import (
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

// pendingPacket parks an inbound packet whose sender we cannot resolve
// yet, for one replay if the identity shows up within PendingPacketTTL.
type pendingPacket struct {
	packet    mesh.InboundPacket
	arrivedAt int64
}

// HandleInbound is the packet entry point. Wire it as the transport's
// receive callback.
func (e *Engine) HandleInbound(pkt mesh.InboundPacket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatch(pkt)
}

func (e *Engine) dispatch(pkt mesh.InboundPacket) {
	switch pkt.Kind {
	case protocol.PayloadTxtMsg:
		e.handleText(pkt)
	case protocol.PayloadAck:
		e.handleAck(pkt)
	case protocol.PayloadPath:
		e.handlePathTeach(pkt)
	case protocol.PayloadReq:
		e.handleRequest(pkt)
	case protocol.PayloadResponse:
		e.handleResponse(pkt)
	default:
		e.log.Debug("unhandled payload kind", zap.Uint8("kind", uint8(pkt.Kind)))
	}
}

// ===== TEXT =====

func (e *Engine) handleText(pkt mesh.InboundPacket) {
	senderHop, ok := pkt.SenderHop()
	if !ok {
		e.log.Debug("text without path, dropped")
		return
	}

	peer, plain, ok := e.openFromHop(senderHop, pkt.Payload, crypto.TextMACSize, pkt)
	if !ok {
		return
	}

	in := &protocol.TextMessage{}
	if err := in.Decode(plain); err != nil {
		e.log.Debug("malformed text payload", zap.Error(err))
		return
	}

	conv := e.conversation(peer)
	now := e.now()
	verified := e.transport.Verify(peer, in.SignedBytes(), in.Signature[:])

	stored := e.acceptText(conv, in, verified, now)
	e.learnRoute(conv, pkt.Path)
	e.replyToText(conv, pkt, in)
	conv.LastActivity = now
	e.persist(conv)

	if stored != nil {
		e.notifyMessage(conv.Peer, stored)
	}
}

// acceptText sequences one decrypted text message into the log:
// fill the matching gap placeholder, drop a duplicate, or store it
// fresh, synthesizing placeholders for any counters skipped on the
// way. Returns the stored message, or nil for a duplicate.
func (e *Engine) acceptText(conv *Conversation, in *protocol.TextMessage, verified bool, now int64) *Message {
	c := in.Counter

	if gap := conv.findGap(c); gap != nil {
		gap.Text = in.Text
		gap.Verified = verified
		gap.Read = false
		gap.GapPlaceholder = false
		gap.Failed = false
		gap.GapRetries = 0
		gap.GapRetryAt = 0
		conv.Unread++
		e.log.Info("gap filled",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Uint16("counter", c))
		return gap
	}

	if c <= conv.RecvCounter {
		e.log.Debug("duplicate text dropped",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Uint16("counter", c))
		return nil
	}

	e.synthesizeGaps(conv, c, now)

	msg := &Message{
		Outgoing: false,
		Text:     in.Text,
		Counter:  c,
		Seq:      e.takeSeq(),
		Verified: verified,
	}
	conv.insert(msg)
	conv.Unread++
	conv.RecvCounter = c
	return msg
}

// replyToText acknowledges an inbound text. A flood arrival gets a
// route teach carrying the ack, so the sender learns the path it found;
// a direct arrival gets a plain ack. Duplicates are re-acknowledged,
// since a repeat means the first ack was lost.
func (e *Engine) replyToText(conv *Conversation, pkt mesh.InboundPacket, in *protocol.TextMessage) {
	ack := &protocol.Ack{
		Counter:  in.Counter,
		Checksum: protocol.ContentChecksum([]byte(in.Text)),
	}

	if pkt.Route == protocol.RouteFlood || pkt.Route == protocol.RouteTransportFlood {
		e.teachRoute(conv, pkt, ack)
		return
	}

	route, path := e.routeFor(conv)
	if !e.transport.Send(route, protocol.PayloadAck, path, ack.Encode()) {
		e.log.Debug("radio declined ack",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Uint16("counter", ack.Counter))
	}
}

// teachRoute sends the flood sender the forward path its packet
// traversed, with the ack piggybacked, direct along the reverse route
// just learned. With no usable reverse route the teach floods so the
// ack still lands.
func (e *Engine) teachRoute(conv *Conversation, pkt mesh.InboundPacket, ack *protocol.Ack) {
	local := e.transport.LocalHopID()
	peerHop := conv.Peer.HopID()

	var forward []byte
	if len(pkt.Path) > 0 && pkt.Path[0] == peerHop {
		forward = pkt.Path[1:]
		if n := len(forward); n > 0 && forward[n-1] == local {
			forward = forward[:n-1]
		}
	}

	teach := &protocol.PathTeach{
		Path:      forward,
		ExtraKind: protocol.PayloadAck,
		Extra:     ack.Encode(),
	}
	payload, err := teach.Encode()
	if err != nil {
		e.log.Warn("route teach encode failed", zap.Error(err))
		return
	}

	if conv.Route != nil {
		path := protocol.DirectPath(local, conv.Route.Hops, peerHop)
		if e.transport.Send(protocol.RouteDirect, protocol.PayloadPath, path, payload) {
			return
		}
	}
	e.transport.Send(protocol.RouteFlood, protocol.PayloadPath, []byte{local}, payload)
}

// ===== ACK =====

func (e *Engine) handleAck(pkt mesh.InboundPacket) {
	senderHop, ok := pkt.SenderHop()
	if !ok {
		e.log.Debug("ack without path, dropped")
		return
	}

	ack := &protocol.Ack{}
	if err := ack.Decode(pkt.Payload); err != nil {
		e.log.Debug("malformed ack", zap.Error(err))
		return
	}

	for _, conv := range e.conversationsByHop(senderHop) {
		if e.applyAck(conv, ack.Counter, ack.Checksum) {
			e.learnRoute(conv, pkt.Path)
			e.persist(conv)
			return
		}
	}

	e.log.Debug("unmatched ack",
		zap.Uint8("hop", senderHop),
		zap.Uint16("counter", ack.Counter))
}

// ===== ROUTE TEACH =====

func (e *Engine) handlePathTeach(pkt mesh.InboundPacket) {
	senderHop, ok := pkt.SenderHop()
	if !ok {
		e.log.Debug("route teach without path, dropped")
		return
	}

	teach := &protocol.PathTeach{}
	if err := teach.Decode(pkt.Payload); err != nil {
		e.log.Debug("malformed route teach", zap.Error(err))
		return
	}

	convs := e.conversationsByHop(senderHop)
	if len(convs) == 0 {
		e.log.Debug("route teach from unknown hop", zap.Uint8("hop", senderHop))
		return
	}

	// A piggybacked ack names the conversation it belongs to. Without
	// one, only an unambiguous hop mapping is trusted.
	var target *Conversation
	ack := &protocol.Ack{}
	hasAck := teach.ExtraKind == protocol.PayloadAck && ack.Decode(teach.Extra) == nil

	if hasAck {
		for _, conv := range convs {
			if e.applyAck(conv, ack.Counter, ack.Checksum) {
				target = conv
				break
			}
		}
	}
	if target == nil {
		if len(convs) != 1 {
			e.log.Debug("ambiguous route teach, dropped", zap.Uint8("hop", senderHop))
			return
		}
		target = convs[0]
	}

	// The taught path is already in our transmit order.
	e.adoptRoute(target, teach.Path)
	e.learnRoute(target, pkt.Path)
	e.persist(target)
}

// ===== REQUEST / RESPONSE =====

func (e *Engine) handleRequest(pkt mesh.InboundPacket) {
	env := &protocol.SealedEnvelope{}
	if err := env.Decode(pkt.Payload); err != nil {
		e.log.Debug("malformed request envelope", zap.Error(err))
		return
	}

	if env.DestHop != e.transport.LocalHopID() {
		e.log.Debug("request for another hop", zap.Uint8("dest", env.DestHop))
		return
	}

	peer, plain, ok := e.openFromHop(env.SrcHop, env.Sealed, crypto.ReqMACSize, pkt)
	if !ok {
		return
	}

	req := &protocol.Request{}
	if err := req.Decode(plain); err != nil {
		e.log.Debug("malformed request body", zap.Error(err))
		return
	}

	conv := e.conversation(peer)
	e.learnRoute(conv, pkt.Path)

	handler, ok := e.handlers[req.Type]
	if !ok {
		e.log.Debug("no handler for request type",
			zap.Uint8("type", req.Type),
			zap.String("peer", peer.ShortString()))
		e.persist(conv)
		return
	}

	if resp := handler(peer, req.Data, req.Timestamp); resp != nil {
		e.sendResponse(conv, req.Timestamp, resp)
	}
	e.persist(conv)
}

// sendResponse seals a response body echoing the request timestamp
// and sends it back along whatever route the contact has.
func (e *Engine) sendResponse(conv *Conversation, timestamp uint32, data []byte) {
	key, err := e.key(conv.Peer)
	if err != nil {
		e.log.Warn("response aborted, no key",
			zap.String("peer", conv.Peer.ShortString()), zap.Error(err))
		return
	}

	resp := &protocol.Response{Timestamp: timestamp, Data: data}
	sealed, err := crypto.Seal(key, resp.Encode(), crypto.ReqMACSize)
	if err != nil {
		e.log.Warn("response seal failed", zap.Error(err))
		return
	}

	env := &protocol.SealedEnvelope{
		DestHop: conv.Peer.HopID(),
		SrcHop:  e.transport.LocalHopID(),
		Sealed:  sealed,
	}

	route, path := e.routeFor(conv)
	if !e.transport.Send(route, protocol.PayloadResponse, path, env.Encode()) {
		e.log.Debug("radio declined response",
			zap.String("peer", conv.Peer.ShortString()))
	}
}

func (e *Engine) handleResponse(pkt mesh.InboundPacket) {
	env := &protocol.SealedEnvelope{}
	if err := env.Decode(pkt.Payload); err != nil {
		e.log.Debug("malformed response envelope", zap.Error(err))
		return
	}

	if env.DestHop != e.transport.LocalHopID() {
		e.log.Debug("response for another hop", zap.Uint8("dest", env.DestHop))
		return
	}

	peer, plain, ok := e.openFromHop(env.SrcHop, env.Sealed, crypto.ReqMACSize, pkt)
	if !ok {
		return
	}

	resp := &protocol.Response{}
	if err := resp.Decode(plain); err != nil {
		e.log.Debug("malformed response body", zap.Error(err))
		return
	}

	conv := e.conversation(peer)
	e.learnRoute(conv, pkt.Path)
	e.persist(conv)

	pr, found := e.takePending(peer, resp.Timestamp)
	if !found {
		e.log.Debug("response without pending request",
			zap.String("peer", peer.ShortString()))
		return
	}
	if pr.callback != nil {
		pr.callback(resp.Data, nil)
	}
}

// ===== SENDER RESOLUTION =====

// openFromHop resolves the contact behind a hop ID and authenticates
// the sealed body with that contact's key, trying known conversations
// first and the transport's directory second. With no candidate
// identity at all, the packet is parked for replay on discovery.
// Authentication failures drop the packet without parking it.
func (e *Engine) openFromHop(hop byte, sealed []byte, macSize int, pkt mesh.InboundPacket) (protocol.PublicKey, []byte, bool) {
	keyTried := false

	for _, conv := range e.conversationsByHop(hop) {
		key, err := e.key(conv.Peer)
		if err != nil {
			continue
		}
		keyTried = true
		if plain, err := crypto.Open(key, sealed, macSize); err == nil {
			return conv.Peer, plain, true
		}
	}

	if ident, ok := e.transport.Resolve(hop); ok {
		if key, err := e.key(ident.PublicKey); err == nil {
			keyTried = true
			if plain, err := crypto.Open(key, sealed, macSize); err == nil {
				return ident.PublicKey, plain, true
			}
		}
	}

	if keyTried {
		e.log.Debug("authentication failed, packet dropped", zap.Uint8("hop", hop))
		return protocol.PublicKey{}, nil, false
	}

	e.pendingPackets[hop] = &pendingPacket{packet: pkt, arrivedAt: e.now()}
	e.log.Debug("sender unknown, packet parked", zap.Uint8("hop", hop))
	return protocol.PublicKey{}, nil, false
}

// conversationsByHop lists conversations whose contact sits behind a
// hop ID. Hop IDs are one byte, so collisions are possible and every
// candidate must be checked.
func (e *Engine) conversationsByHop(hop byte) []*Conversation {
	var out []*Conversation
	for _, conv := range e.conversations {
		if conv.Peer.HopID() == hop {
			out = append(out, conv)
		}
	}
	return out
}

// ===== DISCOVERY =====

// HandleNodeDiscovered reacts to a new identity from the mesh: refresh
// the display name and replay any packet parked waiting for this hop.
// Wire it to the transport's discovery callback.
func (e *Engine) HandleNodeDiscovered(ident mesh.PeerIdentity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if conv, ok := e.conversations[ident.PublicKey]; ok && ident.Name != "" && conv.PeerName != ident.Name {
		conv.PeerName = ident.Name
		e.persist(conv)
	}

	hop := ident.HopID()
	pp, ok := e.pendingPackets[hop]
	if !ok {
		return
	}
	delete(e.pendingPackets, hop)

	if e.now()-pp.arrivedAt > PendingPacketTTL.Milliseconds() {
		return
	}

	e.log.Debug("replaying parked packet", zap.Uint8("hop", hop))
	e.dispatch(pp.packet)
}

// expirePendingPackets drops parked packets past their TTL.
func (e *Engine) expirePendingPackets(now int64) {
	for hop, pp := range e.pendingPackets {
		if now-pp.arrivedAt > PendingPacketTTL.Milliseconds() {
			delete(e.pendingPackets, hop)
		}
	}
}
