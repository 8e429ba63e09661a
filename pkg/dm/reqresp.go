package dm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

// ResponseCallback receives the response body for a request, or the
// error that retired it (ErrRequestTimeout, ErrRequestSuperseded).
// Runs synchronously on the engine thread; must not call back in.
type ResponseCallback func(data []byte, err error)

// pendingKey identifies an outstanding request. One request per
// contact and type may be in flight; a repeat displaces the older one.
type pendingKey struct {
	peer protocol.PublicKey
	kind uint8
}

type pendingRequest struct {
	timestamp uint32
	callback  ResponseCallback
	expiresAt int64
}

// OnRequest registers a handler for an application request type.
// Types claimed by the engine's own recovery traffic are rejected.
func (e *Engine) OnRequest(reqType uint8, handler RequestHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if handler == nil {
		return ErrNilHandler
	}
	if _, exists := e.handlers[reqType]; exists {
		return ErrHandlerExists
	}

	e.handlers[reqType] = handler
	return nil
}

// SendRequest seals a typed request to peer and tracks it until the
// response echoing its timestamp arrives or RequestTimeout passes.
// Requests always go out flood so they survive a stale route.
func (e *Engine) SendRequest(peer protocol.PublicKey, reqType uint8, data []byte, cb ResponseCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendRequestLocked(peer, reqType, data, cb)
}

func (e *Engine) sendRequestLocked(peer protocol.PublicKey, reqType uint8, data []byte, cb ResponseCallback) error {
	key, err := e.key(peer)
	if err != nil {
		return fmt.Errorf("no key for %s: %w", peer.ShortString(), err)
	}

	req := &protocol.Request{
		Timestamp: uint32(e.clock.Now().Unix()),
		Type:      reqType,
		Data:      data,
	}

	sealed, err := crypto.Seal(key, req.Encode(), crypto.ReqMACSize)
	if err != nil {
		return fmt.Errorf("seal request: %w", err)
	}

	local := e.transport.LocalHopID()
	env := &protocol.SealedEnvelope{
		DestHop: peer.HopID(),
		SrcHop:  local,
		Sealed:  sealed,
	}

	if !e.transport.Send(protocol.RouteFlood, protocol.PayloadReq, []byte{local}, env.Encode()) {
		return ErrSendDeclined
	}

	k := pendingKey{peer: peer, kind: reqType}
	if old, ok := e.pendingReqs[k]; ok && old.callback != nil {
		old.callback(nil, ErrRequestSuperseded)
	}
	e.pendingReqs[k] = &pendingRequest{
		timestamp: req.Timestamp,
		callback:  cb,
		expiresAt: e.now() + RequestTimeout.Milliseconds(),
	}

	e.log.Debug("request sent",
		zap.String("peer", peer.ShortString()),
		zap.Uint8("type", reqType))
	return nil
}

// takePending claims the outstanding request matching a response by
// its echoed timestamp.
func (e *Engine) takePending(peer protocol.PublicKey, timestamp uint32) (*pendingRequest, bool) {
	for k, pr := range e.pendingReqs {
		if k.peer == peer && pr.timestamp == timestamp {
			delete(e.pendingReqs, k)
			return pr, true
		}
	}
	return nil, false
}

// expireRequests retires pending requests past their deadline,
// reporting ErrRequestTimeout to their callbacks.
func (e *Engine) expireRequests(now int64) {
	for k, pr := range e.pendingReqs {
		if now < pr.expiresAt {
			continue
		}
		delete(e.pendingReqs, k)
		e.log.Debug("request timed out",
			zap.String("peer", k.peer.ShortString()),
			zap.Uint8("type", k.kind))
		if pr.callback != nil {
			pr.callback(nil, ErrRequestTimeout)
		}
	}
}

// ===== BUILT-IN HANDLERS =====

// registerBuiltinHandlers claims the recovery request types before any
// application handler can.
func (e *Engine) registerBuiltinHandlers() {
	e.handlers[protocol.RequestAckBatch] = e.serveAckBatch
	e.handlers[protocol.RequestResend] = e.serveResend
}

// serveAckBatch answers "which of these counters did you receive" with
// counter/checksum pairs for every stored match. Counters never seen,
// or standing as unfilled gaps, are left out so the asker keeps
// retrying them.
func (e *Engine) serveAckBatch(peer protocol.PublicKey, data []byte, _ uint32) []byte {
	counters, err := protocol.DecodeCounterList(data)
	if err != nil {
		e.log.Debug("malformed ack batch request", zap.Error(err))
		return nil
	}

	var entries []protocol.AckEntry
	if conv, ok := e.conversations[peer]; ok {
		for _, c := range counters {
			msg := conv.findReceived(c)
			if msg == nil {
				continue
			}
			entries = append(entries, protocol.AckEntry{
				Counter:  c,
				Checksum: protocol.ContentChecksum([]byte(msg.Text)),
			})
		}
	}

	resp, err := protocol.EncodeAckEntries(entries)
	if err != nil {
		e.log.Debug("ack batch response too large", zap.Error(err))
		return nil
	}
	return resp
}

// serveResend retransmits our own sent messages for the requested
// counters. Recovery travels as ordinary text packets, so there is no
// response body.
func (e *Engine) serveResend(peer protocol.PublicKey, data []byte, _ uint32) []byte {
	counters, err := protocol.DecodeCounterList(data)
	if err != nil {
		e.log.Debug("malformed resend request", zap.Error(err))
		return nil
	}

	conv, ok := e.conversations[peer]
	if !ok {
		return nil
	}

	changed := false
	for _, c := range counters {
		msg := conv.findSent(c)
		if msg == nil {
			continue
		}
		if e.transmitText(conv, msg) {
			changed = true
		}
	}
	if changed {
		e.persist(conv)
	}
	return nil
}
