package dm

import (
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// RetryTick drives the recovery machinery: overdue unacknowledged
// messages get acknowledgment queries, stale gap placeholders get
// resend requests, and expired pending requests and parked packets are
// swept. Callers wire it to a ticker at RetryTickPeriod.
func (e *Engine) RetryTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, conv := range e.conversations {
		changed := e.retryAcks(conv, now)
		if e.retryGaps(conv, now) {
			changed = true
		}
		if changed {
			e.persist(conv)
		}
	}

	e.expireRequests(now)
	e.expirePendingPackets(now)
}

// retryAcks finds sent messages past the ack timeout and either asks
// the contact which of them arrived or, once the retry budget is
// spent, marks them failed and resets the route.
func (e *Engine) retryAcks(conv *Conversation, now int64) bool {
	var due []uint16
	changed := false

	for _, msg := range conv.Messages {
		if !msg.Outgoing || msg.Acked || msg.Failed || msg.TxCount == 0 {
			continue
		}

		last := msg.FirstSentAt
		if msg.AckRetryAt > last {
			last = msg.AckRetryAt
		}
		if now-last <= AckTimeout.Milliseconds() {
			continue
		}

		if msg.AckRetries >= MaxAckRetries {
			msg.Failed = true
			changed = true
			e.resetRoute(conv)
			e.log.Info("message failed, ack retries exhausted",
				zap.String("peer", conv.Peer.ShortString()),
				zap.Uint16("counter", msg.Counter))
			e.notifyStatus(conv.Peer, msg)
			continue
		}

		msg.AckRetries++
		msg.AckRetryAt = now
		due = append(due, msg.Counter)
		changed = true
	}

	for _, batch := range batchCounters(due) {
		e.requestAckBatch(conv.Peer, batch)
	}
	return changed
}

// retryGaps re-requests missing counters whose placeholders have gone
// stale, failing them once the retry budget is spent.
func (e *Engine) retryGaps(conv *Conversation, now int64) bool {
	var due []uint16
	changed := false

	for _, msg := range conv.Messages {
		if !msg.GapPlaceholder || msg.Failed {
			continue
		}
		if now-msg.GapRetryAt <= GapRetryInterval.Milliseconds() {
			continue
		}

		if msg.GapRetries >= MaxGapRetries {
			msg.Failed = true
			changed = true
			e.resetRoute(conv)
			e.log.Info("gap fill failed, resend retries exhausted",
				zap.String("peer", conv.Peer.ShortString()),
				zap.Uint16("counter", msg.Counter))
			e.notifyStatus(conv.Peer, msg)
			continue
		}

		msg.GapRetries++
		msg.GapRetryAt = now
		due = append(due, msg.Counter)
		changed = true
	}

	for _, batch := range batchCounters(due) {
		e.requestResend(conv.Peer, batch)
	}
	return changed
}

// synthesizeGaps inserts placeholders for every counter skipped
// between the conversation's receive counter and c, and immediately
// asks the contact to resend them. A jump from zero is first contact,
// not loss, so nothing is synthesized there.
func (e *Engine) synthesizeGaps(conv *Conversation, c uint16, now int64) {
	if conv.RecvCounter == 0 || c <= conv.RecvCounter+1 {
		return
	}

	// Placeholders beyond the log window would be trimmed on insert,
	// so a huge jump only synthesizes what the log can hold.
	first := conv.RecvCounter + 1
	if uint32(c)-uint32(first) > MaxLogSize {
		first = c - MaxLogSize
	}

	var gaps []uint16
	for g := first; g < c; g++ {
		conv.insert(&Message{
			Outgoing:       false,
			Counter:        g,
			Seq:            e.takeSeq(),
			Read:           true,
			GapPlaceholder: true,
			GapRetries:     1,
			GapRetryAt:     now,
		})
		gaps = append(gaps, g)
	}

	e.log.Info("gap detected",
		zap.String("peer", conv.Peer.ShortString()),
		zap.Uint16("from", first),
		zap.Uint16("to", c-1))

	for _, batch := range batchCounters(gaps) {
		e.requestResend(conv.Peer, batch)
	}
}

// applyAck marks the matching sent message delivered. The checksum
// must match the stored text; a failed message recovering a late ack
// is cleared back to delivered.
func (e *Engine) applyAck(conv *Conversation, counter uint16, checksum uint32) bool {
	msg := conv.findSent(counter)
	if msg == nil || msg.Acked {
		return false
	}
	if protocol.ContentChecksum([]byte(msg.Text)) != checksum {
		e.log.Debug("ack checksum mismatch",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Uint16("counter", counter))
		return false
	}

	msg.Acked = true
	msg.Failed = false
	e.notifyStatus(conv.Peer, msg)
	return true
}

// requestAckBatch asks the contact which of the given counters it has,
// applying any returned acknowledgment entries.
func (e *Engine) requestAckBatch(peer protocol.PublicKey, counters []uint16) {
	data, err := protocol.EncodeCounterList(counters)
	if err != nil {
		e.log.Error("encode ack batch", zap.Error(err))
		return
	}

	err = e.sendRequestLocked(peer, protocol.RequestAckBatch, data, func(resp []byte, err error) {
		if err != nil {
			return
		}
		e.applyAckEntries(peer, resp)
	})
	if err != nil {
		e.log.Debug("ack batch request not sent",
			zap.String("peer", peer.ShortString()), zap.Error(err))
	}
}

// requestResend asks the contact to retransmit the given counters.
// Recovery arrives as ordinary text messages, so no callback.
func (e *Engine) requestResend(peer protocol.PublicKey, counters []uint16) {
	data, err := protocol.EncodeCounterList(counters)
	if err != nil {
		e.log.Error("encode resend request", zap.Error(err))
		return
	}

	if err := e.sendRequestLocked(peer, protocol.RequestResend, data, nil); err != nil {
		e.log.Debug("resend request not sent",
			zap.String("peer", peer.ShortString()), zap.Error(err))
	}
}

// applyAckEntries processes an ack-batch response body. Runs with the
// engine lock held, from the response dispatch path.
func (e *Engine) applyAckEntries(peer protocol.PublicKey, data []byte) {
	entries, err := protocol.DecodeAckEntries(data)
	if err != nil {
		e.log.Debug("malformed ack batch response", zap.Error(err))
		return
	}

	conv, ok := e.conversations[peer]
	if !ok {
		return
	}

	changed := false
	for _, entry := range entries {
		if e.applyAck(conv, entry.Counter, entry.Checksum) {
			changed = true
		}
	}
	if changed {
		e.persist(conv)
	}
}

// batchCounters splits counters into request-sized chunks.
func batchCounters(counters []uint16) [][]uint16 {
	var batches [][]uint16
	for len(counters) > 0 {
		n := len(counters)
		if n > MaxBatchCounters {
			n = MaxBatchCounters
		}
		batches = append(batches, counters[:n])
		counters = counters[n:]
	}
	return batches
}
