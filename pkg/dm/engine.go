package dm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/protocol"
	"github.com/ezmesh/meshdm/pkg/storage"
)

// Engine tuning. Tick periods are what the host timer substrate should
// use when wiring RetryTick and SendQueueTick.
const (
	MaxLogSize           = 100
	RouteRefreshInterval = 5 * time.Minute
	AckTimeout           = 10 * time.Second
	GapRetryInterval     = 10 * time.Second
	MaxAckRetries        = 3
	MaxGapRetries        = 3
	MaxBatchCounters     = 10
	RequestTimeout       = 30 * time.Second
	PendingPacketTTL     = 30 * time.Second

	RetryTickPeriod     = 2 * time.Second
	SendQueueTickPeriod = 5 * time.Second
)

// convKeyPrefix namespaces conversation records in the store
const convKeyPrefix = "conv:"

var (
	ErrEmptyText         = errors.New("empty message text")
	ErrSendDeclined      = errors.New("radio declined the packet")
	ErrRequestTimeout    = errors.New("request timed out")
	ErrRequestSuperseded = errors.New("superseded by a newer request of the same type")
	ErrHandlerExists     = errors.New("request handler already registered")
	ErrNilHandler        = errors.New("nil request handler")
)

// MessageCallback observes stored messages. StatusCallback observes
// delivery-state changes (acked, failed, gap filled). Both run
// synchronously on the engine thread and must not call back into the
// engine.
type MessageCallback func(peer protocol.PublicKey, msg Message)
type StatusCallback func(peer protocol.PublicKey, msg Message)

// RequestHandler serves one inbound request type. A non-nil return
// value is sealed and transmitted back as the response.
type RequestHandler func(peer protocol.PublicKey, data []byte, timestamp uint32) []byte

// Engine is the direct-messaging state machine. All entry points
// (sends, ticks, packet ingress, node discovery) serialize on one
// mutex, the Go rendering of the single cooperative thread this
// protocol was designed for; nothing inside ever blocks on the network.
type Engine struct {
	mu        sync.Mutex
	transport mesh.Transport
	store     storage.Store
	clock     mesh.Clock
	log       *zap.Logger

	keys          map[protocol.PublicKey]crypto.Key
	conversations map[protocol.PublicKey]*Conversation
	nextSeq       uint64

	pendingReqs    map[pendingKey]*pendingRequest
	pendingPackets map[byte]*pendingPacket
	handlers       map[uint8]RequestHandler

	// OnMessage fires for every newly stored or gap-filled received
	// message. OnStatus fires when a message's delivery state changes.
	// Set both before packets start flowing.
	OnMessage MessageCallback
	OnStatus  StatusCallback
}

// NewEngine wires the engine to its collaborators. Call Load before
// the first tick to restore persisted conversations, then register the
// transport's inbound callback to HandleInbound.
func NewEngine(transport mesh.Transport, store storage.Store, clock mesh.Clock, log *zap.Logger) *Engine {
	e := &Engine{
		transport:      transport,
		store:          store,
		clock:          clock,
		log:            log,
		keys:           make(map[protocol.PublicKey]crypto.Key),
		conversations:  make(map[protocol.PublicKey]*Conversation),
		nextSeq:        1,
		pendingReqs:    make(map[pendingKey]*pendingRequest),
		pendingPackets: make(map[byte]*pendingPacket),
		handlers:       make(map[uint8]RequestHandler),
	}
	e.registerBuiltinHandlers()
	return e
}

// Load restores all persisted conversations and the local sequence
// counter, so new messages keep sorting after old ones.
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.store.List(convKeyPrefix)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	for key, blob := range records {
		conv := &Conversation{}
		if err := json.Unmarshal(blob, conv); err != nil {
			e.log.Warn("skipping unreadable conversation record",
				zap.String("key", key), zap.Error(err))
			continue
		}
		e.conversations[conv.Peer] = conv
		if s := conv.maxSeq(); s >= e.nextSeq {
			e.nextSeq = s + 1
		}
	}

	e.log.Info("conversations loaded", zap.Int("count", len(e.conversations)))
	return nil
}

// Send queues a text message to peer. The message is stored and
// persisted immediately and transmitted in the same call when the
// radio accepts it; otherwise the send-queue tick retries.
func (e *Engine) Send(peer protocol.PublicKey, text string) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if text == "" {
		return Message{}, ErrEmptyText
	}
	if len(text) > protocol.MaxTextLen {
		return Message{}, protocol.ErrTextTooLong
	}

	if _, err := e.key(peer); err != nil {
		return Message{}, fmt.Errorf("no key for %s: %w", peer.ShortString(), err)
	}

	conv := e.conversation(peer)
	conv.SendCounter++

	msg := &Message{
		Outgoing: true,
		Text:     text,
		Counter:  conv.SendCounter,
		Seq:      e.takeSeq(),
		Verified: true,
		Read:     true,
	}
	conv.insert(msg)
	conv.LastActivity = e.now()

	e.transmitText(conv, msg)
	e.persist(conv)

	return *msg, nil
}

// SendQueueTick transmits messages the radio has not accepted yet.
// Wire it at SendQueueTickPeriod.
func (e *Engine) SendQueueTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, conv := range e.conversations {
		changed := false
		for _, msg := range conv.Messages {
			if msg.Outgoing && !msg.Failed && msg.TxCount == 0 {
				if e.transmitText(conv, msg) {
					changed = true
				}
			}
		}
		if changed {
			e.persist(conv)
		}
	}
}

// transmitText seals and sends one text message, updating transmission
// state when the radio accepts it.
func (e *Engine) transmitText(conv *Conversation, msg *Message) bool {
	key, err := e.key(conv.Peer)
	if err != nil {
		e.log.Warn("transmit aborted, no key",
			zap.String("peer", conv.Peer.ShortString()), zap.Error(err))
		return false
	}

	plain := &protocol.TextMessage{Counter: msg.Counter, Text: msg.Text}
	plain.Signature = e.transport.Sign(plain.SignedBytes())

	encoded, err := plain.Encode()
	if err != nil {
		e.log.Warn("text encode failed", zap.Error(err))
		return false
	}

	sealed, err := crypto.Seal(key, encoded, crypto.TextMACSize)
	if err != nil {
		e.log.Warn("text seal failed", zap.Error(err))
		return false
	}

	route, path := e.routeFor(conv)
	if !e.transport.Send(route, protocol.PayloadTxtMsg, path, sealed) {
		e.log.Debug("radio declined text, left queued",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Uint16("counter", msg.Counter))
		return false
	}

	msg.TxCount++
	if msg.FirstSentAt == 0 {
		msg.FirstSentAt = e.now()
	}

	e.log.Debug("text transmitted",
		zap.String("peer", conv.Peer.ShortString()),
		zap.Uint16("counter", msg.Counter),
		zap.String("route", routeName(route)),
		zap.Int("tx_count", msg.TxCount))
	return true
}

// Conversations returns summaries sorted by last activity, newest first
func (e *Engine) Conversations() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Summary, 0, len(e.conversations))
	for _, conv := range e.conversations {
		out = append(out, Summary{
			Peer:         conv.Peer,
			PeerName:     conv.PeerName,
			MessageCount: len(conv.Messages),
			Unread:       conv.Unread,
			LastActivity: conv.LastActivity,
			HasRoute:     conv.Route != nil,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity > out[j].LastActivity
	})
	return out
}

// Messages returns a copy of the log for peer
func (e *Engine) Messages(peer protocol.PublicKey) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[peer]
	if !ok {
		return nil
	}

	out := make([]Message, len(conv.Messages))
	for i, m := range conv.Messages {
		out[i] = *m
	}
	return out
}

// MarkRead clears the unread state of a conversation
func (e *Engine) MarkRead(peer protocol.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv, ok := e.conversations[peer]
	if !ok {
		return
	}

	for _, m := range conv.Messages {
		m.Read = true
	}
	if conv.Unread != 0 {
		conv.Unread = 0
		e.persist(conv)
	}
}

// ===== INTERNAL STATE =====

// key implements the key manager: derive once per contact, cache for
// the process lifetime.
func (e *Engine) key(peer protocol.PublicKey) (crypto.Key, error) {
	if k, ok := e.keys[peer]; ok {
		return k, nil
	}

	secret, err := e.transport.SharedSecret(peer)
	if err != nil {
		return crypto.Key{}, err
	}

	k := crypto.DeriveKey(secret)
	e.keys[peer] = k
	return k, nil
}

// conversation returns the conversation for peer, creating it lazily
func (e *Engine) conversation(peer protocol.PublicKey) *Conversation {
	conv, ok := e.conversations[peer]
	if !ok {
		conv = &Conversation{Peer: peer}
		if ident, found := e.transport.Resolve(peer.HopID()); found && ident.PublicKey == peer {
			conv.PeerName = ident.Name
		}
		e.conversations[peer] = conv
	}
	return conv
}

func (e *Engine) takeSeq() uint64 {
	s := e.nextSeq
	e.nextSeq++
	return s
}

// now returns engine time as unix milliseconds
func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

// persist writes one conversation record. Failures are logged and the
// in-memory state stays authoritative until the next successful save.
func (e *Engine) persist(conv *Conversation) {
	blob, err := json.Marshal(conv)
	if err != nil {
		e.log.Error("conversation marshal failed",
			zap.String("peer", conv.Peer.ShortString()), zap.Error(err))
		return
	}

	if err := e.store.Put(convKeyPrefix+conv.Peer.StoreID(), blob); err != nil {
		e.log.Warn("conversation save failed",
			zap.String("peer", conv.Peer.ShortString()), zap.Error(err))
	}
}

func (e *Engine) notifyMessage(peer protocol.PublicKey, msg *Message) {
	if e.OnMessage != nil {
		e.OnMessage(peer, *msg)
	}
}

func (e *Engine) notifyStatus(peer protocol.PublicKey, msg *Message) {
	if e.OnStatus != nil {
		e.OnStatus(peer, *msg)
	}
}

func routeName(route protocol.RouteKind) string {
	switch route {
	case protocol.RouteFlood, protocol.RouteTransportFlood:
		return "flood"
	case protocol.RouteDirect, protocol.RouteTransportDirect:
		return "direct"
	}
	return "unknown"
}
