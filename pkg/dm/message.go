package dm

import (
	"sort"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// Message is one entry in a conversation log
type Message struct {
	Outgoing bool   `json:"outgoing"`
	Text     string `json:"text"`
	Counter  uint16 `json:"counter"`
	Seq      uint64 `json:"seq"`
	Verified bool   `json:"verified"`
	Read     bool   `json:"read"`

	// Sent-message delivery state
	TxCount     int   `json:"tx_count,omitempty"`
	FirstSentAt int64 `json:"first_sent_at,omitempty"`
	Acked       bool  `json:"acked,omitempty"`
	Failed      bool  `json:"failed,omitempty"`
	AckRetries  int   `json:"ack_retries,omitempty"`
	AckRetryAt  int64 `json:"ack_retry_at,omitempty"`

	// Gap-placeholder state for received counters not yet seen
	GapPlaceholder bool  `json:"gap_placeholder,omitempty"`
	GapRetries     int   `json:"gap_retries,omitempty"`
	GapRetryAt     int64 `json:"gap_retry_at,omitempty"`
}

// Route is a cached outbound path to one contact. Hops lists only the
// intermediate hop IDs; an empty list means the contact is adjacent.
type Route struct {
	Hops        []byte `json:"hops"`
	RefreshedAt int64  `json:"refreshed_at"`
}

// Conversation holds everything known about one contact
type Conversation struct {
	Peer         protocol.PublicKey `json:"peer"`
	PeerName     string             `json:"peer_name,omitempty"`
	Messages     []*Message         `json:"messages"`
	Unread       int                `json:"unread"`
	LastActivity int64              `json:"last_activity"`
	SendCounter  uint16             `json:"send_counter"`
	RecvCounter  uint16             `json:"recv_counter"`
	Route        *Route             `json:"route,omitempty"`
}

// insert appends msg and restores the log ordering invariant: counter
// first, sent before received at equal counter, arrival sequence last.
// The log is trimmed oldest-first past MaxLogSize.
func (c *Conversation) insert(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.sortLog()
	if len(c.Messages) > MaxLogSize {
		c.Messages = c.Messages[len(c.Messages)-MaxLogSize:]
	}
}

func (c *Conversation) sortLog() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		a, b := c.Messages[i], c.Messages[j]
		if a.Counter != b.Counter {
			return a.Counter < b.Counter
		}
		if a.Outgoing != b.Outgoing {
			return a.Outgoing
		}
		return a.Seq < b.Seq
	})
}

// findGap returns the gap placeholder for counter, if any
func (c *Conversation) findGap(counter uint16) *Message {
	for _, m := range c.Messages {
		if m.GapPlaceholder && m.Counter == counter {
			return m
		}
	}
	return nil
}

// findSent returns the sent message with counter, if any
func (c *Conversation) findSent(counter uint16) *Message {
	for _, m := range c.Messages {
		if m.Outgoing && m.Counter == counter {
			return m
		}
	}
	return nil
}

// findReceived returns the received (non-placeholder) message with
// counter, if any
func (c *Conversation) findReceived(counter uint16) *Message {
	for _, m := range c.Messages {
		if !m.Outgoing && !m.GapPlaceholder && m.Counter == counter {
			return m
		}
	}
	return nil
}

// maxSeq returns the highest local sequence number in the log
func (c *Conversation) maxSeq() uint64 {
	var max uint64
	for _, m := range c.Messages {
		if m.Seq > max {
			max = m.Seq
		}
	}
	return max
}

// Summary is the conversation list view handed to callers
type Summary struct {
	Peer         protocol.PublicKey `json:"peer"`
	PeerName     string             `json:"peer_name,omitempty"`
	MessageCount int                `json:"message_count"`
	Unread       int                `json:"unread"`
	LastActivity int64              `json:"last_activity"`
	HasRoute     bool               `json:"has_route"`
}
