// Package dm implements the direct-messaging engine.
//
// The engine owns one-to-one encrypted text conversations over an
// unreliable mesh radio: it assigns send counters, seals and signs
// outgoing texts, sequences inbound ones, and recovers from loss with
// acknowledgments, ack-batch queries and resend requests. Delivery
// paths are cached per contact and taught back to flood senders, so a
// conversation converges from network-wide floods to direct routes.
//
// # Entry Points
//
// All entry points serialize on one mutex and never block on the
// network:
//   - Send, SendRequest: application output
//   - HandleInbound: packets from the transport
//   - HandleNodeDiscovered: identities from the transport
//   - RetryTick, SendQueueTick: host timers
//   - Conversations, Messages, MarkRead: application reads
//
// Callbacks (OnMessage, OnStatus, response and request handlers) run
// synchronously on the engine thread and must not call back into the
// engine.
//
// # Persistence
//
// Conversations persist as JSON records in a storage.Store, one record
// per contact, rewritten after every state change. Load restores them
// at startup; message logs are capped at MaxLogSize entries each, so
// records stay small enough for this to be cheap.
package dm
