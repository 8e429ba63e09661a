// Package protocol implements the mesh radio wire format.
//
// The protocol package defines the packet framing, payload body codecs
// and small helpers shared by the messaging engine and the transport.
//
// # Packet Framing
//
// Every packet starts with a single header byte followed by an optional
// transport code block, the hop path and the payload:
//
//	[header:1][transport_codes:4?][path_len:1][path][payload]
//
// The header byte packs three fields:
//   - Route (bits 0-1): flood, direct, or their transport-coded forms
//   - Payload kind (bits 2-5): what the payload carries
//   - Version (bits 6-7): wire format version, currently 0
//
// The path lists one-byte hop IDs, originator first. Flood packets start
// with the sender's own hop ID and grow as repeaters append theirs;
// direct packets carry the complete transmit path up front. The payload
// is limited to MaxPayloadLen bytes so a maximum packet still fits one
// radio frame.
//
// # Payload Bodies
//
// All integers are little-endian. Keyed bodies are encrypted with
// AES-128-ECB and authenticated with a truncated HMAC-SHA-256 computed
// over the ciphertext (see the crypto package); the MAC always rides in
// front of the ciphertext.
//
// Text message (TxtMsg, 2-byte MAC):
//
//	[MAC:2][ciphertext] where the plaintext is
//	[counter:2][reserved:2][signature:64][text][0x00]
//
// Acknowledgment (Ack, plaintext):
//
//	[counter:2][reserved:2][content_checksum:4]
//
// Route teaching (Path, plaintext):
//
//	[path_len:1][path][extra_kind:1][extra]
//
// Request and Response (16-byte MAC) share an outer envelope:
//
//	[dest_hop:1][src_hop:1][MAC:16][ciphertext]
//
// with inner plaintexts
//
//	request:  [timestamp:4][request_type:1][request_data]
//	response: [timestamp:4][response_data]
//
// Batch request data and ack-batch response data use one-byte counted
// lists so cipher block padding after the list is ignored.
//
// # Decoding Discipline
//
// Decoders never panic on untrusted input: every read is bounds-checked
// and failures surface as sentinel errors (ErrShortPacket,
// ErrShortPayload, ErrPathTooLong, ...). Encoders validate size limits
// before allocating.
package protocol
