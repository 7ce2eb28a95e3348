package relay

// MessageType identifies a relay protocol message.
type MessageType string

// The relay wire vocabulary. The relay itself only originates
// session_created, peer_joined, error and peer_disconnected; key, data and
// sync_complete are forwarded verbatim between the paired channels.
const (
	// TypeSessionCreated carries the fresh pairing code to the sender.
	TypeSessionCreated MessageType = "session_created"

	// TypePeerJoined notifies both sides that the pairing is bound.
	TypePeerJoined MessageType = "peer_joined"

	// TypeKey carries the sender's exported symmetric key.
	TypeKey MessageType = "key"

	// TypeData carries the encrypted dataset.
	TypeData MessageType = "data"

	// TypeSyncComplete signals the receiver applied the import.
	TypeSyncComplete MessageType = "sync_complete"

	// TypeError carries a protocol or user-level failure, including the
	// receiver declining the overwrite confirmation.
	TypeError MessageType = "error"

	// TypePeerDisconnected notifies the remaining side that its peer
	// dropped before completion.
	TypePeerDisconnected MessageType = "peer_disconnected"
)

// ReasonCancelled is the error reason sent when the receiving user declines
// the overwrite confirmation.
const ReasonCancelled = "sync_cancelled"

// Message is the relay protocol envelope. Payload is opaque to the relay.
type Message struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}
