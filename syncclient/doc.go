// Package syncclient drives device-to-device sync over the relay: the
// sender requests a pairing code, the receiver joins with it, and the
// full dataset travels encrypted under a per-transfer key the relay
// never sees. A state machine with an explicit transition table keeps
// the flow honest; nothing durable is written on the receiving device
// until the user confirms the overwrite.
package syncclient
