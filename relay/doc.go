// Package relay implements the device-sync rendezvous relay: a short-lived,
// code-addressed channel pairing exactly two participants.
//
// The relay is a pure forwarder. It never persists message payloads and
// never sees plaintext: the sender's symmetric key and dataset travel
// end-to-end encrypted between the paired channels. Pairing state lives in
// an injected PairingRegistry keyed by 6-digit code, owned explicitly by
// the caller rather than held as process-global state.
//
// The transport is pluggable behind the Channel interface. Production uses
// a websocket binding; tests use an in-process pipe.
package relay
