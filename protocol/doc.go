// Package protocol implements the client-side cryptography for bill
// sharing and device sync: AES-256-GCM content encryption, ed25519
// payload signing, and the one-time link flow that wraps content keys
// behind URL-fragment secrets.
//
// Servers never see plaintext or keys. The link fragment stays in the
// URL fragment, which browsers do not transmit; the wrapped content key
// lives in a one-time secret that is destroyed on first read.
package protocol
