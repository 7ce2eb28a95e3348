// Package api defines the wire types and error conventions shared by the
// bill-sync HTTP services and their clients.
//
// Two services are exposed under /api/v1:
//
// # One-Time Keys (api/keyapi)
//
// POST /api/v1/onetime-key stores an opaque encrypted payload under a
// random identifier. GET /api/v1/onetime-key/{id} is a destructive read:
// the server deletes the payload before responding, so a second read
// always returns 404. GET /api/v1/onetime-key/{id}/status reports
// availability without consuming.
//
// # Share Sessions (api/shareapi)
//
// POST /api/v1/share creates a versioned ciphertext session.
// POST /api/v1/share/{id} replaces the ciphertext and resets the TTL.
// GET /api/v1/share/{id}?ifNewerThan=v returns the ciphertext and version,
// or 304 Not Modified when the caller already holds the latest version.
//
// The server only ever sees ciphertext: payload encryption, signing and
// key wrapping all happen in package protocol on the client.
package api
