// Package interfaces defines the core interfaces and types shared by the
// bill-sync system, separating interface definitions from implementations.
//
// # Storage Interfaces
//
// KVStore: Ephemeral key/value storage with per-key expiry across multiple
// backend types (memory, file, redis, s3, vault). The sharded multi-backend
// variant composes several KVStores for read availability.
//
// KVStoreFactory: Creates storage backends from URI strings and assembles
// sharded multi-backend configurations.
//
// # Identifier Types
//
// SecretID and SessionID locate one-time secrets and share sessions on the
// server. PairingCode is the short numeric rendezvous code used by the sync
// relay. None of these identifiers is a decryption key; possession of an
// identifier alone never reveals plaintext.
//
// # Error Taxonomy
//
// All components map failures onto four sentinel errors before they reach a
// caller: ErrNotFound (absent, expired, or already consumed; safe to show
// to a user as "link expired or invalid"), ErrConflict (update race),
// ErrTransport (relay or backend unreachable, connection dropped), and
// ErrValidation (malformed code or payload, detected locally).
package interfaces
