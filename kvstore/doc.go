// Package kvstore implements the ephemeral key/value backends behind the
// one-time secret and share session services.
//
// Each backend implements interfaces.KVStore: an in-memory map with a
// periodic sweep, a local filesystem store, Redis (native TTL), Amazon S3
// (expiry kept in object metadata) and HashiCorp Vault KV v2 (expiry kept
// in the secret data). ShardedStore composes several backends: writes
// route deterministically to one backend per key, reads probe all
// backends concurrently and take the first affirmative answer, so a
// transiently down backend degrades reads without making writes ambiguous.
//
// The Factory creates backends from URI strings, supporting:
//   - memory:// - In-process map storage
//   - file:// - Local filesystem storage
//   - redis:// - Redis with native key expiry
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
package kvstore
