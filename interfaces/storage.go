package interfaces

import (
	"context"
	"time"
)

// KVStore provides ephemeral key/value storage with per-key expiry. Reads
// after a key's TTL behave as absent; the store makes no durability promise
// beyond the TTL.
//
// Implementations must treat a read-side error as "no answer", not as
// "key missing": callers composing multiple stores rely on the distinction.
type KVStore interface {
	// Get returns the value for key, or ErrNotFound if the key is absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given time to live. A ttl of
	// zero or less is rejected.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool

	// Name returns a short backend identifier for logging.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// KVStoreLocation is a backend URI such as memory://, redis://host:port/0,
// file:///var/lib/billsync, s3://bucket/prefix?region=r or
// vault://host:8200/secret/billsync.
type KVStoreLocation string

// KVStoreFactory creates storage backends from URI strings and assembles
// sharded multi-backend configurations for read redundancy.
type KVStoreFactory interface {
	// KVStoreFor creates a single backend from a location URI.
	KVStoreFor(location KVStoreLocation) (KVStore, error)

	// CreateShardedStore creates a sharded multi-backend from a list of
	// location URIs. Writes route to one designated backend per key;
	// reads probe all backends.
	CreateShardedStore(locations []KVStoreLocation) (KVStore, error)
}
