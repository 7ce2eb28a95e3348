package kvstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStoreFactory = (*Factory)(nil)

// Factory creates storage backends from URI strings and assembles sharded
// multi-backend configurations.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance that can create storage
// backends.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{log: logger}
}

// KVStoreFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process map storage
//   - file:// - Local filesystem storage
//   - redis:// - Redis with native key expiry
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) KVStoreFor(location interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid backend URI: %v", interfaces.ErrValidation, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return f.createMemoryBackend(u)
	case "file":
		return f.createFileBackend(u)
	case "redis":
		return f.createRedisBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("unsupported backend scheme: %s", u.Scheme)
	}
}

// CreateShardedStore creates a sharded multi-backend from a list of
// location URIs. Invalid URIs are skipped with a warning; at least one
// valid backend is required.
func (f *Factory) CreateShardedStore(locations []interfaces.KVStoreLocation) (interfaces.KVStore, error) {
	backends := make([]interfaces.KVStore, 0, len(locations))

	for _, location := range locations {
		backend, err := f.KVStoreFor(location)
		if err != nil {
			f.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", string(location)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewShardedStore(backends, f.log)
}

// createMemoryBackend creates an in-memory backend.
// URI format: memory://[?sweep=30s]
func (f *Factory) createMemoryBackend(u *url.URL) (interfaces.KVStore, error) {
	sweep := DefaultSweepInterval
	if raw := u.Query().Get("sweep"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep interval: %w", err)
		}
		sweep = parsed
	}
	return NewMemoryBackend(sweep, f.log), nil
}

// createFileBackend creates a filesystem backend.
// URI format: file:///var/lib/billsync
func (f *Factory) createFileBackend(u *url.URL) (interfaces.KVStore, error) {
	dir := u.Path
	if u.Host != "" {
		dir = u.Host + u.Path
	}
	if dir == "" {
		return nil, fmt.Errorf("file backend requires a directory path")
	}
	return NewFileBackend(dir, f.log)
}

// createRedisBackend creates a Redis backend.
// URI format: redis://[:password@]host:port[/db][?prefix=billsync:]
func (f *Factory) createRedisBackend(u *url.URL) (interfaces.KVStore, error) {
	opts := &redis.Options{Addr: u.Host}
	if pw, ok := u.User.Password(); ok {
		opts.Password = pw
	}
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		db, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db: %w", err)
		}
		opts.DB = db
	}

	prefix := u.Query().Get("prefix")
	if prefix == "" {
		prefix = "billsync:"
	}
	return NewRedisBackend(opts, prefix, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://[accessKey:secretKey@]bucket[/prefix]?region=us-east-1[&endpoint=...]
func (f *Factory) createS3Backend(u *url.URL) (interfaces.KVStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket name")
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	accessKey := u.User.Username()
	secretKey, _ := u.User.Password()

	return NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createVaultBackend creates a Vault backend.
// URI format: vault://[token@]host:port/mount/path
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.KVStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("vault backend requires a server address")
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault backend URI must include mount and data path")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, u.User.Username(), parts[0], parts[1], f.log)
}
