package kvstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*ShardedStore)(nil)

// ShardedStore implements interfaces.KVStore over multiple backends.
//
// Writes (Set, Del) route deterministically to one backend chosen by a
// stable hash of the key, so every key has a single writer-of-record and a
// failed write is never ambiguous. Reads (Get, Exists) probe all backends
// concurrently and return the first affirmative answer, tolerating a
// backend that is transiently down. A read-side backend error counts as
// "no answer", never as "key missing".
type ShardedStore struct {
	backends []interfaces.KVStore
	log      *slog.Logger
}

// NewShardedStore creates a sharded store over the given backends.
func NewShardedStore(backends []interfaces.KVStore, logger *slog.Logger) (*ShardedStore, error) {
	if len(backends) == 0 {
		return nil, errors.New("sharded store requires at least one backend")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShardedStore{backends: backends, log: logger}, nil
}

// writerFor returns the designated writer-of-record backend for key.
func (s *ShardedStore) writerFor(key string) interfaces.KVStore {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.backends[h.Sum32()%uint32(len(s.backends))]
}

type probeResult struct {
	backend string
	value   []byte
	found   bool
	err     error
}

// Get probes all backends concurrently and returns the first hit.
// It returns ErrNotFound only once every backend reported absent or errored.
func (s *ShardedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan probeResult, len(s.backends))
	for _, backend := range s.backends {
		go func(b interfaces.KVStore) {
			value, err := b.Get(ctx, key)
			if err != nil {
				if errors.Is(err, interfaces.ErrNotFound) {
					results <- probeResult{backend: b.Name()}
				} else {
					results <- probeResult{backend: b.Name(), err: err}
				}
				return
			}
			results <- probeResult{backend: b.Name(), value: value, found: true}
		}(backend)
	}

	var errs []error
	for range s.backends {
		res := <-results
		if res.found {
			s.log.Debug("Fetched record from backend",
				slog.String("backend_name", res.backend),
				slog.Duration("duration", time.Since(start)))
			return res.value, nil
		}
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.backend, res.err))
			s.log.Debug("Backend gave no answer",
				slog.String("backend_name", res.backend),
				"err", res.err)
		}
	}

	if len(errs) > 0 {
		s.log.Warn("Record not found; some backends errored",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
	}
	return nil, interfaces.ErrNotFound
}

// Set routes the write to the key's designated backend. A write that cannot
// reach its backend propagates the error rather than falling back, so a
// given key always has exactly one writer-of-record.
func (s *ShardedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	backend := s.writerFor(key)
	if err := backend.Set(ctx, key, value, ttl); err != nil {
		s.log.Error("Designated backend failed to store record",
			slog.String("backend_name", backend.Name()),
			"err", err)
		return fmt.Errorf("%s: %w", backend.Name(), err)
	}
	return nil
}

// Del routes the delete to the key's designated backend.
func (s *ShardedStore) Del(ctx context.Context, key string) error {
	backend := s.writerFor(key)
	if err := backend.Del(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", backend.Name(), err)
	}
	return nil
}

// Exists probes all backends concurrently and returns the first affirmative
// answer.
func (s *ShardedStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan probeResult, len(s.backends))
	for _, backend := range s.backends {
		go func(b interfaces.KVStore) {
			ok, err := b.Exists(ctx, key)
			results <- probeResult{backend: b.Name(), found: ok && err == nil, err: err}
		}(backend)
	}

	for range s.backends {
		if res := <-results; res.found {
			return true, nil
		}
	}
	return false, nil
}

// Available reports whether any backend is available.
func (s *ShardedStore) Available(ctx context.Context) bool {
	for _, backend := range s.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the backend identifier for logging.
func (s *ShardedStore) Name() string { return "sharded" }

// LocationURI returns the combined URI of all member backends.
func (s *ShardedStore) LocationURI() string {
	locations := make([]string, 0, len(s.backends))
	for _, backend := range s.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "sharded:[" + strings.Join(locations, ",") + "]"
}
