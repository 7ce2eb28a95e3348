package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*MemoryBackend)(nil)

// DefaultSweepInterval is how often expired records are actively removed.
// Expiry is also enforced on read, so the sweep only bounds memory use.
const DefaultSweepInterval = 30 * time.Second

type memoryRecord struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend implements a storage backend using an in-process map with a
// periodic sweep goroutine. Intended for single-instance deployments and
// tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	log     *slog.Logger
	cancel  context.CancelFunc
}

// NewMemoryBackend creates a new in-memory storage backend and starts its
// sweep goroutine. Close stops the sweeper.
func NewMemoryBackend(sweepInterval time.Duration, log *slog.Logger) *MemoryBackend {
	if log == nil {
		log = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBackend{
		records: make(map[string]memoryRecord),
		log:     log,
		cancel:  cancel,
	}
	go b.sweepLoop(ctx, sweepInterval)
	return b
}

// Get returns the value for key, treating expired records as absent.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	rec, ok := b.records[key]
	b.mu.RUnlock()

	if !ok || time.Now().After(rec.expiresAt) {
		return nil, interfaces.ErrNotFound
	}

	// Copy so callers cannot mutate the stored value.
	out := make([]byte, len(rec.value))
	copy(out, rec.value)
	return out, nil
}

// Set stores value under key until now+ttl.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", interfaces.ErrValidation)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	b.mu.Lock()
	b.records[key] = memoryRecord{value: stored, expiresAt: time.Now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

// Del removes key. Absent keys are ignored.
func (b *MemoryBackend) Del(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.records, key)
	b.mu.Unlock()
	return nil
}

// Exists reports whether key is present and unexpired.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	rec, ok := b.records[key]
	b.mu.RUnlock()
	return ok && time.Now().Before(rec.expiresAt), nil
}

// Available always reports true for the in-process backend.
func (b *MemoryBackend) Available(ctx context.Context) bool { return true }

// Name returns the backend identifier for logging.
func (b *MemoryBackend) Name() string { return "memory" }

// LocationURI returns the URI of this backend.
func (b *MemoryBackend) LocationURI() string { return "memory://" }

// Close stops the sweep goroutine.
func (b *MemoryBackend) Close() error {
	b.cancel()
	return nil
}

func (b *MemoryBackend) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *MemoryBackend) sweep() {
	now := time.Now()
	swept := 0

	b.mu.Lock()
	for key, rec := range b.records {
		if now.After(rec.expiresAt) {
			delete(b.records, key)
			swept++
		}
	}
	b.mu.Unlock()

	if swept > 0 {
		b.log.Debug("Swept expired records",
			slog.String("backend_name", b.Name()),
			slog.Int("count", swept))
	}
}
