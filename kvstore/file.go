package kvstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*FileBackend)(nil)

// fileRecord is the on-disk envelope. The filesystem has no native TTL, so
// expiry travels with the value and is checked on read.
type fileRecord struct {
	Value     []byte
	ExpiresAt time.Time
}

// FileBackend implements a storage backend using the local file system.
// Records are stored one file per key, named by the hash of the key so
// arbitrary keys cannot escape the base directory.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified
// base directory, creating it if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get retrieves the value for key, removing and reporting absent any
// record past its expiry.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	rec, err := b.read(key)
	if err != nil {
		return nil, err
	}
	if time.Now().After(rec.ExpiresAt) {
		_ = b.Del(ctx, key)
		return nil, interfaces.ErrNotFound
	}
	return rec.Value, nil
}

// Set stores value under key until now+ttl.
func (b *FileBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", interfaces.ErrValidation)
	}

	var buf bytes.Buffer
	rec := fileRecord{Value: value, ExpiresAt: time.Now().Add(ttl)}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	path := b.filePath(key)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored record in file",
		slog.String("path", path),
		slog.Int("size", buf.Len()))
	return nil
}

// Del removes the record file for key. Absent keys are ignored.
func (b *FileBackend) Del(ctx context.Context, key string) error {
	err := os.Remove(b.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Exists reports whether key is present and unexpired.
func (b *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	rec, err := b.read(key)
	if err != nil {
		if err == interfaces.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return time.Now().Before(rec.ExpiresAt), nil
}

// Available checks whether the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	return err == nil
}

// Name returns the backend identifier for logging.
func (b *FileBackend) Name() string { return "file" }

// LocationURI returns the URI of this backend.
func (b *FileBackend) LocationURI() string { return b.locationURI }

func (b *FileBackend) read(key string) (*fileRecord, error) {
	data, err := os.ReadFile(b.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec fileRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

func (b *FileBackend) filePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.baseDir, hex.EncodeToString(sum[:]))
}
