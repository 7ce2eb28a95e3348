// Package sharesession implements the share session service: versioned
// ciphertext records backing persistent bill links.
//
// A session is created once per shared bill and updated in place on every
// re-share, so distributed links keep working for as long as the owner
// keeps re-encrypting. The TTL resets on every update; an abandoned link
// simply expires.
package sharesession

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

// TTL is the session window. It resets on every update, so an actively
// re-shared link lives indefinitely.
const TTL = 24 * time.Hour

// MaxCiphertextBytes limits how large a stored ciphertext can be.
const MaxCiphertextBytes = 1024 * 1024

const keyPrefix = "share:"

// Snapshot is the versioned ciphertext returned by Fetch.
type Snapshot struct {
	Ciphertext []byte
	Version    int64
}

// record is the stored form. gob keeps the version and ciphertext in one
// KV value so the pair stays consistent under last-write-wins updates.
type record struct {
	Ciphertext []byte
	Version    int64
}

// Service stores and serves share sessions on top of an ephemeral KV store.
type Service struct {
	store interfaces.KVStore
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates a share session service backed by store.
func NewService(store interfaces.KVStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Create stores ciphertext under a fresh session identifier with
// version = now.
func (s *Service) Create(ctx context.Context, ciphertext []byte) (interfaces.SessionID, int64, error) {
	if err := validateCiphertext(ciphertext); err != nil {
		return "", 0, err
	}

	id := interfaces.NewSessionID()
	version := s.now().UnixNano()
	if err := s.put(ctx, id, ciphertext, version); err != nil {
		return "", 0, err
	}

	s.log.Info("Share session created", slog.String("session_id", id.String()))
	return id, version, nil
}

// Update replaces the session's ciphertext and resets its TTL. It fails
// with ErrNotFound if the session expired or never existed; the owner then
// recreates via Create and redistributes a fresh identifier. That is a
// recoverable condition, not a fatal one.
//
// Concurrent updates on the same session resolve by last-write-wins on
// version; there is no merge.
func (s *Service) Update(ctx context.Context, id interfaces.SessionID, ciphertext []byte) (int64, error) {
	if err := validateCiphertext(ciphertext); err != nil {
		return 0, err
	}

	prev, err := s.get(ctx, id)
	if err != nil {
		return 0, err
	}

	version := s.now().UnixNano()
	if version <= prev.Version {
		// Clock read non-increasing; version must still strictly increase.
		version = prev.Version + 1
	}

	if err := s.put(ctx, id, ciphertext, version); err != nil {
		return 0, err
	}

	s.log.Info("Share session updated",
		slog.String("session_id", id.String()),
		slog.Int64("version", version))
	return version, nil
}

// Fetch returns the session's ciphertext and version. When ifNewerThan is
// non-zero and the stored version is not newer, Fetch returns
// ErrNotModified so a long-lived viewer can poll cheaply.
func (s *Service) Fetch(ctx context.Context, id interfaces.SessionID, ifNewerThan int64) (*Snapshot, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if ifNewerThan != 0 && rec.Version <= ifNewerThan {
		return nil, interfaces.ErrNotModified
	}

	return &Snapshot{Ciphertext: rec.Ciphertext, Version: rec.Version}, nil
}

func (s *Service) put(ctx context.Context, id interfaces.SessionID, ciphertext []byte, version int64) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record{Ciphertext: ciphertext, Version: version}); err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+id.String(), buf.Bytes(), TTL); err != nil {
		return fmt.Errorf("store session record: %w", err)
	}
	return nil
}

func (s *Service) get(ctx context.Context, id interfaces.SessionID) (*record, error) {
	data, err := s.store.Get(ctx, keyPrefix+id.String())
	if err != nil {
		return nil, err
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

func validateCiphertext(ciphertext []byte) error {
	if len(ciphertext) == 0 {
		return fmt.Errorf("%w: empty ciphertext", interfaces.ErrValidation)
	}
	if len(ciphertext) > MaxCiphertextBytes {
		return fmt.Errorf("%w: ciphertext exceeds %d bytes", interfaces.ErrValidation, MaxCiphertextBytes)
	}
	return nil
}
