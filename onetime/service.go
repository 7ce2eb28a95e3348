// Package onetime implements the one-time secret service: opaque blobs
// stored under random identifiers, readable destructively at most once.
//
// The sync and share protocols use it to hand a wrapped decryption key to
// exactly one recipient; the server can never replay or re-deliver a
// consumed secret. Rate limiting is an external collaborator's concern.
package onetime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

// TTL is the fixed lifetime of a one-time secret. A secret is removed by
// its first consume or by expiry, whichever comes first.
const TTL = 24 * time.Hour

// MaxPayloadBytes limits how large a stored payload can be. This is a
// safety valve to reduce DoS risk.
const MaxPayloadBytes = 64 * 1024

const keyPrefix = "otk:"

// Service stores and destructively serves one-time secrets on top of an
// ephemeral KV store.
type Service struct {
	store interfaces.KVStore
	log   *slog.Logger

	// consumeMu serializes consume's get+delete pair. The KV contract is
	// plain get/set/del/exists, so at-most-once is enforced here rather
	// than pushed into every backend.
	consumeMu sync.Mutex
}

// NewService creates a one-time secret service backed by store.
func NewService(store interfaces.KVStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

// Create stores payload under a fresh random identifier with the fixed TTL.
func (s *Service) Create(ctx context.Context, payload []byte) (interfaces.SecretID, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", interfaces.ErrValidation)
	}
	if len(payload) > MaxPayloadBytes {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", interfaces.ErrValidation, MaxPayloadBytes)
	}

	id := interfaces.NewSecretID()
	if err := s.store.Set(ctx, keyPrefix+id.String(), payload, TTL); err != nil {
		return "", fmt.Errorf("store one-time secret: %w", err)
	}

	s.log.Info("One-time secret created", slog.String("secret_id", id.String()))
	return id, nil
}

// Consume atomically fetches and deletes the secret. A second consume of
// the same identifier always fails with ErrNotFound, as does a consume of
// an expired or never-stored identifier.
func (s *Service) Consume(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	s.consumeMu.Lock()
	defer s.consumeMu.Unlock()

	key := keyPrefix + id.String()
	payload, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Delete before returning: if the delete fails the secret must not be
	// handed out, otherwise a retry could read it twice.
	if err := s.store.Del(ctx, key); err != nil {
		return nil, fmt.Errorf("delete consumed secret: %w", err)
	}

	s.log.Info("One-time secret consumed", slog.String("secret_id", id.String()))
	return payload, nil
}

// Peek reports availability without consuming. It never changes the result
// of a subsequent Consume.
func (s *Service) Peek(ctx context.Context, id interfaces.SecretID) error {
	ok, err := s.store.Exists(ctx, keyPrefix+id.String())
	if err != nil {
		return fmt.Errorf("peek one-time secret: %w", err)
	}
	if !ok {
		return interfaces.ErrNotFound
	}
	return nil
}
