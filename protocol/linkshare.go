package protocol

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/sharesession"
)

// FragmentSize is the length of the random link fragment secret in bytes.
const FragmentSize = 32

// ShareStore is the share session backend, satisfied by the shareapi
// client.
type ShareStore interface {
	Create(ctx context.Context, ciphertext []byte) (interfaces.SessionID, int64, error)
	Update(ctx context.Context, id interfaces.SessionID, ciphertext []byte) (int64, error)
	Fetch(ctx context.Context, id interfaces.SessionID, ifNewerThan int64) (*sharesession.Snapshot, error)
}

// KeyStore is the one-time secret backend, satisfied by the keyapi client.
type KeyStore interface {
	Create(ctx context.Context, payload []byte) (interfaces.SecretID, error)
	Consume(ctx context.Context, id interfaces.SecretID) ([]byte, error)
	Peek(ctx context.Context, id interfaces.SecretID) error
}

// ShareLink is everything a recipient needs to open a shared bill. The
// fragment is rendered after '#' so it never reaches a server. Recipient
// is the plaintext identifier kept in local keyring state; the rendered
// link carries SealedRecipient, encrypted under a fragment-derived key,
// so one link addresses one recipient's slice of the bill without the
// identifier ever travelling in the clear.
type ShareLink struct {
	SessionID       interfaces.SessionID `json:"session_id"`
	SecretID        interfaces.SecretID  `json:"secret_id"`
	Fragment        string               `json:"fragment"`
	Recipient       string               `json:"recipient,omitempty"`
	SealedRecipient string               `json:"sealed_recipient,omitempty"`
}

// URL renders the link against the given web base, for example
// https://app.example.com.
func (l ShareLink) URL(base string) string {
	u := strings.TrimRight(base, "/") + "/view/" + string(l.SessionID) +
		"?k=" + string(l.SecretID)
	if l.SealedRecipient != "" {
		u += "&r=" + l.SealedRecipient
	}
	return u + "#" + l.Fragment
}

// ParseShareLink extracts the link parts from a rendered URL.
func ParseShareLink(raw string) (ShareLink, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ShareLink{}, fmt.Errorf("%w: malformed link: %w", interfaces.ErrValidation, err)
	}

	idx := strings.LastIndex(u.Path, "/view/")
	if idx < 0 {
		return ShareLink{}, fmt.Errorf("%w: not a share link", interfaces.ErrValidation)
	}
	sessionID, err := interfaces.ParseSessionID(u.Path[idx+len("/view/"):])
	if err != nil {
		return ShareLink{}, err
	}
	secretID, err := interfaces.ParseSecretID(u.Query().Get("k"))
	if err != nil {
		return ShareLink{}, err
	}
	if u.Fragment == "" {
		return ShareLink{}, fmt.Errorf("%w: link is missing its key fragment", interfaces.ErrValidation)
	}

	link := ShareLink{SessionID: sessionID, SecretID: secretID, Fragment: u.Fragment}
	if sealed := u.Query().Get("r"); sealed != "" {
		fragment, err := base64.RawURLEncoding.DecodeString(u.Fragment)
		if err != nil {
			return ShareLink{}, fmt.Errorf("%w: malformed link fragment", interfaces.ErrValidation)
		}
		recipient, err := OpenRecipient(fragment, sealed)
		if err != nil {
			return ShareLink{}, err
		}
		link.Recipient = recipient
		link.SealedRecipient = sealed
	}
	return link, nil
}

// BillShareState is the locally persisted per-bill sharing state: the
// signing identity, the current content key, the live session and the
// links already handed out.
type BillShareState struct {
	SessionID  interfaces.SessionID `json:"session_id,omitempty"`
	SigningKey string               `json:"signing_key"`
	ContentKey string               `json:"content_key,omitempty"`
	Links      map[string]ShareLink `json:"links,omitempty"`
}

// KeyringStore persists BillShareState on the device.
type KeyringStore interface {
	Load(ctx context.Context, billID string) (*BillShareState, error)
	Save(ctx context.Context, billID string, state *BillShareState) error
}

// MemoryKeyring is an in-memory KeyringStore for tests and short-lived
// clients.
type MemoryKeyring struct {
	mu     sync.RWMutex
	states map[string]*BillShareState
}

func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{states: make(map[string]*BillShareState)}
}

func (k *MemoryKeyring) Load(ctx context.Context, billID string) (*BillShareState, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	state, ok := k.states[billID]
	if !ok {
		return nil, fmt.Errorf("%w: no sharing state for bill", interfaces.ErrNotFound)
	}
	copied := *state
	return &copied, nil
}

func (k *MemoryKeyring) Save(ctx context.Context, billID string, state *BillShareState) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	copied := *state
	k.states[billID] = &copied
	return nil
}

// LinkSharer runs the end-to-end link sharing flow: sign-then-encrypt the
// bill, publish the ciphertext as a share session, and mint one-time
// links that wrap the content key behind a URL-fragment secret.
type LinkSharer struct {
	shares  ShareStore
	keys    KeyStore
	keyring KeyringStore
	log     *slog.Logger
}

// NewLinkSharer creates a sharer over the given backends.
func NewLinkSharer(shares ShareStore, keys KeyStore, keyring KeyringStore, log *slog.Logger) *LinkSharer {
	if log == nil {
		log = slog.Default()
	}
	return &LinkSharer{shares: shares, keys: keys, keyring: keyring, log: log}
}

// Share publishes the current bill plaintext and returns a link for the
// recipient. An unconsumed earlier link for the same recipient is reused;
// otherwise a fresh one-time secret and fragment are minted. The content
// key rotates whenever no outstanding link still depends on it.
func (s *LinkSharer) Share(ctx context.Context, billID, recipient string, plaintext []byte) (ShareLink, error) {
	state, err := s.loadOrInitState(ctx, billID)
	if err != nil {
		return ShareLink{}, err
	}
	keypair, err := ParseSigningKeypair(state.SigningKey)
	if err != nil {
		return ShareLink{}, err
	}

	reuse := s.liveLink(ctx, state, recipient)
	if err := s.ensureContentKey(ctx, state); err != nil {
		return ShareLink{}, err
	}
	contentKey, err := ParseSymmetricKey(state.ContentKey)
	if err != nil {
		return ShareLink{}, err
	}

	ciphertext, err := SealSigned(contentKey, keypair, plaintext)
	if err != nil {
		return ShareLink{}, err
	}
	if err := s.publish(ctx, state, ciphertext); err != nil {
		return ShareLink{}, err
	}

	var link ShareLink
	if reuse != nil {
		link = *reuse
		link.SessionID = state.SessionID
	} else {
		link, err = s.mintLink(ctx, state.SessionID, recipient, contentKey)
		if err != nil {
			return ShareLink{}, err
		}
	}

	state.Links[recipient] = link
	if err := s.keyring.Save(ctx, billID, state); err != nil {
		return ShareLink{}, err
	}
	s.log.Info("Shared bill", slog.String("bill", billID), slog.String("session", string(link.SessionID)))
	return link, nil
}

// Open consumes the link's one-time secret, unwraps the content key,
// fetches the session ciphertext and verifies the embedded signature. A
// link that was already opened fails with ErrNotFound.
func (s *LinkSharer) Open(ctx context.Context, rawLink string) ([]byte, error) {
	link, err := ParseShareLink(rawLink)
	if err != nil {
		return nil, err
	}

	wrapped, err := s.keys.Consume(ctx, link.SecretID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: link is invalid or already used", interfaces.ErrNotFound)
		}
		return nil, err
	}

	fragment, err := base64.RawURLEncoding.DecodeString(link.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed link fragment", interfaces.ErrValidation)
	}
	contentKey, err := UnwrapContentKey(fragment, wrapped)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.shares.Fetch(ctx, link.SessionID, 0)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: shared bill has expired", interfaces.ErrNotFound)
		}
		return nil, err
	}

	payload, _, err := OpenSigned(contentKey, snapshot.Ciphertext)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *LinkSharer) loadOrInitState(ctx context.Context, billID string) (*BillShareState, error) {
	state, err := s.keyring.Load(ctx, billID)
	if errors.Is(err, interfaces.ErrNotFound) {
		keypair, err := GenerateSigningKeypair()
		if err != nil {
			return nil, err
		}
		state = &BillShareState{SigningKey: keypair.Export()}
	} else if err != nil {
		return nil, err
	}
	if state.Links == nil {
		state.Links = make(map[string]ShareLink)
	}
	return state, nil
}

// liveLink returns the recipient's existing link if its one-time secret
// is still unconsumed.
func (s *LinkSharer) liveLink(ctx context.Context, state *BillShareState, recipient string) *ShareLink {
	link, ok := state.Links[recipient]
	if !ok {
		return nil
	}
	if err := s.keys.Peek(ctx, link.SecretID); err != nil {
		return nil
	}
	return &link
}

// ensureContentKey rotates the content key unless an outstanding link
// still wraps the current one.
func (s *LinkSharer) ensureContentKey(ctx context.Context, state *BillShareState) error {
	if state.ContentKey != "" {
		for _, link := range state.Links {
			if s.keys.Peek(ctx, link.SecretID) == nil {
				return nil
			}
		}
	}
	key, err := GenerateSymmetricKey()
	if err != nil {
		return err
	}
	state.ContentKey = key.Export()
	// Links minted against the old key are dead either way.
	state.Links = make(map[string]ShareLink)
	return nil
}

// publish creates or updates the share session. An update against a
// session the server already expired falls back to creating a fresh one.
func (s *LinkSharer) publish(ctx context.Context, state *BillShareState, ciphertext []byte) error {
	if state.SessionID != "" {
		_, err := s.shares.Update(ctx, state.SessionID, ciphertext)
		if err == nil {
			return nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		s.log.Info("Share session expired, recreating", slog.String("session", string(state.SessionID)))
	}

	id, _, err := s.shares.Create(ctx, ciphertext)
	if err != nil {
		return err
	}
	state.SessionID = id
	return nil
}

func (s *LinkSharer) mintLink(ctx context.Context, sessionID interfaces.SessionID, recipient string, contentKey SymmetricKey) (ShareLink, error) {
	fragment := make([]byte, FragmentSize)
	if _, err := io.ReadFull(rand.Reader, fragment); err != nil {
		return ShareLink{}, fmt.Errorf("failed to generate link fragment: %w", err)
	}

	wrapped, err := WrapContentKey(fragment, contentKey)
	if err != nil {
		return ShareLink{}, err
	}
	sealed, err := SealRecipient(fragment, recipient)
	if err != nil {
		return ShareLink{}, err
	}
	secretID, err := s.keys.Create(ctx, wrapped)
	if err != nil {
		return ShareLink{}, err
	}

	return ShareLink{
		SessionID:       sessionID,
		SecretID:        secretID,
		Fragment:        base64.RawURLEncoding.EncodeToString(fragment),
		Recipient:       recipient,
		SealedRecipient: sealed,
	}, nil
}
