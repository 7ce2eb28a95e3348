package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tabsplit/billsync/interfaces"
)

// ErrCodeInUse is returned when a second receiver tries to bind a code that
// already has both participants.
var ErrCodeInUse = errors.New("pairing code already in use")

// pairing is the transient per-code record. It lives only in memory for the
// duration of one relay process's connections.
type pairing struct {
	code      interfaces.PairingCode
	host      Channel
	guest     Channel
	createdAt time.Time
}

// PairingRegistry owns the live pairings keyed by code. It is injected
// into the relay handler so the relay's lifecycle and testability do not
// depend on process globals.
//
// Binding is an atomic check-and-set under one mutex: at most two channels
// ever bind to a code, and a consumed or torn-down code is never reusable.
type PairingRegistry struct {
	mu       sync.Mutex
	pairings map[interfaces.PairingCode]*pairing
}

// NewPairingRegistry creates an empty registry.
func NewPairingRegistry() *PairingRegistry {
	return &PairingRegistry{pairings: make(map[interfaces.PairingCode]*pairing)}
}

// Register creates a fresh pairing for host and returns its code.
func (r *PairingRegistry) Register(host Channel) (interfaces.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Collisions are unlikely at relay scale but codes are only 6 digits.
	for attempt := 0; attempt < 10; attempt++ {
		code, err := interfaces.NewPairingCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.pairings[code]; taken {
			continue
		}
		r.pairings[code] = &pairing{code: code, host: host, createdAt: time.Now()}
		return code, nil
	}
	return "", errors.New("could not allocate a pairing code")
}

// Join binds guest as the second participant of code and returns the host
// channel. An unknown or torn-down code fails with ErrNotFound. A code that
// already has two participants fails with ErrCodeInUse, an explicit
// rejection rather than a silent hang.
func (r *PairingRegistry) Join(code interfaces.PairingCode, guest Channel) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairings[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pairing code", interfaces.ErrNotFound)
	}
	if p.guest != nil {
		return nil, ErrCodeInUse
	}
	p.guest = guest
	return p.host, nil
}

// Peer returns the channel bound opposite self, or nil if the pairing is
// gone or not yet complete.
func (r *PairingRegistry) Peer(code interfaces.PairingCode, self Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairings[code]
	if !ok {
		return nil
	}
	switch self {
	case p.host:
		return p.guest
	case p.guest:
		return p.host
	default:
		return nil
	}
}

// Drop discards the pairing and returns the channel opposite self, if any.
// The code is dead afterwards: a fresh sync always requests a new one.
func (r *PairingRegistry) Drop(code interfaces.PairingCode, self Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairings[code]
	if !ok {
		return nil
	}
	delete(r.pairings, code)

	switch self {
	case p.host:
		return p.guest
	case p.guest:
		return p.host
	default:
		return nil
	}
}

// Len reports the number of live pairings.
func (r *PairingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairings)
}
