package syncclient

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is the sync flow position. Both roles share one machine; the
// sender passes through waiting and sending, the receiver through
// receiving and confirming.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateWaiting    State = "waiting"
	StateConnected  State = "connected"
	StateSending    State = "sending"
	StateReceiving  State = "receiving"
	StateConfirming State = "confirming"
	StateComplete   State = "complete"
	StateErrored    State = "errored"
)

// Event advances the machine.
type Event string

const (
	EventStart          Event = "start"
	EventSessionCreated Event = "session_created"
	EventPeerJoined     Event = "peer_joined"
	EventSendStarted    Event = "send_started"
	EventReceiveStarted Event = "receive_started"
	EventDataReceived   Event = "data_received"
	EventDeclined       Event = "declined"
	EventCompleted      Event = "completed"
	EventFailed         Event = "failed"
	EventReset          Event = "reset"
)

// transitions is the complete legal transition table. Anything not listed
// is rejected.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateConnecting,
	},
	StateConnecting: {
		EventSessionCreated: StateWaiting,
		EventPeerJoined:     StateConnected,
		EventFailed:         StateErrored,
	},
	StateWaiting: {
		EventPeerJoined: StateConnected,
		EventFailed:     StateErrored,
	},
	StateConnected: {
		EventSendStarted:    StateSending,
		EventReceiveStarted: StateReceiving,
		EventFailed:         StateErrored,
	},
	StateSending: {
		EventCompleted: StateComplete,
		EventDeclined:  StateIdle,
		EventFailed:    StateErrored,
	},
	StateReceiving: {
		EventDataReceived: StateConfirming,
		EventFailed:       StateErrored,
	},
	StateConfirming: {
		EventCompleted: StateComplete,
		EventDeclined:  StateIdle,
		EventFailed:    StateErrored,
	},
	StateComplete: {
		EventReset: StateIdle,
	},
	StateErrored: {
		EventReset: StateIdle,
	},
}

// Machine is a thread-safe sync state machine. All transitions funnel
// through Fire so illegal ones surface as errors instead of silent state
// corruption.
type Machine struct {
	mu       sync.Mutex
	state    State
	log      *slog.Logger
	onChange func(State)
}

// NewMachine returns a machine in StateIdle. onChange, if non-nil, is
// called after every transition with the new state, outside hot paths but
// under the machine lock; keep it fast.
func NewMachine(log *slog.Logger, onChange func(State)) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{state: StateIdle, log: log, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event to the current state. Illegal transitions leave the
// state untouched and return an error.
func (m *Machine) Fire(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][event]
	if !ok {
		return fmt.Errorf("illegal sync transition: %s in state %s", event, m.state)
	}

	m.log.Debug("Sync state change",
		slog.String("from", string(m.state)),
		slog.String("event", string(event)),
		slog.String("to", string(next)))
	m.state = next
	if m.onChange != nil {
		m.onChange(next)
	}
	return nil
}

// fail forces the errored transition where legal and logs the cause.
// From terminal or idle states it is a no-op.
func (m *Machine) fail(err error) {
	if ferr := m.Fire(EventFailed); ferr != nil {
		return
	}
	m.log.Error("Sync failed", "err", err)
}
