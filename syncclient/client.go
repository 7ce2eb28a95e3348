package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/protocol"
	"github.com/tabsplit/billsync/relay"
)

// DefaultConnectTimeout bounds how long a device waits for its peer to
// show up before giving up on the pairing.
const DefaultConnectTimeout = 2 * time.Minute

// ErrDeclined is returned on both sides when the receiving user rejects
// the overwrite confirmation. The machine is back in StateIdle when it
// surfaces.
var ErrDeclined = errors.New("sync declined by receiving user")

// ErrBusy is returned when a transfer is already running on this client.
var ErrBusy = fmt.Errorf("%w: a sync transfer is already in progress", interfaces.ErrConflict)

// Config assembles a sync client. Dialer, Vault and Prompt are required;
// QR is optional and only used to render and scan pairing codes.
type Config struct {
	Dialer         Dialer
	Vault          DataVault
	Prompt         ConfirmPrompt
	QR             QRCodec
	Log            *slog.Logger
	OnState        func(State)
	ConnectTimeout time.Duration
}

// Client runs one side of a device sync. A single client handles one
// transfer at a time; concurrent Send/Receive calls fail with ErrBusy.
type Client struct {
	dialer         Dialer
	vault          DataVault
	prompt         ConfirmPrompt
	qr             QRCodec
	machine        *Machine
	log            *slog.Logger
	connectTimeout time.Duration
	busy           atomic.Bool
}

// New creates a sync client in StateIdle.
func New(cfg Config) *Client {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Client{
		dialer:         cfg.Dialer,
		vault:          cfg.Vault,
		prompt:         cfg.Prompt,
		qr:             cfg.QR,
		machine:        NewMachine(log, cfg.OnState),
		log:            log,
		connectTimeout: timeout,
	}
}

// State returns the machine's current state.
func (c *Client) State() State {
	return c.machine.State()
}

// Reset returns a complete or errored client to idle.
func (c *Client) Reset() error {
	return c.machine.Fire(EventReset)
}

// PairingHandoff carries a fresh pairing code for display on the sending
// device. QR is nil when no codec is configured.
type PairingHandoff struct {
	Code string
	QR   []byte
}

// Send exports the full dataset and pushes it to the peer that joins
// with the pairing code. onPairing is called once the relay assigns a
// code, before any peer exists.
func (c *Client) Send(ctx context.Context, onPairing func(PairingHandoff)) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	if err := c.machine.Fire(EventStart); err != nil {
		return err
	}
	if err := c.send(ctx, onPairing); err != nil {
		if !errors.Is(err, ErrDeclined) {
			c.machine.fail(err)
		}
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, onPairing func(PairingHandoff)) error {
	ch, err := c.dialer.Connect(ctx, "")
	if err != nil {
		return err
	}
	defer ch.Close()

	msg, err := c.awaitMessage(ctx, ch, c.connectTimeout)
	if err != nil {
		return err
	}
	if msg.Type != relay.TypeSessionCreated {
		return unexpectedMessage(msg)
	}
	if err := c.machine.Fire(EventSessionCreated); err != nil {
		return err
	}
	c.log.Info("Pairing code assigned", slog.String("code", msg.Code))

	if onPairing != nil {
		handoff := PairingHandoff{Code: msg.Code}
		if c.qr != nil {
			img, err := c.qr.Encode(msg.Code)
			if err != nil {
				c.log.Warn("Failed to render pairing QR", "err", err)
			} else {
				handoff.QR = img
			}
		}
		onPairing(handoff)
	}

	msg, err = c.awaitMessage(ctx, ch, c.connectTimeout)
	if err != nil {
		return err
	}
	if msg.Type != relay.TypePeerJoined {
		return unexpectedMessage(msg)
	}
	if err := c.machine.Fire(EventPeerJoined); err != nil {
		return err
	}
	if err := c.machine.Fire(EventSendStarted); err != nil {
		return err
	}

	key, err := protocol.GenerateSymmetricKey()
	if err != nil {
		return err
	}
	data, err := c.vault.ExportAll(ctx)
	if err != nil {
		return err
	}
	ciphertext, err := protocol.Encrypt(key, data)
	if err != nil {
		return err
	}

	if err := ch.Send(ctx, relay.Message{Type: relay.TypeKey, Payload: []byte(key.Export())}); err != nil {
		return err
	}
	if err := ch.Send(ctx, relay.Message{Type: relay.TypeData, Payload: ciphertext}); err != nil {
		return err
	}

	// The peer is now decrypting and asking its user to confirm; only the
	// caller's context bounds the wait.
	msg, err = c.awaitMessage(ctx, ch, 0)
	if err != nil {
		return err
	}
	switch msg.Type {
	case relay.TypeSyncComplete:
		return c.machine.Fire(EventCompleted)
	case relay.TypeError:
		if msg.Reason == relay.ReasonCancelled {
			if err := c.machine.Fire(EventDeclined); err != nil {
				return err
			}
			return ErrDeclined
		}
		return fmt.Errorf("%w: peer reported: %s", interfaces.ErrTransport, msg.Reason)
	case relay.TypePeerDisconnected:
		return fmt.Errorf("%w: peer disconnected before completing", interfaces.ErrTransport)
	default:
		return unexpectedMessage(msg)
	}
}

// Receive joins the pairing identified by code, decrypts the incoming
// dataset and replaces local data after the user confirms.
func (c *Client) Receive(ctx context.Context, code string) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	if err := c.machine.Fire(EventStart); err != nil {
		return err
	}
	if err := c.receive(ctx, code); err != nil {
		if !errors.Is(err, ErrDeclined) {
			c.machine.fail(err)
		}
		return err
	}
	return nil
}

// ReceiveQR decodes a scanned pairing QR image and joins with the code
// it carries.
func (c *Client) ReceiveQR(ctx context.Context, image []byte) error {
	if c.qr == nil {
		return fmt.Errorf("%w: no QR codec configured", interfaces.ErrValidation)
	}
	code, err := c.qr.Decode(image)
	if err != nil {
		return fmt.Errorf("%w: unreadable pairing QR: %w", interfaces.ErrValidation, err)
	}
	return c.Receive(ctx, code)
}

func (c *Client) receive(ctx context.Context, code string) error {
	ch, err := c.dialer.Connect(ctx, code)
	if err != nil {
		return err
	}
	defer ch.Close()

	msg, err := c.awaitMessage(ctx, ch, c.connectTimeout)
	if err != nil {
		return err
	}
	if msg.Type != relay.TypePeerJoined {
		return unexpectedMessage(msg)
	}
	if err := c.machine.Fire(EventPeerJoined); err != nil {
		return err
	}
	if err := c.machine.Fire(EventReceiveStarted); err != nil {
		return err
	}

	msg, err = c.awaitMessage(ctx, ch, c.connectTimeout)
	if err != nil {
		return err
	}
	if msg.Type != relay.TypeKey {
		return unexpectedMessage(msg)
	}
	key, err := protocol.ParseSymmetricKey(string(msg.Payload))
	if err != nil {
		return err
	}

	msg, err = c.awaitMessage(ctx, ch, c.connectTimeout)
	if err != nil {
		return err
	}
	if msg.Type != relay.TypeData {
		return unexpectedMessage(msg)
	}
	plaintext, err := protocol.Decrypt(key, msg.Payload)
	if err != nil {
		return err
	}
	if err := c.machine.Fire(EventDataReceived); err != nil {
		return err
	}

	confirmed, err := c.prompt.Confirm(ctx,
		"Replace local data?",
		"Syncing will replace all bills on this device with the sender's data.")
	if err != nil {
		return err
	}
	if !confirmed {
		_ = ch.Send(ctx, relay.Message{Type: relay.TypeError, Reason: relay.ReasonCancelled})
		if err := c.machine.Fire(EventDeclined); err != nil {
			return err
		}
		return ErrDeclined
	}

	if err := c.vault.ImportAll(ctx, plaintext); err != nil {
		_ = ch.Send(ctx, relay.Message{Type: relay.TypeError, Reason: "import failed"})
		return err
	}
	if err := ch.Send(ctx, relay.Message{Type: relay.TypeSyncComplete}); err != nil {
		return err
	}
	return c.machine.Fire(EventCompleted)
}

func (c *Client) awaitMessage(ctx context.Context, ch relay.Channel, timeout time.Duration) (relay.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return ch.Receive(ctx)
}

func unexpectedMessage(msg relay.Message) error {
	if msg.Type == relay.TypeError {
		return fmt.Errorf("%w: relay error: %s", interfaces.ErrTransport, msg.Reason)
	}
	if msg.Type == relay.TypePeerDisconnected {
		return fmt.Errorf("%w: peer disconnected", interfaces.ErrTransport)
	}
	return fmt.Errorf("%w: unexpected %s message", interfaces.ErrTransport, msg.Type)
}
