package relay

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/interfaces"
)

func receiveOne(t *testing.T, ch Channel) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := ch.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, Message{Type: TypeData, Payload: []byte("chunk-1")}))
	msg := receiveOne(t, b)
	assert.Equal(t, TypeData, msg.Type)
	assert.Equal(t, []byte("chunk-1"), msg.Payload)

	require.NoError(t, a.Close())
	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
}

func TestRegistryBindsCodeOnce(t *testing.T) {
	reg := NewPairingRegistry()
	host, _ := Pipe()
	guest, _ := Pipe()
	intruder, _ := Pipe()

	code, err := reg.Register(host)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	_, err = reg.Join(code, guest)
	require.NoError(t, err)

	_, err = reg.Join(code, intruder)
	assert.ErrorIs(t, err, ErrCodeInUse)

	unknown, err := interfaces.ParsePairingCode("000000")
	require.NoError(t, err)
	if unknown == code {
		t.Skip("collided with the generated code")
	}
	_, err = reg.Join(unknown, guest)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegistryDropNotifiesOpposite(t *testing.T) {
	reg := NewPairingRegistry()
	host, _ := Pipe()
	guest, _ := Pipe()

	code, err := reg.Register(host)
	require.NoError(t, err)
	_, err = reg.Join(code, guest)
	require.NoError(t, err)

	peer := reg.Drop(code, guest)
	assert.Equal(t, host, peer)
	assert.Equal(t, 0, reg.Len())

	// The code is dead once dropped.
	_, err = reg.Join(code, guest)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func startRelaySession(t *testing.T) (*Handler, Channel, Channel, interfaces.PairingCode) {
	t.Helper()
	h := NewHandler(NewPairingRegistry(), slog.Default())
	ctx := context.Background()

	hostCli, hostSrv := Pipe()
	go h.Serve(ctx, hostSrv, "")

	created := receiveOne(t, hostCli)
	require.Equal(t, TypeSessionCreated, created.Type)
	code, err := interfaces.ParsePairingCode(created.Code)
	require.NoError(t, err)

	guestCli, guestSrv := Pipe()
	go h.Serve(ctx, guestSrv, code.String())

	require.Equal(t, TypePeerJoined, receiveOne(t, hostCli).Type)
	require.Equal(t, TypePeerJoined, receiveOne(t, guestCli).Type)
	return h, hostCli, guestCli, code
}

func TestRelayForwardsBetweenPeers(t *testing.T) {
	h, hostCli, guestCli, _ := startRelaySession(t)
	ctx := context.Background()

	require.NoError(t, guestCli.Send(ctx, Message{Type: TypeKey, Payload: []byte("wrapped-key")}))
	msg := receiveOne(t, hostCli)
	assert.Equal(t, TypeKey, msg.Type)
	assert.Equal(t, []byte("wrapped-key"), msg.Payload)

	require.NoError(t, hostCli.Send(ctx, Message{Type: TypeData, Payload: []byte("ledger")}))
	msg = receiveOne(t, guestCli)
	assert.Equal(t, TypeData, msg.Type)
	assert.Equal(t, []byte("ledger"), msg.Payload)

	require.NoError(t, guestCli.Send(ctx, Message{Type: TypeSyncComplete}))
	assert.Equal(t, TypeSyncComplete, receiveOne(t, hostCli).Type)

	assert.Eventually(t, func() bool { return h.registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestRelayRejectsSecondGuest(t *testing.T) {
	h, _, _, code := startRelaySession(t)

	lateCli, lateSrv := Pipe()
	go h.Serve(context.Background(), lateSrv, code.String())

	msg := receiveOne(t, lateCli)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "pairing code already in use", msg.Reason)
}

func TestRelayNotifiesPeerDisconnect(t *testing.T) {
	h, hostCli, guestCli, _ := startRelaySession(t)

	require.NoError(t, guestCli.Close())
	assert.Equal(t, TypePeerDisconnected, receiveOne(t, hostCli).Type)
	assert.Eventually(t, func() bool { return h.registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestRelayRejectsMalformedCode(t *testing.T) {
	h := NewHandler(NewPairingRegistry(), slog.Default())
	cli, srv := Pipe()
	go h.Serve(context.Background(), srv, "not-a-code")

	msg := receiveOne(t, cli)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "invalid pairing code", msg.Reason)
}

func TestRelayCancellationEndsPairing(t *testing.T) {
	h, hostCli, guestCli, _ := startRelaySession(t)
	ctx := context.Background()

	require.NoError(t, hostCli.Send(ctx, Message{Type: TypeError, Reason: ReasonCancelled}))
	msg := receiveOne(t, guestCli)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, ReasonCancelled, msg.Reason)

	assert.Eventually(t, func() bool { return h.registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}
