package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/relay"
)

// pipeDialer connects clients to an in-process relay handler.
type pipeDialer struct {
	handler *relay.Handler
}

func (d *pipeDialer) Connect(ctx context.Context, code string) (relay.Channel, error) {
	cli, srv := relay.Pipe()
	go d.handler.Serve(context.Background(), srv, code)
	return cli, nil
}

type memVault struct {
	mu       sync.Mutex
	data     []byte
	imported []byte
}

func (v *memVault) ExportAll(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.data...), nil
}

func (v *memVault) ImportAll(ctx context.Context, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.imported = append([]byte(nil), data...)
	v.data = v.imported
	return nil
}

type stubPrompt struct {
	answer bool
	asked  bool
}

func (p *stubPrompt) Confirm(ctx context.Context, title, body string) (bool, error) {
	p.asked = true
	return p.answer, nil
}

type stubQR struct{}

func (stubQR) Encode(code string) ([]byte, error)   { return []byte("qr:" + code), nil }
func (stubQR) Decode(image []byte) (string, error)  { return strings.TrimPrefix(string(image), "qr:"), nil }

func newSyncPair(t *testing.T, accept bool) (*Client, *Client, *memVault, *memVault) {
	t.Helper()
	dialer := &pipeDialer{handler: relay.NewHandler(relay.NewPairingRegistry(), slog.Default())}

	senderVault := &memVault{data: []byte(`{"bills":["dinner","trip"]}`)}
	receiverVault := &memVault{data: []byte(`{"bills":["stale"]}`)}

	sender := New(Config{
		Dialer:         dialer,
		Vault:          senderVault,
		Prompt:         &stubPrompt{},
		QR:             stubQR{},
		ConnectTimeout: 5 * time.Second,
	})
	receiver := New(Config{
		Dialer:         dialer,
		Vault:          receiverVault,
		Prompt:         &stubPrompt{answer: accept},
		QR:             stubQR{},
		ConnectTimeout: 5 * time.Second,
	})
	return sender, receiver, senderVault, receiverVault
}

// runSync drives a full transfer and returns both final errors.
func runSync(t *testing.T, sender, receiver *Client) (error, error) {
	t.Helper()
	codeCh := make(chan string, 1)
	senderErr := make(chan error, 1)

	go func() {
		senderErr <- sender.Send(context.Background(), func(h PairingHandoff) {
			codeCh <- h.Code
		})
	}()

	var code string
	select {
	case code = <-codeCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the pairing code")
	}

	recvErr := receiver.Receive(context.Background(), code)

	select {
	case err := <-senderErr:
		return err, recvErr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the sender to finish")
		return nil, nil
	}
}

func TestSyncEndToEnd(t *testing.T) {
	sender, receiver, senderVault, receiverVault := newSyncPair(t, true)

	sendErr, recvErr := runSync(t, sender, receiver)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.Equal(t, StateComplete, sender.State())
	assert.Equal(t, StateComplete, receiver.State())
	assert.Equal(t, senderVault.data, receiverVault.imported)

	require.NoError(t, sender.Reset())
	assert.Equal(t, StateIdle, sender.State())
}

func TestSyncDeclinedReturnsBothToIdle(t *testing.T) {
	sender, receiver, _, receiverVault := newSyncPair(t, false)

	sendErr, recvErr := runSync(t, sender, receiver)
	assert.ErrorIs(t, sendErr, ErrDeclined)
	assert.ErrorIs(t, recvErr, ErrDeclined)

	assert.Equal(t, StateIdle, sender.State())
	assert.Equal(t, StateIdle, receiver.State())
	assert.Nil(t, receiverVault.imported)
}

func TestSyncCodeIsSingleUse(t *testing.T) {
	sender, receiver, _, _ := newSyncPair(t, true)

	codeCh := make(chan string, 1)
	senderErr := make(chan error, 1)
	go func() {
		senderErr <- sender.Send(context.Background(), func(h PairingHandoff) { codeCh <- h.Code })
	}()
	code := <-codeCh

	require.NoError(t, receiver.Receive(context.Background(), code))
	require.NoError(t, <-senderErr)

	// Re-join through the same relay with the consumed code. The pairing
	// is torn down right after the completion forward, so give it a beat.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, receiver.Reset())
	err := receiver.Receive(context.Background(), code)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Equal(t, StateErrored, receiver.State())
}

func TestReceiveQRDecodesCode(t *testing.T) {
	sender, receiver, senderVault, receiverVault := newSyncPair(t, true)

	codeCh := make(chan string, 1)
	senderErr := make(chan error, 1)
	go func() {
		senderErr <- sender.Send(context.Background(), func(h PairingHandoff) {
			codeCh <- string(h.QR)
		})
	}()
	qr := <-codeCh

	require.NoError(t, receiver.ReceiveQR(context.Background(), []byte(qr)))
	require.NoError(t, <-senderErr)
	assert.Equal(t, senderVault.data, receiverVault.imported)
}

func TestSendRejectsConcurrentTransfer(t *testing.T) {
	release := make(chan struct{})
	dialer := &blockingDialer{release: release}
	client := New(Config{
		Dialer:         dialer,
		Vault:          &memVault{},
		Prompt:         &stubPrompt{},
		ConnectTimeout: time.Second,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- client.Send(context.Background(), nil) }()

	assert.Eventually(t, func() bool { return client.State() == StateConnecting },
		2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, client.Send(context.Background(), nil), ErrBusy)
	assert.ErrorIs(t, client.Receive(context.Background(), "123456"), ErrBusy)

	close(release)
	<-errCh
}

// blockingDialer parks Connect until released, then fails.
type blockingDialer struct {
	release chan struct{}
}

func (d *blockingDialer) Connect(ctx context.Context, code string) (relay.Channel, error) {
	<-d.release
	return nil, errors.New("dialer released")
}

func TestSendTimesOutWaitingForPeer(t *testing.T) {
	dialer := &pipeDialer{handler: relay.NewHandler(relay.NewPairingRegistry(), slog.Default())}
	sender := New(Config{
		Dialer:         dialer,
		Vault:          &memVault{data: []byte("x")},
		Prompt:         &stubPrompt{},
		ConnectTimeout: 100 * time.Millisecond,
	})

	err := sender.Send(context.Background(), nil)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Equal(t, StateErrored, sender.State())

	require.NoError(t, sender.Reset())
	assert.Equal(t, StateIdle, sender.State())
}
