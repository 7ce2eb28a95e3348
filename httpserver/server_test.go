package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/api/keyapi"
	"github.com/tabsplit/billsync/api/shareapi"
	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/kvstore"
	"github.com/tabsplit/billsync/onetime"
	"github.com/tabsplit/billsync/relay"
	"github.com/tabsplit/billsync/sharesession"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := slog.Default()
	kv := kvstore.NewMemoryBackend(time.Minute, log)
	t.Cleanup(func() { kv.Close() })

	srv, err := New(
		&HTTPServerConfig{
			ListenAddr:               "127.0.0.1:0",
			Log:                      log,
			DrainDuration:            10 * time.Millisecond,
			GracefulShutdownDuration: time.Second,
		},
		keyapi.NewHandler(onetime.NewService(kv, log), log),
		shareapi.NewHandler(sharesession.NewService(kv, log), log),
		relay.NewHandler(relay.NewPairingRegistry(), log),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func mustCode(t *testing.T, raw string) interfaces.PairingCode {
	t.Helper()
	code, err := interfaces.ParsePairingCode(raw)
	require.NoError(t, err)
	return code
}

func getStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestServerHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, getStatus(t, ts.URL+"/livez"))
	assert.Equal(t, http.StatusOK, getStatus(t, ts.URL+"/readyz"))

	assert.Equal(t, http.StatusOK, getStatus(t, ts.URL+"/drain"))
	assert.Equal(t, http.StatusServiceUnavailable, getStatus(t, ts.URL+"/readyz"))

	assert.Equal(t, http.StatusOK, getStatus(t, ts.URL+"/undrain"))
	assert.Equal(t, http.StatusOK, getStatus(t, ts.URL+"/readyz"))
}

func TestServerMountsAPIs(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	keys := &keyapi.Client{ServerAddr: ts.URL}
	id, err := keys.Create(ctx, []byte("wrapped"))
	require.NoError(t, err)

	payload, err := keys.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped"), payload)

	shares := &shareapi.Client{ServerAddr: ts.URL}
	sid, version, err := shares.Create(ctx, []byte("ciphertext"))
	require.NoError(t, err)
	assert.Positive(t, version)

	snap, err := shares.Fetch(ctx, sid, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), snap.Ciphertext)
}

func TestServerRelayOverWebsocket(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"

	host, err := relay.DialWebsocket(ctx, endpoint, "")
	require.NoError(t, err)
	defer host.Close()

	created, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, relay.TypeSessionCreated, created.Type)

	guest, err := relay.DialWebsocket(ctx, endpoint, mustCode(t, created.Code))
	require.NoError(t, err)
	defer guest.Close()

	msg, err := host.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.TypePeerJoined, msg.Type)
	msg, err = guest.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.TypePeerJoined, msg.Type)

	require.NoError(t, guest.Send(ctx, relay.Message{Type: relay.TypeData, Payload: []byte("chunk")}))
	msg, err = host.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.TypeData, msg.Type)
	assert.Equal(t, []byte("chunk"), msg.Payload)
}

func TestRelayWebsocketReceiveUnblocksOnCancel(t *testing.T) {
	_, ts := newTestServer(t)
	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"

	host, err := relay.DialWebsocket(context.Background(), endpoint, "")
	require.NoError(t, err)
	defer host.Close()

	_, err = host.Receive(context.Background())
	require.NoError(t, err)

	// Cancellation without a deadline must still unblock the read.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = host.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Less(t, time.Since(start), 2*time.Second)
}
