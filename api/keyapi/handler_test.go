package keyapi

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/kvstore"
	"github.com/tabsplit/billsync/onetime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kvstore.NewMemoryBackend(time.Minute, logger)
	t.Cleanup(func() { store.Close() })

	router := chi.NewRouter()
	NewHandler(onetime.NewService(store, logger), logger).Mount(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlerAndClient_RoundTrip(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}
	ctx := context.Background()

	id, err := client.Create(ctx, []byte("wrapped key material"))
	require.NoError(t, err)

	require.NoError(t, client.Peek(ctx, id))

	payload, err := client.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped key material"), payload)
}

func TestHandlerAndClient_SecondConsumeIs404(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}
	ctx := context.Background()

	id, err := client.Create(ctx, []byte("payload"))
	require.NoError(t, err)

	_, err = client.Consume(ctx, id)
	require.NoError(t, err)

	_, err = client.Consume(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, client.Peek(ctx, id), interfaces.ErrNotFound)
}

func TestHandlerAndClient_StatusNeverConsumes(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}
	ctx := context.Background()

	id, err := client.Create(ctx, []byte("payload"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Peek(ctx, id))
	}

	_, err = client.Consume(ctx, id)
	assert.NoError(t, err)
}

func TestHandler_RejectsMalformedID(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}

	_, err := client.Consume(context.Background(), interfaces.SecretID("not-a-uuid"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)
}

func TestClient_UnknownIDIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}

	_, err := client.Consume(context.Background(), interfaces.NewSecretID())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
