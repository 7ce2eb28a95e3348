package shareapi

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
	"github.com/tabsplit/billsync/sharesession"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kvstore.NewMemoryBackend(time.Minute, logger)
	t.Cleanup(func() { store.Close() })

	router := chi.NewRouter()
	NewHandler(sharesession.NewService(store, logger), logger).Mount(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlerAndClient_CreateFetchUpdate(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}
	ctx := context.Background()

	id, v1, err := client.Create(ctx, []byte("ciphertext-v1"))
	require.NoError(t, err)

	snap, err := client.Fetch(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext-v1"), snap.Ciphertext)
	assert.Equal(t, v1, snap.Version)

	v2, err := client.Update(ctx, id, []byte("ciphertext-v2"))
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	snap, err = client.Fetch(ctx, id, v1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext-v2"), snap.Ciphertext)
}

func TestHandlerAndClient_ConditionalFetch304(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}
	ctx := context.Background()

	id, _, err := client.Create(ctx, []byte("c1"))
	require.NoError(t, err)

	v2, err := client.Update(ctx, id, []byte("c2"))
	require.NoError(t, err)

	_, err = client.Fetch(ctx, id, v2)
	assert.ErrorIs(t, err, interfaces.ErrNotModified)
}

func TestHandlerAndClient_UpdateExpiredSessionIs404(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}

	_, err := client.Update(context.Background(), interfaces.NewSessionID(), []byte("c"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestHandler_RejectsMalformedID(t *testing.T) {
	srv := newTestServer(t)
	client := &Client{ServerAddr: srv.URL}

	_, err := client.Fetch(context.Background(), interfaces.SessionID("not-a-uuid"), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)
}
