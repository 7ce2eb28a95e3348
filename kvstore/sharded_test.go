package kvstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/billsync/interfaces"
)

// MockBackend implements interfaces.KVStore for testing
type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockBackend) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBackend) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBackend) Name() string { return m.name }

func (m *MockBackend) LocationURI() string { return "mock://" + m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writerIndex mirrors the sharded store's routing so tests can know which
// backend a key's writes land on.
func writerIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func TestShardedStore_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{name: "all backends available", backends: []bool{true, true, true}, expected: true},
		{name: "some backends available", backends: []bool{false, true, false}, expected: true},
		{name: "no backends available", backends: []bool{false, false, false}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.KVStore
			for i, available := range tt.backends {
				b := &MockBackend{name: fmt.Sprintf("backend-%d", i)}
				b.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, b)
			}

			store, err := NewShardedStore(backends, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, store.Available(context.Background()))
		})
	}
}

func TestShardedStore_Get_FirstSuccessWins(t *testing.T) {
	down := &MockBackend{name: "down"}
	down.On("Get", mock.Anything, "k1").Return(nil, errors.New("connection refused"))

	up := &MockBackend{name: "up"}
	up.On("Get", mock.Anything, "k1").Return([]byte("value"), nil)

	store, err := NewShardedStore([]interfaces.KVStore{down, up}, testLogger())
	require.NoError(t, err)

	value, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}

func TestShardedStore_Get_AbsentOnlyWhenAllAbsentOrErrored(t *testing.T) {
	absent := &MockBackend{name: "absent"}
	absent.On("Get", mock.Anything, "k1").Return(nil, interfaces.ErrNotFound)

	broken := &MockBackend{name: "broken"}
	broken.On("Get", mock.Anything, "k1").Return(nil, errors.New("timeout"))

	store, err := NewShardedStore([]interfaces.KVStore{absent, broken}, testLogger())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestShardedStore_Set_RoutesToDesignatedBackend(t *testing.T) {
	backends := []interfaces.KVStore{
		&MockBackend{name: "backend-0"},
		&MockBackend{name: "backend-1"},
		&MockBackend{name: "backend-2"},
	}

	key := "some-session-key"
	writer := writerIndex(key, len(backends))
	backends[writer].(*MockBackend).
		On("Set", mock.Anything, key, []byte("v"), time.Minute).Return(nil)

	store, err := NewShardedStore(backends, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), key, []byte("v"), time.Minute))

	// The non-designated backends must never see the write.
	for i, b := range backends {
		if i == writer {
			b.(*MockBackend).AssertExpectations(t)
		} else {
			b.(*MockBackend).AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		}
	}
}

func TestShardedStore_Set_PropagatesDesignatedBackendError(t *testing.T) {
	backends := []interfaces.KVStore{
		&MockBackend{name: "backend-0"},
		&MockBackend{name: "backend-1"},
	}

	key := "another-key"
	writer := writerIndex(key, len(backends))
	backends[writer].(*MockBackend).
		On("Set", mock.Anything, key, []byte("v"), time.Minute).
		Return(errors.New("disk full"))

	store, err := NewShardedStore(backends, testLogger())
	require.NoError(t, err)

	err = store.Set(context.Background(), key, []byte("v"), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestShardedStore_Del_RoutesToDesignatedBackend(t *testing.T) {
	backends := []interfaces.KVStore{
		&MockBackend{name: "backend-0"},
		&MockBackend{name: "backend-1"},
	}

	key := "delete-me"
	writer := writerIndex(key, len(backends))
	backends[writer].(*MockBackend).On("Del", mock.Anything, key).Return(nil)

	store, err := NewShardedStore(backends, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Del(context.Background(), key))
	backends[writer].(*MockBackend).AssertExpectations(t)
}

func TestShardedStore_Exists_FirstAffirmativeWins(t *testing.T) {
	missing := &MockBackend{name: "missing"}
	missing.On("Exists", mock.Anything, "k1").Return(false, nil)

	holding := &MockBackend{name: "holding"}
	holding.On("Exists", mock.Anything, "k1").Return(true, nil)

	store, err := NewShardedStore([]interfaces.KVStore{missing, holding}, testLogger())
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewShardedStore_RequiresBackends(t *testing.T) {
	_, err := NewShardedStore(nil, testLogger())
	assert.Error(t, err)
}
