package shareapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/tabsplit/billsync/api"
	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/sharesession"
)

// Client talks to a remote share session service.
type Client struct {
	// ServerAddr is the base URL of the sync server.
	ServerAddr string

	// HTTPClient overrides http.DefaultClient when set.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Create stores ciphertext as a fresh session.
func (c *Client) Create(ctx context.Context, ciphertext []byte) (interfaces.SessionID, int64, error) {
	resp, err := c.post(ctx, c.ServerAddr+"/api/v1/share", ciphertext)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", 0, responseError(resp)
	}

	var parsed api.CreateShareResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("could not parse create response: %w", err)
	}
	id, err := interfaces.ParseSessionID(parsed.ShareID)
	if err != nil {
		return "", 0, err
	}
	return id, parsed.Version, nil
}

// Update replaces the session's ciphertext, returning the new version.
// ErrNotFound means the session expired; the caller recreates it.
func (c *Client) Update(ctx context.Context, id interfaces.SessionID, ciphertext []byte) (int64, error) {
	resp, err := c.post(ctx, fmt.Sprintf("%s/api/v1/share/%s", c.ServerAddr, id), ciphertext)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp)
	}

	var parsed api.UpdateShareResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("could not parse update response: %w", err)
	}
	return parsed.Version, nil
}

// Fetch retrieves the session's ciphertext and version. With a non-zero
// ifNewerThan it returns ErrNotModified when the caller is already current.
func (c *Client) Fetch(ctx context.Context, id interfaces.SessionID, ifNewerThan int64) (*sharesession.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/share/%s", c.ServerAddr, id)
	if ifNewerThan != 0 {
		url = fmt.Sprintf("%s?%s=%d", url, api.IfNewerThanParam, ifNewerThan)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: share fetch: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, interfaces.ErrNotModified
	default:
		return nil, responseError(resp)
	}

	var parsed api.FetchShareResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse fetch response: %w", err)
	}
	return &sharesession.Snapshot{Ciphertext: parsed.Ciphertext, Version: parsed.Version}, nil
}

func (c *Client) post(ctx context.Context, url string, ciphertext []byte) (*http.Response, error) {
	body, err := json.Marshal(api.CreateShareRequest{Ciphertext: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: share request: %v", interfaces.ErrTransport, err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return interfaces.ErrNotFound
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("share endpoint returned non-200 response: %d", resp.StatusCode)
	}
	return fmt.Errorf("share endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
}

// MockShareStore implements the protocol engine's share store collaborator
// for testing. The behavior is determined by how the mock is configured.
type MockShareStore struct {
	mock.Mock
}

func (m *MockShareStore) Create(ctx context.Context, ciphertext []byte) (interfaces.SessionID, int64, error) {
	args := m.Called(ctx, ciphertext)
	return args.Get(0).(interfaces.SessionID), args.Get(1).(int64), args.Error(2)
}

func (m *MockShareStore) Update(ctx context.Context, id interfaces.SessionID, ciphertext []byte) (int64, error) {
	args := m.Called(ctx, id, ciphertext)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockShareStore) Fetch(ctx context.Context, id interfaces.SessionID, ifNewerThan int64) (*sharesession.Snapshot, error) {
	args := m.Called(ctx, id, ifNewerThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sharesession.Snapshot), args.Error(1)
}
