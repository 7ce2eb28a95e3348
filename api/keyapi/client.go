package keyapi

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
)

// Client talks to a remote one-time secret service.
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

// Create stores payload as a one-time secret and returns its identifier.
func (c *Client) Create(ctx context.Context, payload []byte) (interfaces.SecretID, error) {
	body, err := json.Marshal(api.CreateSecretRequest{EncryptedPayload: payload})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+"/api/v1/onetime-key", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: onetime-key create: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", responseError(resp)
	}

	var parsed api.CreateSecretResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("could not parse create response: %w", err)
	}
	return interfaces.ParseSecretID(parsed.KeyID)
}

// Consume destructively reads the secret: the server deletes it before
// responding, so a retry always fails.
func (c *Client) Consume(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/onetime-key/%s", c.ServerAddr, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: onetime-key consume: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var parsed api.SecretPayloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse consume response: %w", err)
	}
	return parsed.EncryptedPayload, nil
}

// Peek checks availability without consuming.
func (c *Client) Peek(ctx context.Context, id interfaces.SecretID) error {
	url := fmt.Sprintf("%s/api/v1/onetime-key/%s/status", c.ServerAddr, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: onetime-key status: %v", interfaces.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

func responseError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return interfaces.ErrNotFound
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("onetime-key endpoint returned non-200 response: %d", resp.StatusCode)
	}
	return fmt.Errorf("onetime-key endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
}

// MockKeyStore implements the protocol engine's key store collaborator for
// testing. The behavior is determined by how the mock is configured.
type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) Create(ctx context.Context, payload []byte) (interfaces.SecretID, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(interfaces.SecretID), args.Error(1)
}

func (m *MockKeyStore) Consume(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockKeyStore) Peek(ctx context.Context, id interfaces.SecretID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
