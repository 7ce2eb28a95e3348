package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*VaultBackend)(nil)

// VaultBackend implements a storage backend using HashiCorp Vault's KV v2
// secrets engine. Vault has no per-secret TTL for KV data, so the expiry is
// stored next to the value and checked on read.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend using token
// authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; empty falls back to the VAULT_TOKEN environment variable
//   - mountPath: Vault mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "billsync")
//   - log: Structured logger for operational insights
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(address, "https://"), mountPath, dataPath),
	}, nil
}

// Get retrieves the value for key, treating secrets past their recorded
// expiry as absent.
func (b *VaultBackend) Get(ctx context.Context, key string) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(key))
	if err != nil {
		return nil, fmt.Errorf("%w: vault read: %v", interfaces.ErrTransport, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	if vaultDataExpired(data) {
		_ = b.Del(ctx, key)
		return nil, interfaces.ErrNotFound
	}

	encoded, ok := data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret has no value field")
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault value: %w", err)
	}
	return value, nil
}

// Set stores value under key with the expiry recorded alongside it.
func (b *VaultBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", interfaces.ErrValidation)
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"value":      base64.StdEncoding.EncodeToString(value),
			"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(key), payload); err != nil {
		return fmt.Errorf("%w: vault write: %v", interfaces.ErrTransport, err)
	}

	b.log.Debug("Stored record in Vault",
		slog.String("mount", b.mountPath),
		slog.Int("size", len(value)))
	return nil
}

// Del removes key and its version history. Absent keys are ignored.
func (b *VaultBackend) Del(ctx context.Context, key string) error {
	// KV v2 soft-deletes via the data path; the metadata path removes all
	// versions so a consumed secret cannot be recovered.
	if _, err := b.client.Logical().DeleteWithContext(ctx, b.metadataPath(key)); err != nil {
		return fmt.Errorf("%w: vault delete: %v", interfaces.ErrTransport, err)
	}
	return nil
}

// Exists reports whether key is present and unexpired.
func (b *VaultBackend) Exists(ctx context.Context, key string) (bool, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(key))
	if err != nil {
		return false, fmt.Errorf("%w: vault read: %v", interfaces.ErrTransport, err)
	}
	if secret == nil || secret.Data == nil {
		return false, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return false, nil
	}
	return !vaultDataExpired(data), nil
}

// Available checks whether the Vault server reports health.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	return err == nil && health != nil && !health.Sealed
}

// Name returns the backend identifier for logging.
func (b *VaultBackend) Name() string { return "vault" }

// LocationURI returns the URI of this backend.
func (b *VaultBackend) LocationURI() string { return b.locationURI }

func (b *VaultBackend) secretPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, hashKey(key))
}

func (b *VaultBackend) metadataPath(key string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, hashKey(key))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func vaultDataExpired(data map[string]interface{}) bool {
	raw, ok := data["expires_at"].(string)
	if !ok {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Now().After(expiresAt)
}
