// Package vault resolves exchange credentials from HashiCorp Vault KV v2.
// When vault is disabled the client degrades to an in-memory map so the
// supervisor can fall back to credentials stored on the exchanges table.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"ai-futures-trader/config"
)

// Credentials is one exchange account's secret material.
type Credentials struct {
	APIKey        string `json:"api_key"`
	SecretKey     string `json:"secret_key"`
	WalletAddress string `json:"wallet_address"`
	Testnet       bool   `json:"testnet"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]*Credentials // exchange ID -> credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*Credentials),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*Credentials),
	}, nil
}

// NewDisabledClient creates a client that only serves its in-memory map.
func NewDisabledClient() *Client {
	return &Client{
		config: config.VaultConfig{Enabled: false},
		cache:  make(map[string]*Credentials),
	}
}

// StoreCredentials stores credentials for an exchange account
func (c *Client) StoreCredentials(ctx context.Context, exchangeID string, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[exchangeID] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":        creds.APIKey,
			"secret_key":     creds.SecretKey,
			"wallet_address": creds.WalletAddress,
			"testnet":        creds.Testnet,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(exchangeID), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[exchangeID] = &creds
	c.mu.Unlock()

	return nil
}

// GetCredentials retrieves credentials for an exchange account
func (c *Client) GetCredentials(ctx context.Context, exchangeID string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[exchangeID]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials not found and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(exchangeID))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:        getString(data, "api_key"),
		SecretKey:     getString(data, "secret_key"),
		WalletAddress: getString(data, "wallet_address"),
		Testnet:       getBool(data, "testnet"),
	}

	c.mu.Lock()
	c.cache[exchangeID] = creds
	c.mu.Unlock()

	return creds, nil
}

// DeleteCredentials removes credentials for an exchange account
func (c *Client) DeleteCredentials(ctx context.Context, exchangeID string) error {
	c.mu.Lock()
	delete(c.cache, exchangeID)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(exchangeID)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}

	return nil
}

// InvalidateCache drops the cached entry for an exchange account
func (c *Client) InvalidateCache(exchangeID string) {
	c.mu.Lock()
	delete(c.cache, exchangeID)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for an exchange account
func (c *Client) secretPath(exchangeID string) string {
	return fmt.Sprintf("%s/data/exchanges/%s", c.config.MountPath, exchangeID)
}

// metadataPath returns the KV v2 metadata path for an exchange account
func (c *Client) metadataPath(exchangeID string) string {
	return fmt.Sprintf("%s/metadata/exchanges/%s", c.config.MountPath, exchangeID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}
