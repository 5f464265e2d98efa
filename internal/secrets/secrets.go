// Package secrets fetches brokerage credentials from HashiCorp Vault.
// Grounded on the teacher's internal/vault/client.go: when Vault is
// disabled (local/dry-run), it falls back to an in-memory cache so the
// paper adapter can run without a Vault deployment.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config configures the Vault connection.
type Config struct {
	Enabled bool
	Address string
	Token   string
	Mount   string // KV mount point, e.g. "secret"
}

// BrokerageCredentials is one account's brokerage API credentials.
type BrokerageCredentials struct {
	Username   string `json:"username"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	AccountTag string `json:"account_tag"`
}

// Client fetches and caches brokerage credentials.
type Client struct {
	client  *api.Client
	cfg     Config
	mu      sync.RWMutex
	cache   map[string]BrokerageCredentials
}

// NewClient builds a Client. If cfg.Enabled is false, credentials can only
// be supplied via Put, useful for local/dry-run operation.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg, cache: make(map[string]BrokerageCredentials)}, nil
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Address
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg, cache: make(map[string]BrokerageCredentials)}, nil
}

// Put stores credentials for accountID in the local cache only, for
// dry-run operation where Vault is disabled.
func (c *Client) Put(accountID string, creds BrokerageCredentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[accountID] = creds
}

// Credentials returns accountID's brokerage credentials, fetching from
// Vault and caching on first use.
func (c *Client) Credentials(ctx context.Context, accountID string) (BrokerageCredentials, error) {
	c.mu.RLock()
	cached, ok := c.cache[accountID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.cfg.Enabled {
		return BrokerageCredentials{}, fmt.Errorf("no cached credentials for account %s and vault disabled", accountID)
	}

	path := c.secretPath(accountID)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return BrokerageCredentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return BrokerageCredentials{}, fmt.Errorf("no secret at %s", path)
	}

	data, _ := secret.Data["data"].(map[string]interface{})
	if data == nil {
		data = secret.Data
	}

	creds := BrokerageCredentials{
		Username:   stringField(data, "username"),
		APIKey:     stringField(data, "api_key"),
		APISecret:  stringField(data, "api_secret"),
		AccountTag: stringField(data, "account_tag"),
	}

	c.mu.Lock()
	c.cache[accountID] = creds
	c.mu.Unlock()

	return creds, nil
}

func (c *Client) secretPath(accountID string) string {
	mount := c.cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return fmt.Sprintf("%s/data/brokerage/%s", mount, accountID)
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
