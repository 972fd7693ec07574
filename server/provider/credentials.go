package provider

import (
	"sync/atomic"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
)

// CredentialStore resolves a user's API key for a provider family.
type CredentialStore interface {
	Lookup(user string, kind Kind) (string, bool)
}

// ConfigCredentials serves keys from the credentials section of the config.
// A user's own key wins over the provider default. Update swaps the whole
// table, so lookups never see a partial reload.
type ConfigCredentials struct {
	table atomic.Pointer[config.CredentialsConfig]
}

// NewConfigCredentials creates a store over cfg.
func NewConfigCredentials(cfg config.CredentialsConfig) *ConfigCredentials {
	c := &ConfigCredentials{}
	c.Update(cfg)
	return c
}

// Update replaces the credential table.
func (c *ConfigCredentials) Update(cfg config.CredentialsConfig) {
	c.table.Store(&cfg)
}

// Lookup returns the key for user and kind.
func (c *ConfigCredentials) Lookup(user string, kind Kind) (string, bool) {
	t := c.table.Load()
	if keys, ok := t.Users[user]; ok {
		if k := keys[string(kind)]; k != "" {
			return k, true
		}
	}
	if k := t.Defaults[string(kind)]; k != "" {
		return k, true
	}
	return "", false
}
