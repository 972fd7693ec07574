package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestEnvironmentVariableExpansion(t *testing.T) {
	testCases := []struct {
		name       string
		envVars    map[string]string
		yamlConfig string
		validate   func(*testing.T, *Config)
		wantErr    bool
		errMsg     string
	}{
		{
			name:    "basic env var expansion",
			envVars: map[string]string{"RELAY_OPENAI_KEY": "test-key-123"},
			yamlConfig: `
credentials:
  defaults:
    openai: ${RELAY_OPENAI_KEY}`,
			validate: func(t *testing.T, c *Config) {
				if got := c.Credentials.Defaults["openai"]; got != "test-key-123" {
					t.Errorf("API key not expanded correctly, got %s, want test-key-123", got)
				}
			},
		},
		{
			name:    "missing env var",
			envVars: map[string]string{},
			yamlConfig: `
credentials:
  defaults:
    openai: ${RELAY_MISSING_KEY}`,
			validate: func(t *testing.T, c *Config) {
				if got := c.Credentials.Defaults["openai"]; got != "" {
					t.Errorf("Missing env var should expand to empty string, got %s", got)
				}
			},
		},
		{
			name:    "default value",
			envVars: map[string]string{},
			yamlConfig: `
server:
  port: ${RELAY_UNSET_PORT:-9191}`,
			validate: func(t *testing.T, c *Config) {
				if c.Server.Port != 9191 {
					t.Errorf("default value not applied, got %d", c.Server.Port)
				}
			},
		},
		{
			name: "multiple env vars in single value",
			envVars: map[string]string{
				"RELAY_API_HOST":    "api.openai.com",
				"RELAY_API_VERSION": "v1",
			},
			yamlConfig: `
providers:
  openai:
    base_url: https://${RELAY_API_HOST}/${RELAY_API_VERSION}`,
			validate: func(t *testing.T, c *Config) {
				if c.Providers.OpenAI.BaseURL != "https://api.openai.com/v1" {
					t.Errorf("Multiple env vars not expanded correctly, got %s", c.Providers.OpenAI.BaseURL)
				}
			},
		},
		{
			name:       "unterminated reference",
			yamlConfig: `server: {port: ${RELAY_PORT`,
			wantErr:    true,
			errMsg:     "unterminated",
		},
		{
			name:    "invalid port from env var",
			envVars: map[string]string{"RELAY_SERVER_PORT": "-1"},
			yamlConfig: `
server:
  port: ${RELAY_SERVER_PORT}`,
			wantErr: true,
			errMsg:  "Config.Server.Port",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			config, err := Load(strings.NewReader(tc.yamlConfig))
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tc.errMsg)
				} else if !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("Expected error containing %q, got %v", tc.errMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tc.validate(t, config)
		})
	}
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_retries: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer cw.Close()

	if got := cw.GetCurrentConfig().Retry.MaxRetries; got != 1 {
		t.Fatalf("initial max_retries = %d, want 1", got)
	}

	updates := cw.Subscribe()
	writeAtomic(t, path, "retry:\n  max_retries: 3\n")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-updates:
			if cfg.Retry.MaxRetries == 3 {
				return
			}
		case <-timeout:
			t.Fatal("no config update received")
		}
	}
}

func TestConfigWatcherKeepsConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_retries: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer cw.Close()

	writeAtomic(t, path, "logging:\n  level: loud\n")
	cw.Reload()

	if got := cw.GetCurrentConfig().Retry.MaxRetries; got != 2 {
		t.Errorf("config replaced by invalid file: max_retries = %d", got)
	}
}

// writeAtomic replaces path in one step so the watcher never sees a
// truncated file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}
