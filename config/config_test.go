package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
server:
  port: 9090
  read_timeout: 45s
  api_keys: [relay-key]

providers:
  anthropic:
    base_url: http://localhost:9999/v1
    max_tokens: 2048
    cache:
      enabled: true
      offset: 3
      stride: 4
      max: 2

router:
  openai_prefixes: ["gpt-", "chatgpt-"]
  thinking_budget: 8000

retry:
  max_retries: 2
  step: 1s

credentials:
  defaults:
    openrouter: sk-or-shared
  users:
    "42":
      anthropic: sk-ant-42

logging:
  level: debug
  format: text
`

	config, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("unexpected port: got %d, want %d", config.Server.Port, 9090)
	}
	if config.Server.ReadTimeout != 45*time.Second {
		t.Errorf("unexpected read timeout: got %v, want %v", config.Server.ReadTimeout, 45*time.Second)
	}
	if config.Providers.Anthropic.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("unexpected anthropic base url: %s", config.Providers.Anthropic.BaseURL)
	}
	if config.Providers.Anthropic.APIVersion != "2023-06-01" {
		t.Errorf("anthropic api version default lost: %q", config.Providers.Anthropic.APIVersion)
	}
	if config.Providers.Anthropic.Cache.Stride != 4 || config.Providers.Anthropic.Cache.Max != 2 {
		t.Errorf("unexpected cache config: %+v", config.Providers.Anthropic.Cache)
	}
	if len(config.Router.OpenAIPrefixes) != 2 {
		t.Errorf("unexpected openai prefixes: %v", config.Router.OpenAIPrefixes)
	}
	if config.Router.ThinkingBudget != 8000 {
		t.Errorf("unexpected thinking budget: %d", config.Router.ThinkingBudget)
	}
	if config.Router.AnthropicPrefix != "claude-" {
		t.Errorf("anthropic prefix default lost: %q", config.Router.AnthropicPrefix)
	}
	if config.Retry.MaxRetries != 2 || config.Retry.Step != time.Second {
		t.Errorf("unexpected retry config: %+v", config.Retry)
	}
	if config.Credentials.Users["42"]["anthropic"] != "sk-ant-42" {
		t.Errorf("user credential not loaded: %v", config.Credentials.Users)
	}
	if config.Logging.Format != "text" {
		t.Errorf("unexpected log format: got %s, want %s", config.Logging.Format, "text")
	}
	if len(config.Routes) != 3 {
		t.Errorf("default routes lost: got %d", len(config.Routes))
	}
}

func TestLoadEmptyConfigUsesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if config.Retry.MaxRetries != 4 || config.Retry.Step != 5*time.Second {
		t.Errorf("unexpected retry defaults: %+v", config.Retry)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name: "invalid port",
			config: `
server:
  port: -1
`,
			want: "Config.Server.Port",
		},
		{
			name: "invalid log level",
			config: `
logging:
  level: invalid
`,
			want: "Config.Logging.Level",
		},
		{
			name: "empty route path",
			config: `
routes:
  - path: ""
    handler: chat
`,
			want: "Path",
		},
		{
			name: "bad reasoning pattern",
			config: `
router:
  reasoning_pattern: "^[a-z"
`,
			want: "router.reasoning_pattern",
		},
		{
			name: "unknown credential provider",
			config: `
credentials:
  defaults:
    mistral: key
`,
			want: `unknown provider "mistral"`,
		},
		{
			name: "file usage without path",
			config: `
usage:
  backend: file
`,
			want: "Config.Usage.Path",
		},
		{
			name: "cache enabled without stride",
			config: `
providers:
  anthropic:
    cache:
      enabled: true
      stride: 0
`,
			want: "stride must be positive",
		},
		{
			name: "too many cache marks",
			config: `
providers:
  anthropic:
    cache:
      max: 5
`,
			want: "Config.Providers.Anthropic.Cache.Max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.config))
			if err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("unexpected error: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if config.Server.Port != 8080 {
		t.Errorf("unexpected default port: got %d, want %d", config.Server.Port, 8080)
	}
	cache := config.Providers.Anthropic.Cache
	if cache.Offset != 5 || cache.Stride != 6 || cache.Max != 4 {
		t.Errorf("unexpected cache defaults: %+v", cache)
	}
	if config.Providers.Anthropic.MaxTokens != 4096 {
		t.Errorf("unexpected anthropic max tokens: %d", config.Providers.Anthropic.MaxTokens)
	}
	if config.Router.ThinkingBudget != 16000 {
		t.Errorf("unexpected thinking budget: %d", config.Router.ThinkingBudget)
	}
	if config.Usage.Backend != "memory" {
		t.Errorf("unexpected usage backend: %s", config.Usage.Backend)
	}
}
