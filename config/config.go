// Package config provides configuration management for the relay server.
// It covers provider endpoints, model routing rules, retry policy, per-user
// credentials, usage persistence and the service API around them.
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Router         RouterConfig         `yaml:"router"`
	Retry          RetryConfig          `yaml:"retry"`
	Media          MediaConfig          `yaml:"media"`
	Credentials    CredentialsConfig    `yaml:"credentials"`
	Usage          UsageConfig          `yaml:"usage"`
	Routes         []RouteConfig        `yaml:"routes" validate:"dive"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Queue          QueueConfig          `yaml:"queue"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	TestMode       bool                 `yaml:"-"` // Skip metric registration and background work in tests
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout must cover the worst case of a turn: the provider
	// timeout plus every retry sleep (default: 5m)
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// APIKeys lists the keys accepted by the auth middleware. Empty disables auth.
	APIKeys []string `yaml:"api_keys"`

	// MaxContextTokens rejects chat requests whose estimated prompt size is
	// larger. Zero disables the check.
	MaxContextTokens int `yaml:"max_context_tokens" validate:"gte=0"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" validate:"oneof=json text"`
}

// ProvidersConfig holds one endpoint block per provider family.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
}

// ProviderConfig configures how one provider family is reached.
type ProviderConfig struct {
	// BaseURL is the API root, without a trailing slash
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Timeout bounds one call; retries get a fresh timeout each
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// MaxTokens is the baseline output ceiling sent when the protocol
	// requires one (Anthropic)
	MaxTokens int `yaml:"max_tokens" validate:"gte=0"`

	// APIVersion is sent as anthropic-version
	APIVersion string `yaml:"api_version,omitempty"`

	// TranscriptionModel is the model used for audio transcription (OpenAI)
	TranscriptionModel string `yaml:"transcription_model,omitempty"`

	// Cache controls prompt-cache breakpoints (Anthropic)
	Cache CacheHintConfig `yaml:"cache,omitempty"`
}

// CacheHintConfig defines which messages are marked as cache breakpoints.
// Positions offset, offset+stride, offset+2*stride ... are marked, keeping
// at most Max marks; older marks are evicted first.
type CacheHintConfig struct {
	Enabled bool `yaml:"enabled"`
	Offset  int  `yaml:"offset" validate:"gte=0"`
	Stride  int  `yaml:"stride" validate:"gte=0"`
	Max     int  `yaml:"max" validate:"gte=0,lte=4"`
}

// RouterConfig holds the model classification rules.
type RouterConfig struct {
	// OpenAIPrefixes select the OpenAI adapter without mutations
	OpenAIPrefixes []string `yaml:"openai_prefixes"`

	// ReasoningPattern matches OpenAI reasoning-family models
	ReasoningPattern string `yaml:"reasoning_pattern" validate:"required"`

	// AnthropicPrefix selects the Anthropic adapter
	AnthropicPrefix string `yaml:"anthropic_prefix" validate:"required"`

	// ThinkingSuffix enables extended thinking on Anthropic models
	ThinkingSuffix string `yaml:"thinking_suffix" validate:"required"`

	// ThinkingBudget is the reasoning token budget for thinking models
	ThinkingBudget int `yaml:"thinking_budget" validate:"gt=0"`

	// ReasoningEffort is the effort hint for reasoning and OpenRouter models
	ReasoningEffort string `yaml:"reasoning_effort" validate:"oneof=low medium high"`
}

// RetryConfig defines the linear backoff applied to transient failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first call (default: 4)
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`

	// Step is multiplied by the attempt number to get each sleep (default: 5s)
	Step time.Duration `yaml:"step" validate:"gte=0"`
}

// MediaConfig limits image fetching for inline media.
type MediaConfig struct {
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxBytes int64         `yaml:"max_bytes" validate:"gte=0"`
}

// CredentialsConfig maps users to provider API keys. Defaults apply to
// every user that has no key of their own.
type CredentialsConfig struct {
	Defaults map[string]string            `yaml:"defaults"`
	Users    map[string]map[string]string `yaml:"users"`
}

// UsageConfig selects where token counters are kept.
type UsageConfig struct {
	// Backend is "memory" or "file"
	Backend string `yaml:"backend" validate:"oneof=memory file"`

	// Path is the JSON file for the file backend
	Path string `yaml:"path" validate:"required_if=Backend file"`

	// SaveInterval is how often the file backend is flushed
	SaveInterval time.Duration `yaml:"save_interval" validate:"gte=0"`
}

// RouteConfig holds route-specific configuration.
type RouteConfig struct {
	// Path is the URL path to match
	Path string `yaml:"path" validate:"required,startswith=/"`

	// Handler specifies which handler to use for this route
	Handler string `yaml:"handler" validate:"required"`

	// Version specifies the API version (e.g., "v1")
	Version string `yaml:"version"`

	// Methods specifies the allowed HTTP methods for this route
	Methods []string `yaml:"methods"`

	// Middleware specifies the route-specific middleware
	Middleware []string `yaml:"middleware,omitempty"`
}

// CircuitBreakerConfig configures the per-provider breaker.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// FailureThreshold is the number of consecutive failed turns needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"gt=0"`
}

// RateLimitConfig limits requests per user.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Burst   int           `yaml:"burst" validate:"gte=0"`
	Every   time.Duration `yaml:"every" validate:"gte=0"`
}

// QueueConfig defines the configuration for the request queue middleware.
// It controls queue size, persistence, and state management.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// InitialSize is the starting maximum size of the queue
	InitialSize int64 `yaml:"initial_size" validate:"gte=0"`

	// Workers is how many queued requests are processed at once
	Workers int `yaml:"workers" validate:"gte=0"`

	// StatePath is the file path where queue state is persisted
	// If empty, persistence is disabled
	StatePath string `yaml:"state_path"`

	// SaveInterval is how often the queue state is saved
	// If 0, periodic saving is disabled
	SaveInterval time.Duration `yaml:"save_interval" validate:"gte=0"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				BaseURL:            "https://api.openai.com/v1",
				Timeout:            120 * time.Second,
				TranscriptionModel: "whisper-1",
			},
			Anthropic: ProviderConfig{
				BaseURL:    "https://api.anthropic.com/v1",
				Timeout:    120 * time.Second,
				MaxTokens:  4096,
				APIVersion: "2023-06-01",
				Cache: CacheHintConfig{
					Enabled: true,
					Offset:  5,
					Stride:  6,
					Max:     4,
				},
			},
			OpenRouter: ProviderConfig{
				BaseURL: "https://openrouter.ai/api/v1",
				Timeout: 120 * time.Second,
			},
		},

		Router: RouterConfig{
			OpenAIPrefixes:   []string{"gpt-"},
			ReasoningPattern: `^[a-z][0-9]`,
			AnthropicPrefix:  "claude-",
			ThinkingSuffix:   "-thinking",
			ThinkingBudget:   16000,
			ReasoningEffort:  "high",
		},

		Retry: RetryConfig{
			MaxRetries: 4,
			Step:       5 * time.Second,
		},

		Media: MediaConfig{
			Timeout:  30 * time.Second,
			MaxBytes: 20 << 20,
		},

		Usage: UsageConfig{
			Backend:      "memory",
			SaveInterval: 30 * time.Second,
		},

		Routes: []RouteConfig{
			{
				Path:       "/chat",
				Handler:    "chat",
				Version:    "v1",
				Methods:    []string{"POST"},
				Middleware: []string{"auth", "ratelimit", "validate", "queue"},
			},
			{
				Path:       "/transcriptions",
				Handler:    "transcription",
				Version:    "v1",
				Methods:    []string{"POST"},
				Middleware: []string{"auth", "ratelimit"},
			},
			{
				Path:       "/usage/{user}",
				Handler:    "usage",
				Version:    "v1",
				Methods:    []string{"GET"},
				Middleware: []string{"auth"},
			},
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},

		RateLimit: RateLimitConfig{
			Enabled: true,
			Burst:   10,
			Every:   6 * time.Second,
		},

		Queue: QueueConfig{
			Enabled:      false,
			InitialSize:  100,
			Workers:      4,
			SaveInterval: 30 * time.Second,
		},

		Telemetry: TelemetryConfig{
			ServiceName: "llm-relay",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Nested
// references are expanded until the string stops changing.
//
// Examples:
//   - "${OPENAI_API_KEY}" → "sk-..."
//   - "${PORT:-8080}" → "8080" (if PORT is unset)
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("unterminated variable reference")
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	prev := ""
	for prev != result {
		prev = result
		result = os.Expand(result, os.Getenv)
	}
	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults
	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

var validate = validator.New()

// Validate checks if the configuration is valid. Field constraints are
// declared as struct tags; cross-field rules are checked by hand.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if _, err := regexp.Compile(c.Router.ReasoningPattern); err != nil {
		return fmt.Errorf("invalid router.reasoning_pattern: %w", err)
	}
	if cache := c.Providers.Anthropic.Cache; cache.Enabled && cache.Stride < 1 {
		return fmt.Errorf("providers.anthropic.cache.stride must be positive when caching is enabled")
	}
	for _, p := range c.Router.OpenAIPrefixes {
		if p == "" {
			return fmt.Errorf("empty entry in router.openai_prefixes")
		}
	}

	for provider := range c.Credentials.Defaults {
		if !KnownProvider(provider) {
			return fmt.Errorf("unknown provider %q in credentials.defaults", provider)
		}
	}
	for user, keys := range c.Credentials.Users {
		for provider := range keys {
			if !KnownProvider(provider) {
				return fmt.Errorf("unknown provider %q in credentials for user %s", provider, user)
			}
		}
	}

	return nil
}

// KnownProvider reports whether name is one of the configured provider families.
func KnownProvider(name string) bool {
	switch name {
	case "openai", "anthropic", "openrouter":
		return true
	}
	return false
}
