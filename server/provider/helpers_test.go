package provider

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeProvider is an httptest server that replays canned responses and
// records every request it sees.
type fakeProvider struct {
	*httptest.Server
	calls     atomic.Int32
	mu        sync.Mutex
	bodies    [][]byte
	headers   []http.Header
	responses []cannedResponse
}

type cannedResponse struct {
	status int
	body   string
}

func newFakeProvider(t *testing.T, responses ...cannedResponse) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{responses: responses}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(fp.calls.Add(1)) - 1
		body, _ := io.ReadAll(r.Body)
		fp.mu.Lock()
		fp.bodies = append(fp.bodies, body)
		fp.headers = append(fp.headers, r.Header.Clone())
		fp.mu.Unlock()

		resp := fp.responses[len(fp.responses)-1]
		if n < len(fp.responses) {
			resp = fp.responses[n]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		_, _ = io.WriteString(w, resp.body)
	}))
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) lastBody(t *testing.T) map[string]any {
	t.Helper()
	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.NotEmpty(t, fp.bodies, "provider was never called")
	var out map[string]any
	require.NoError(t, json.Unmarshal(fp.bodies[len(fp.bodies)-1], &out))
	return out
}

func (fp *fakeProvider) rawBody(i int) []byte {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.bodies[i]
}

func (fp *fakeProvider) header(i int) http.Header {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.headers[i]
}

func testClient(t *testing.T) *transport.Client {
	return transport.NewClient(zaptest.NewLogger(t), transport.WithTimeout(5*time.Second))
}

// testConfig points every provider at url with instant retries.
func testConfig(url string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.TestMode = true
	cfg.Providers.OpenAI.BaseURL = url
	cfg.Providers.Anthropic.BaseURL = url
	cfg.Providers.OpenRouter.BaseURL = url
	cfg.Credentials.Defaults = map[string]string{
		"openai":     "sk-openai",
		"anthropic":  "sk-anthropic",
		"openrouter": "sk-openrouter",
	}
	return cfg
}

func floatPtr(f float64) *float64 { return &f }

func userRequest(model, text string) *chat.Request {
	return &chat.Request{
		User:     "alice",
		Model:    model,
		Messages: []chat.Message{chat.Text(chat.RoleUser, text)},
	}
}

const (
	openAIOK = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}],
		"usage":{"prompt_tokens":100,"completion_tokens":42,"total_tokens":142}}`
	anthropicOK = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-x",
		"content":[{"type":"thinking","thinking":"let me think","signature":"sig"},{"type":"text","text":"the answer"}],
		"stop_reason":"end_turn","usage":{"input_tokens":100,"output_tokens":42}}`
	anthropicOverloaded = `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`
	openRouterOK        = `{"id":"gen-1","model":"meta/llama","choices":[{"message":{"role":"assistant","content":"routed","reasoning":"mulling"}}],
		"usage":{"prompt_tokens":7,"completion_tokens":3}}`
)
