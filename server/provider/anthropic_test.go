package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

func textMsg(role, text string) anthropicMessage {
	return anthropicMessage{Role: role, Content: []anthropicBlock{{Type: "text", Text: text}}}
}

func TestAggregateSystem(t *testing.T) {
	in := []anthropicMessage{
		textMsg("user", "u1"),
		textMsg("system", "be brief"),
		textMsg("assistant", "a1"),
		textMsg("system", "be kind"),
		textMsg("user", "u2"),
	}

	out := aggregateSystem(in)
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be brief\n\nbe kind", out[0].Content[0].Text)
	assert.Equal(t, []string{"u1", "a1", "u2"}, []string{out[1].Content[0].Text, out[2].Content[0].Text, out[3].Content[0].Text})

	assert.Equal(t, out, aggregateSystem(out), "aggregation must be idempotent")
}

func TestAggregateSystemWithoutSystem(t *testing.T) {
	in := []anthropicMessage{textMsg("user", "hi")}
	assert.Equal(t, in, aggregateSystem(in))
}

func markedPositions(msgs []anthropicMessage) []int {
	var out []int
	for i, m := range msgs {
		if m.Content[len(m.Content)-1].CacheControl != nil {
			out = append(out, i)
		}
	}
	return out
}

func TestAssignCacheHints(t *testing.T) {
	cfg := config.CacheHintConfig{Enabled: true, Offset: 5, Stride: 6, Max: 4}

	tests := []struct {
		name string
		n    int
		want []int
	}{
		{"too short", 5, nil},
		{"first candidate", 6, []int{5}},
		{"two marks", 12, []int{5, 11}},
		{"at cap", 24, []int{5, 11, 17, 23}},
		{"earliest evicted", 30, []int{11, 17, 23, 29}},
		{"two evicted", 36, []int{17, 23, 29, 35}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := make([]anthropicMessage, tt.n)
			for i := range msgs {
				msgs[i] = textMsg("user", "m")
			}
			got := assignCacheHints(msgs, cfg)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, markedPositions(msgs))
			assert.LessOrEqual(t, len(markedPositions(msgs)), 4)
		})
	}
}

func TestAssignCacheHintsMarksLastBlock(t *testing.T) {
	msgs := make([]anthropicMessage, 6)
	for i := range msgs {
		msgs[i] = textMsg("user", "m")
	}
	msgs[5].Content = append(msgs[5].Content, anthropicBlock{Type: "image"})

	assignCacheHints(msgs, config.CacheHintConfig{Enabled: true, Offset: 5, Stride: 6, Max: 4})
	assert.Nil(t, msgs[5].Content[0].CacheControl)
	assert.Equal(t, "ephemeral", msgs[5].Content[1].CacheControl.Type)
}

func TestAssignCacheHintsDisabled(t *testing.T) {
	msgs := make([]anthropicMessage, 12)
	for i := range msgs {
		msgs[i] = textMsg("user", "m")
	}
	assert.Nil(t, assignCacheHints(msgs, config.CacheHintConfig{Enabled: false, Offset: 5, Stride: 6, Max: 4}))
	assert.Empty(t, markedPositions(msgs))
}

func newAnthropicForTest(t *testing.T, baseURL string) *AnthropicAdapter {
	cfg := config.DefaultConfig().Providers.Anthropic
	cfg.BaseURL = baseURL
	client := testClient(t)
	return NewAnthropicAdapter(cfg, client, NewMediaFetcher(client, 0), zaptest.NewLogger(t))
}

func TestAnthropicBuildRequestOrder(t *testing.T) {
	img := []byte("\x89PNG\r\n\x1a\n fake image")
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer media.Close()

	a := newAnthropicForTest(t, "http://unused")
	msgs := []chat.Message{chat.Text(chat.RoleSystem, "sys one")}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, chat.Text(chat.RoleUser, "filler"))
	}
	msgs = append(msgs, chat.Text(chat.RoleSystem, "sys two"))
	msgs = append(msgs, chat.Multi(chat.RoleUser, chat.TextPart("look"), chat.ImagePart(media.URL+"/cat.png")))

	req := &chat.Request{User: "alice", Model: "claude-x", Temperature: floatPtr(0.3), Messages: msgs}
	call := Call{Request: req, Route: Route{Kind: KindAnthropic, Model: "claude-x"}}

	out, rerr := a.buildRequest(context.Background(), call)
	require.Nil(t, rerr)

	assert.Equal(t, "sys one\n\nsys two", out.System)
	require.Len(t, out.Messages, 6)

	// The image message sits at index 5 once system messages are removed.
	last := out.Messages[5]
	require.Len(t, last.Content, 2)
	assert.Equal(t, "image", last.Content[1].Type)
	assert.Equal(t, "image/png", last.Content[1].Source.MediaType)
	assert.NotNil(t, last.Content[1].CacheControl)

	decoded, err := InlineImage{Data: last.Content[1].Source.Data}.Decode()
	require.NoError(t, err)
	assert.Equal(t, img, decoded)

	assert.Equal(t, 0.3, *out.Temperature)
	assert.Equal(t, 4096, out.MaxTokens)
	assert.Nil(t, out.Thinking)

	// The caller's request is not touched.
	assert.Equal(t, chat.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, chat.PartImage, req.Messages[7].Content.Parts[1].Type)
}

func TestAnthropicSystemImagesAreNotFetched(t *testing.T) {
	var hits atomic.Int32
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer media.Close()

	a := newAnthropicForTest(t, "http://unused")
	req := &chat.Request{User: "alice", Model: "claude-x", Messages: []chat.Message{
		chat.Multi(chat.RoleSystem, chat.TextPart("be terse"), chat.ImagePart(media.URL+"/logo.png")),
		chat.Text(chat.RoleUser, "hi"),
	}}

	out, rerr := a.buildRequest(context.Background(), Call{Request: req, Route: Route{Kind: KindAnthropic, Model: "claude-x"}})
	require.Nil(t, rerr)
	assert.Equal(t, "be terse", out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int32(0), hits.Load())
}

func TestAnthropicThinkingPayload(t *testing.T) {
	fp := newFakeProvider(t, cannedResponse{http.StatusOK, anthropicOK})
	a := newAnthropicForTest(t, fp.URL)

	req := &chat.Request{User: "alice", Model: "claude-x-thinking", Temperature: floatPtr(0.7),
		Messages: []chat.Message{chat.Text(chat.RoleUser, "why?")}}
	route := Route{Kind: KindAnthropic, Model: "claude-x", Mutations: Mutations{DropTemperature: true, ThinkingBudget: 16000}}

	res := a.Send(context.Background(), Call{Request: req, Route: route, APIKey: "sk-ant"})
	require.True(t, res.OK(), "unexpected error: %v", res.Error)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, "let me think", res.ReasoningText)
	assert.Equal(t, chat.Usage{InputTokens: 100, OutputTokens: 42}, res.Usage)

	body := fp.rawBody(0)
	assert.Equal(t, "claude-x", gjson.GetBytes(body, "model").String())
	assert.False(t, gjson.GetBytes(body, "temperature").Exists())
	assert.Equal(t, int64(16000), gjson.GetBytes(body, "thinking.budget_tokens").Int())
	assert.Equal(t, "enabled", gjson.GetBytes(body, "thinking.type").String())
	assert.Equal(t, int64(4096+16000), gjson.GetBytes(body, "max_tokens").Int())

	h := fp.header(0)
	assert.Equal(t, "sk-ant", h.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", h.Get("anthropic-version"))
}

func TestAnthropicWebSearchTool(t *testing.T) {
	a := newAnthropicForTest(t, "http://unused")
	call := Call{
		Request: userRequest("claude-x", "news?"),
		Route:   Route{Kind: KindAnthropic, Model: "claude-x"},
		Tooling: chat.Tooling{WebSearch: true},
	}
	out, rerr := a.buildRequest(context.Background(), call)
	require.Nil(t, rerr)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "web_search_20250305", gjson.GetBytes(raw, "tools.0.type").String())
	assert.Equal(t, "web_search", gjson.GetBytes(raw, "tools.0.name").String())
}

func TestParseAnthropicContent(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		text      string
		reasoning string
		errType   errors.ErrorType
	}{
		{
			name: "text only",
			body: `{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":1,"output_tokens":2}}`,
			text: "hi",
		},
		{
			name: "text blocks concatenated",
			body: `{"content":[{"type":"text","text":"a"},{"type":"server_tool_use"},{"type":"text","text":"b"}]}`,
			text: "ab",
		},
		{
			name:      "last thinking wins",
			body:      `{"content":[{"type":"thinking","thinking":"one"},{"type":"thinking","thinking":"two"},{"type":"text","text":"t"}]}`,
			text:      "t",
			reasoning: "two",
		},
		{
			name:    "no text block",
			body:    `{"content":[{"type":"thinking","thinking":"only"}]}`,
			errType: errors.MalformedError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out anthropicResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &out))
			res := parseAnthropicContent(out, []byte(tt.body))
			if tt.errType != "" {
				require.NotNil(t, res.Error)
				assert.Equal(t, tt.errType, res.Error.Type)
				assert.Equal(t, []byte(tt.body), res.Error.Raw)
				return
			}
			require.Nil(t, res.Error)
			assert.Equal(t, tt.text, res.Text)
			assert.Equal(t, tt.reasoning, res.ReasoningText)
		})
	}
}

func TestAnthropicFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		resp    cannedResponse
		errType errors.ErrorType
	}{
		{"overloaded envelope", cannedResponse{http.StatusOK, anthropicOverloaded}, errors.TransientError},
		{"529", cannedResponse{529, anthropicOverloaded}, errors.TransientError},
		{"503 without envelope", cannedResponse{http.StatusServiceUnavailable, `{}`}, errors.TransientError},
		{"invalid request", cannedResponse{http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`}, errors.TerminalError},
		{"not json", cannedResponse{http.StatusOK, `<html>oops</html>`}, errors.MalformedError},
		{"wrong shape", cannedResponse{http.StatusOK, `{"content":"nope"}`}, errors.MalformedError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t, tt.resp)
			a := newAnthropicForTest(t, fp.URL)
			res := a.Send(context.Background(), Call{
				Request: userRequest("claude-x", "hi"),
				Route:   Route{Kind: KindAnthropic, Model: "claude-x"},
				APIKey:  "k",
			})
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.errType, res.Error.Type)
			assert.NotEmpty(t, res.Error.Raw)
		})
	}
}
