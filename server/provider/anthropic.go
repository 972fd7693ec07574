package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"go.uber.org/zap"
)

const (
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
	anthropicWebSearchTool    = "web_search_20250305"
	anthropicWebSearchMaxUses = 5
)

// Messages API wire types.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Source       *anthropicImageSource  `json:"source,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type anthropicResponse struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Model      string                `json:"model"`
	Content    []anthropicContentOut `json:"content"`
	StopReason *string               `json:"stop_reason"`
	Usage      anthropicUsage        `json:"usage"`
}

type anthropicContentOut struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// AnthropicAdapter speaks the Messages protocol. Building a payload runs
// three steps in a fixed order: image inlining, system aggregation, cache
// hint assignment.
type AnthropicAdapter struct {
	client    *transport.Client
	media     *MediaFetcher
	baseURL   string
	version   string
	maxTokens int
	cache     config.CacheHintConfig
	logger    *zap.Logger
}

// NewAnthropicAdapter creates the adapter.
func NewAnthropicAdapter(cfg config.ProviderConfig, client *transport.Client, media *MediaFetcher, logger *zap.Logger) *AnthropicAdapter {
	a := &AnthropicAdapter{
		client:    client,
		media:     media,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		version:   cfg.APIVersion,
		maxTokens: cfg.MaxTokens,
		cache:     cfg.Cache,
		logger:    logger.With(zap.String("provider", string(KindAnthropic))),
	}
	if a.version == "" {
		a.version = defaultAnthropicVersion
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultAnthropicMaxTokens
	}
	return a
}

func (a *AnthropicAdapter) Kind() Kind { return KindAnthropic }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{
		Multimodal:       true,
		ReasoningChannel: true,
		CacheHints:       true,
		SystemChannel:    true,
		WebSearch:        true,
	}
}

// buildRequest converts a call to the wire payload. Image parts are
// downloaded here, one at a time.
func (a *AnthropicAdapter) buildRequest(ctx context.Context, call Call) (*anthropicRequest, *errors.RelayError) {
	msgs, err := a.inlineMedia(ctx, call.Request.Messages)
	if err != nil {
		return nil, err
	}

	msgs = aggregateSystem(msgs)
	var system string
	if len(msgs) > 0 && msgs[0].Role == string(chat.RoleSystem) {
		system = msgs[0].Content[0].Text
		msgs = msgs[1:]
	}

	marked := assignCacheHints(msgs, a.cache)
	if len(marked) > 0 {
		a.logger.Debug("cache breakpoints assigned", zap.Ints("positions", marked))
	}

	mut := call.Route.Mutations
	req := &anthropicRequest{
		Model:     call.Route.Model,
		MaxTokens: a.maxTokens + mut.ThinkingBudget,
		System:    system,
		Messages:  msgs,
	}
	if call.Request.Temperature != nil && !mut.DropTemperature {
		t := *call.Request.Temperature
		req.Temperature = &t
	}
	if mut.ThinkingBudget > 0 {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: mut.ThinkingBudget}
	}
	if call.Tooling.WebSearch {
		req.Tools = append(req.Tools, anthropicTool{
			Type:    anthropicWebSearchTool,
			Name:    "web_search",
			MaxUses: anthropicWebSearchMaxUses,
		})
	}
	return req, nil
}

// inlineMedia converts canonical messages to wire messages, replacing every
// image reference with its base64 content in place. System messages only
// contribute text to the system field, so their images are dropped unfetched.
func (a *AnthropicAdapter) inlineMedia(ctx context.Context, in []chat.Message) ([]anthropicMessage, *errors.RelayError) {
	out := make([]anthropicMessage, 0, len(in))
	for _, m := range in {
		wm := anthropicMessage{Role: string(m.Role)}
		if !m.Content.Multi() {
			wm.Content = []anthropicBlock{{Type: "text", Text: m.Content.Text}}
			out = append(out, wm)
			continue
		}
		wm.Content = make([]anthropicBlock, 0, len(m.Content.Parts))
		for _, p := range m.Content.Parts {
			if p.Type != chat.PartImage {
				wm.Content = append(wm.Content, anthropicBlock{Type: "text", Text: p.Text})
				continue
			}
			if m.Role == chat.RoleSystem {
				a.logger.Debug("dropping image from system message", zap.String("url", p.URL))
				continue
			}
			img, err := a.media.Fetch(ctx, p.URL)
			if err != nil {
				return nil, err
			}
			wm.Content = append(wm.Content, anthropicBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: img.MediaType,
					Data:      img.Data,
				},
			})
		}
		out = append(out, wm)
	}
	return out, nil
}

// aggregateSystem moves every system message into a single system message
// at the front, joining their texts with a blank line in original order.
// The other messages keep their relative order. Applying it to its own
// output changes nothing.
func aggregateSystem(msgs []anthropicMessage) []anthropicMessage {
	var texts []string
	rest := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != string(chat.RoleSystem) {
			rest = append(rest, m)
			continue
		}
		var parts []string
		for _, b := range m.Content {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		texts = append(texts, strings.Join(parts, "\n"))
	}
	if texts == nil {
		return rest
	}
	system := anthropicMessage{
		Role:    string(chat.RoleSystem),
		Content: []anthropicBlock{{Type: "text", Text: strings.Join(texts, "\n\n")}},
	}
	return append([]anthropicMessage{system}, rest...)
}

// Send makes one Messages API call.
func (a *AnthropicAdapter) Send(ctx context.Context, call Call) chat.Result {
	payload, rerr := a.buildRequest(ctx, call)
	if rerr != nil {
		return chat.Failure(rerr)
	}

	resp, rerr := a.client.PostJSON(ctx, a.baseURL+"/messages", payload,
		transport.HeaderAuth(map[string]string{
			"x-api-key":         call.APIKey,
			"anthropic-version": a.version,
		}))
	if rerr != nil {
		return chat.Failure(rerr)
	}
	if fail := classifyFailure("anthropic", resp); fail != nil {
		return chat.Failure(fail)
	}

	var out anthropicResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return chat.Failure(errors.NewMalformedError("anthropic response does not match the messages schema", resp.Body))
	}
	return parseAnthropicContent(out, resp.Body)
}

// parseAnthropicContent scans every block: text blocks are concatenated in
// order, the last thinking block is the reasoning text.
func parseAnthropicContent(out anthropicResponse, raw []byte) chat.Result {
	var text strings.Builder
	var reasoning string
	sawText := false
	for _, b := range out.Content {
		switch b.Type {
		case "text":
			sawText = true
			text.WriteString(b.Text)
		case "thinking":
			reasoning = b.Thinking
		}
	}
	if !sawText {
		return chat.Failure(errors.NewMalformedError("anthropic response has no text block", raw))
	}

	return chat.Success(text.String(), reasoning, chat.Usage{
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	})
}
