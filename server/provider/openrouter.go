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

// OpenRouter wire types: the OpenAI shape plus reasoning and plugins.
type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	Reasoning   *openRouterEffort   `json:"reasoning,omitempty"`
	Plugins     []openRouterPlugin  `json:"plugins,omitempty"`
}

type openRouterMessage struct {
	Role    string       `json:"role"`
	Content chat.Content `json:"content"`
}

type openRouterEffort struct {
	Effort string `json:"effort"`
}

type openRouterPlugin struct {
	ID string `json:"id"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string  `json:"role"`
			Content   *string `json:"content"`
			Reasoning *string `json:"reasoning"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenRouterAdapter is the catch-all for models no other family claims. It
// passes messages through unchanged apart from the reasoning hint.
type OpenRouterAdapter struct {
	client  *transport.Client
	baseURL string
	logger  *zap.Logger
}

// NewOpenRouterAdapter creates the adapter.
func NewOpenRouterAdapter(cfg config.ProviderConfig, client *transport.Client, logger *zap.Logger) *OpenRouterAdapter {
	return &OpenRouterAdapter{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.With(zap.String("provider", string(KindOpenRouter))),
	}
}

func (a *OpenRouterAdapter) Kind() Kind { return KindOpenRouter }

func (a *OpenRouterAdapter) Capabilities() Capabilities {
	return Capabilities{
		Multimodal:       true,
		ReasoningChannel: true,
		ReasoningEffort:  true,
		WebSearch:        true,
	}
}

func (a *OpenRouterAdapter) buildRequest(call Call) openRouterRequest {
	req, mut := call.Request, call.Route.Mutations
	out := openRouterRequest{
		Model:    call.Route.Model,
		Messages: make([]openRouterMessage, 0, len(req.Messages)),
	}
	if req.Temperature != nil && !mut.DropTemperature {
		t := *req.Temperature
		out.Temperature = &t
	}
	if mut.ReasoningEffort != "" {
		out.Reasoning = &openRouterEffort{Effort: mut.ReasoningEffort}
	}
	if call.Tooling.WebSearch {
		out.Plugins = append(out.Plugins, openRouterPlugin{ID: "web"})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openRouterMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// MarshalJSON renders multi-part content with OpenAI part names.
func (m openRouterMessage) MarshalJSON() ([]byte, error) {
	type plain struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	if !m.Content.Multi() {
		return json.Marshal(plain{Role: m.Role, Content: m.Content.Text})
	}
	parts := make([]openRouterPart, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		if p.Type == chat.PartImage {
			parts = append(parts, openRouterPart{Type: "image_url", ImageURL: &openRouterImageURL{URL: p.URL}})
			continue
		}
		parts = append(parts, openRouterPart{Type: "text", Text: p.Text})
	}
	return json.Marshal(plain{Role: m.Role, Content: parts})
}

// Send makes one chat completions call against OpenRouter.
func (a *OpenRouterAdapter) Send(ctx context.Context, call Call) chat.Result {
	resp, rerr := a.client.PostJSON(ctx, a.baseURL+"/chat/completions", a.buildRequest(call),
		transport.BearerAuth(call.APIKey))
	if rerr != nil {
		return chat.Failure(rerr)
	}
	if fail := classifyFailure("openrouter", resp); fail != nil {
		return chat.Failure(fail)
	}

	var out openRouterResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return chat.Failure(errors.NewMalformedError("openrouter response does not match the completion schema", resp.Body))
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return chat.Failure(errors.NewMalformedError("openrouter response has no message content", resp.Body))
	}

	msg := out.Choices[0].Message
	var reasoning string
	if msg.Reasoning != nil {
		reasoning = *msg.Reasoning
	}
	return chat.Success(*msg.Content, reasoning, chat.Usage{
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	})
}
