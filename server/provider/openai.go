package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

// OpenAIAdapter speaks the Chat Completions protocol. Messages map one to
// one; this family has no separate reasoning channel.
type OpenAIAdapter struct {
	client             *transport.Client
	baseURL            string
	transcriptionModel string
	logger             *zap.Logger
}

// NewOpenAIAdapter creates the adapter.
func NewOpenAIAdapter(cfg config.ProviderConfig, client *transport.Client, logger *zap.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:             client,
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		transcriptionModel: cfg.TranscriptionModel,
		logger:             logger.With(zap.String("provider", string(KindOpenAI))),
	}
}

func (a *OpenAIAdapter) Kind() Kind { return KindOpenAI }

func (a *OpenAIAdapter) Capabilities() Capabilities {
	return Capabilities{
		Multimodal:      true,
		ReasoningEffort: true,
	}
}

// BuildParams converts a call to the wire payload.
func (a *OpenAIAdapter) BuildParams(call Call) openai.ChatCompletionNewParams {
	req, mut := call.Request, call.Route.Mutations

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(call.Route.Model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	if req.Temperature != nil && !mut.DropTemperature {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if mut.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(mut.ReasoningEffort)
	}

	for _, m := range req.Messages {
		params.Messages = append(params.Messages, openAIMessage(m, mut.SystemRole))
	}
	return params
}

func openAIMessage(m chat.Message, systemRole string) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case chat.RoleSystem:
		if systemRole == "developer" {
			return openai.DeveloperMessage(m.Content.PlainText())
		}
		return openai.SystemMessage(m.Content.PlainText())
	case chat.RoleAssistant:
		return openai.AssistantMessage(m.Content.PlainText())
	default:
		if !m.Content.Multi() {
			return openai.UserMessage(m.Content.Text)
		}
		return openai.UserMessage(openAIParts(m.Content.Parts))
	}
}

// openAIParts maps parts in order; images stay as URLs.
func openAIParts(parts []chat.Part) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case chat.PartImage:
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.URL,
			}))
		default:
			out = append(out, openai.TextContentPart(p.Text))
		}
	}
	return out
}

// Send makes one Chat Completions call.
func (a *OpenAIAdapter) Send(ctx context.Context, call Call) chat.Result {
	resp, rerr := a.client.PostJSON(ctx, a.baseURL+"/chat/completions", a.BuildParams(call),
		transport.BearerAuth(call.APIKey))
	if rerr != nil {
		return chat.Failure(rerr)
	}
	if fail := classifyFailure("openai", resp); fail != nil {
		return chat.Failure(fail)
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(resp.Body, &completion); err != nil {
		return chat.Failure(errors.NewMalformedError("openai response does not match the completion schema", resp.Body))
	}
	if len(completion.Choices) == 0 {
		return chat.Failure(errors.NewMalformedError("openai response has no choices", resp.Body))
	}
	if !completion.Choices[0].Message.JSON.Content.Valid() {
		return chat.Failure(errors.NewMalformedError("openai response has no message content", resp.Body))
	}

	return chat.Success(completion.Choices[0].Message.Content, "", chat.Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	})
}

// Transcribe converts speech to text with the configured transcription model.
func (a *OpenAIAdapter) Transcribe(ctx context.Context, apiKey, filename string, audio io.Reader) (string, *errors.RelayError) {
	resp, rerr := a.client.PostMultipart(ctx, a.baseURL+"/audio/transcriptions",
		map[string]string{"model": a.transcriptionModel},
		transport.FilePart{Field: "file", Filename: filename, Data: audio},
		transport.BearerAuth(apiKey))
	if rerr != nil {
		return "", rerr
	}
	if fail := classifyFailure("openai", resp); fail != nil {
		return "", fail
	}

	var tr openai.Transcription
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", errors.NewMalformedError("openai transcription does not match the schema", resp.Body)
	}
	if tr.Text == "" {
		a.logger.Debug("empty transcription", zap.String("file", filename))
	}
	return tr.Text, nil
}
