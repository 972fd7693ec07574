package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/go-playground/validator/v10"
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// ChatRequest is the inbound schema of POST /v1/chat.
type ChatRequest struct {
	User        string       `json:"user" validate:"required"`
	Model       string       `json:"model" validate:"required"`
	Temperature *float64     `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Messages    []Message    `json:"messages" validate:"required,min=1,dive"`
	Tooling     chat.Tooling `json:"tooling,omitempty"`
}

// Message is one inbound message. Content is checked by messageRules since
// it is either a string or a list of parts.
type Message struct {
	Role    string       `json:"role" validate:"required,oneof=system user assistant"`
	Content chat.Content `json:"content"`
}

// ToChat converts a validated request to the canonical model.
func (r ChatRequest) ToChat() *chat.Request {
	req := &chat.Request{
		User:        r.User,
		Model:       r.Model,
		Temperature: r.Temperature,
		Tooling:     r.Tooling,
		Messages:    make([]chat.Message, len(r.Messages)),
	}
	for i, m := range r.Messages {
		req.Messages[i] = chat.Message{Role: chat.Role(m.Role), Content: m.Content}
	}
	return req
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(messageRules, Message{})
	return v
}

// messageRules requires non-empty text content, and for multi-part content
// that every part is a known type with its payload set.
func messageRules(sl validator.StructLevel) {
	m := sl.Current().Interface().(Message)
	if !m.Content.Multi() {
		if strings.TrimSpace(m.Content.Text) == "" {
			sl.ReportError(m.Content, "content", "Content", "required", "")
		}
		return
	}
	if len(m.Content.Parts) == 0 {
		sl.ReportError(m.Content.Parts, "content", "Content", "min", "1")
		return
	}
	for i, p := range m.Content.Parts {
		field := fmt.Sprintf("content[%d]", i)
		switch p.Type {
		case chat.PartText:
			if p.Text == "" {
				sl.ReportError(p.Text, field+".text", "Text", "required", "")
			}
		case chat.PartImage:
			if err := sl.Validator().Var(p.URL, "required,url"); err != nil {
				sl.ReportError(p.URL, field+".url", "URL", "url", "")
			}
		default:
			sl.ReportError(p.Type, field+".type", "Type", "oneof", "text image")
		}
	}
}

// TokenCounter estimates prompt size with a tiktoken encoding. The count is
// an estimate for every provider, not only OpenAI.
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter loads the named encoding, e.g. cl100k_base.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", encoding, err)
	}
	return &TokenCounter{encoding: enc}, nil
}

// CountTokens counts the text tokens of one message. Image parts are not
// counted.
func (tc *TokenCounter) CountTokens(msg chat.Message) int {
	return len(tc.encoding.Encode(msg.Content.PlainText(), nil, nil))
}

// CountRequestTokens counts the total number of tokens in a request
func (tc *TokenCounter) CountRequestTokens(req *chat.Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += tc.CountTokens(msg)
	}
	return total
}

// ValidateTokens checks that the estimated prompt fits maxContextTokens.
func (tc *TokenCounter) ValidateTokens(req *chat.Request, maxContextTokens int) (int, error) {
	total := tc.CountRequestTokens(req)
	if total > maxContextTokens {
		return total, fmt.Errorf("total tokens (%d) exceeds max context length (%d)", total, maxContextTokens)
	}
	return total, nil
}
