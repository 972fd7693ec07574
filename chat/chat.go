// Package chat defines the provider-independent conversation model the relay
// accepts and returns. Every provider adapter translates from Request and
// back to Result; nothing in this package knows about a wire protocol.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// PartType tags the variant held by a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of a multi-part message. Image parts always carry a
// URL the relay can fetch; inlining happens inside adapters.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// ImagePart returns an image reference part.
func ImagePart(url string) Part { return Part{Type: PartImage, URL: url} }

// Content is either plain text or an ordered list of parts. It marshals to a
// JSON string in the first case and to an array in the second.
type Content struct {
	Text  string
	Parts []Part
}

// Multi reports whether the content is multi-part.
func (c Content) Multi() bool { return c.Parts != nil }

// PlainText returns the text of the content, joining text parts with a
// newline and skipping images.
func (c Content) PlainText() string {
	if !c.Multi() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImages reports whether any part is an image reference.
func (c Content) HasImages() bool {
	for _, p := range c.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Multi() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{Text: s}
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts")
	}
	if parts == nil {
		parts = []Part{}
	}
	*c = Content{Parts: parts}
	return nil
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Text builds a plain text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: Content{Text: text}}
}

// Multi builds a multi-part message.
func Multi(role Role, parts ...Part) Message {
	if parts == nil {
		parts = []Part{}
	}
	return Message{Role: role, Content: Content{Parts: parts}}
}

// Tooling holds optional provider-side tool switches.
type Tooling struct {
	WebSearch bool `json:"web_search,omitempty"`
}

// Request is a complete conversation snapshot to send to one provider.
// Messages are in chronological order.
type Request struct {
	User        string    `json:"user"`
	Model       string    `json:"model"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
	Tooling     Tooling   `json:"tooling,omitempty"`
}

// Clone returns a deep copy so adapters can rewrite messages without
// touching the caller's request.
func (r *Request) Clone() *Request {
	cp := *r
	if r.Temperature != nil {
		t := *r.Temperature
		cp.Temperature = &t
	}
	cp.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		cp.Messages[i] = m
		if m.Content.Parts != nil {
			cp.Messages[i].Content.Parts = append([]Part{}, m.Content.Parts...)
		}
	}
	return &cp
}

// Usage is the token count reported by a provider for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Meta describes how a result was produced.
type Meta struct {
	Provider           string `json:"provider"`
	Model              string `json:"model"`
	Attempts           int    `json:"attempts"`
	RequestID          string `json:"request_id,omitempty"`
	ReasoningSupported bool   `json:"reasoning_supported"`
}

// Result is the outcome of a call: either the success fields or Error is
// set, never both.
type Result struct {
	Text          string             `json:"text,omitempty"`
	ReasoningText string             `json:"reasoning_text,omitempty"`
	Usage         Usage              `json:"usage"`
	Error         *errors.RelayError `json:"error,omitempty"`
	Meta          Meta               `json:"meta"`
}

// Success builds a successful result.
func Success(text, reasoning string, usage Usage) Result {
	return Result{Text: text, ReasoningText: reasoning, Usage: usage}
}

// Failure builds an error result.
func Failure(err *errors.RelayError) Result {
	return Result{Error: err}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Error == nil }
