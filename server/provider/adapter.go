// Package provider implements the multi-provider relay: model routing, one
// adapter per wire protocol, bounded retry and the Relay that ties them to
// credentials, usage accounting, circuit breaking and metrics.
package provider

import (
	"context"
	"fmt"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
)

// Kind identifies a provider family.
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindAnthropic  Kind = "anthropic"
	KindOpenRouter Kind = "openrouter"
)

// Kinds lists every provider family in a stable order.
var Kinds = []Kind{KindOpenAI, KindAnthropic, KindOpenRouter}

// Capabilities declares what an adapter can do.
type Capabilities struct {
	Multimodal       bool // accepts image parts
	ReasoningChannel bool // returns reasoning text separately
	CacheHints       bool // marks prompt-cache breakpoints
	SystemChannel    bool // system prompt is a top-level field
	ReasoningEffort  bool // accepts an effort hint
	WebSearch        bool // can enable provider-side web search
}

// Covers reports whether c provides every capability set in need.
func (c Capabilities) Covers(need Capabilities) bool {
	return (!need.Multimodal || c.Multimodal) &&
		(!need.ReasoningChannel || c.ReasoningChannel) &&
		(!need.CacheHints || c.CacheHints) &&
		(!need.SystemChannel || c.SystemChannel) &&
		(!need.ReasoningEffort || c.ReasoningEffort) &&
		(!need.WebSearch || c.WebSearch)
}

// Adapter translates canonical requests to one provider's wire protocol.
// Send makes exactly one provider call; retrying is the caller's concern.
// Expected failures are returned in Result.Error, never as panics.
type Adapter interface {
	Kind() Kind
	Capabilities() Capabilities
	Send(ctx context.Context, call Call) chat.Result
}

// Call is everything an adapter needs for one dispatch. Request is the
// caller's snapshot and must not be modified.
type Call struct {
	Request   *chat.Request
	Route     Route
	Tooling   chat.Tooling // tooling the adapter supports, already filtered
	APIKey    string
	RequestID string
}

// UsageScope returns the counter scope for a successful call. OpenRouter
// breaks usage out per model.
func (c Call) UsageScope() string {
	if c.Route.Kind == KindOpenRouter {
		return fmt.Sprintf("%s/%s", c.Route.Kind, c.Route.Model)
	}
	return string(c.Route.Kind)
}
