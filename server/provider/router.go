package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
)

// Mutations are the model-family adjustments an adapter applies on top of
// the canonical request. They are data; the router never edits a request.
type Mutations struct {
	DropTemperature bool   // omit temperature from the payload
	SystemRole      string // wire role for system messages, empty keeps "system"
	ReasoningEffort string // effort hint, empty for none
	ThinkingBudget  int    // reasoning token budget, zero disables thinking
}

// Requires returns the adapter capabilities the mutations depend on.
func (m Mutations) Requires() Capabilities {
	return Capabilities{
		ReasoningChannel: m.ThinkingBudget > 0,
		ReasoningEffort:  m.ReasoningEffort != "",
	}
}

// Route is the router's decision for one model id.
type Route struct {
	Kind      Kind
	Model     string // model id sent on the wire
	Mutations Mutations
}

// Router classifies model ids. Rules are evaluated in order and the first
// match wins:
//
//  1. an OpenAI chat prefix (gpt-)
//  2. the reasoning pattern (letter then digit, e.g. o1, o3-mini)
//  3. the Anthropic prefix (claude-), with an optional -thinking suffix
//  4. everything else goes to OpenRouter
type Router struct {
	openAIPrefixes  []string
	reasoning       *regexp.Regexp
	anthropicPrefix string
	thinkingSuffix  string
	thinkingBudget  int
	effort          string
}

// NewRouter compiles the routing rules.
func NewRouter(cfg config.RouterConfig) (*Router, error) {
	re, err := regexp.Compile(cfg.ReasoningPattern)
	if err != nil {
		return nil, fmt.Errorf("compile reasoning pattern: %w", err)
	}
	return &Router{
		openAIPrefixes:  append([]string(nil), cfg.OpenAIPrefixes...),
		reasoning:       re,
		anthropicPrefix: cfg.AnthropicPrefix,
		thinkingSuffix:  cfg.ThinkingSuffix,
		thinkingBudget:  cfg.ThinkingBudget,
		effort:          cfg.ReasoningEffort,
	}, nil
}

// Route picks the adapter and mutations for model.
func (r *Router) Route(model string) Route {
	for _, p := range r.openAIPrefixes {
		if strings.HasPrefix(model, p) {
			return Route{Kind: KindOpenAI, Model: model}
		}
	}

	if r.reasoning.MatchString(model) {
		return Route{
			Kind:  KindOpenAI,
			Model: model,
			Mutations: Mutations{
				DropTemperature: true,
				SystemRole:      "developer",
				ReasoningEffort: r.effort,
			},
		}
	}

	if strings.HasPrefix(model, r.anthropicPrefix) {
		if base, ok := strings.CutSuffix(model, r.thinkingSuffix); ok {
			return Route{
				Kind:  KindAnthropic,
				Model: base,
				Mutations: Mutations{
					DropTemperature: true,
					ThinkingBudget:  r.thinkingBudget,
				},
			}
		}
		return Route{Kind: KindAnthropic, Model: model}
	}

	return Route{
		Kind:      KindOpenRouter,
		Model:     model,
		Mutations: Mutations{ReasoningEffort: r.effort},
	}
}

// Check verifies that every route the rules can produce is served by an
// adapter with the required capabilities.
func (r *Router) Check(adapters map[Kind]Adapter) error {
	samples := []Route{
		{Kind: KindOpenAI},
		{Kind: KindOpenAI, Mutations: Mutations{DropTemperature: true, SystemRole: "developer", ReasoningEffort: r.effort}},
		{Kind: KindAnthropic},
		{Kind: KindAnthropic, Mutations: Mutations{DropTemperature: true, ThinkingBudget: r.thinkingBudget}},
		{Kind: KindOpenRouter, Mutations: Mutations{ReasoningEffort: r.effort}},
	}
	for _, rt := range samples {
		a, ok := adapters[rt.Kind]
		if !ok {
			return fmt.Errorf("no adapter registered for %s", rt.Kind)
		}
		if !a.Capabilities().Covers(rt.Mutations.Requires()) {
			return fmt.Errorf("adapter %s lacks capabilities required by its routes", rt.Kind)
		}
	}
	return nil
}
