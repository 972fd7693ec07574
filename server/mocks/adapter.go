// Package mocks provides test doubles for the relay's provider adapters and
// configuration watcher.
package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
)

// MockAdapter implements provider.Adapter without any network calls.
//
// Example usage:
//
//	adapter := mocks.NewMockAdapter(provider.KindOpenAI, func(ctx context.Context, call provider.Call) chat.Result {
//	    return chat.Success("mocked response", "", chat.Usage{InputTokens: 3, OutputTokens: 2})
//	})
type MockAdapter struct {
	KindValue      provider.Kind
	Caps           provider.Capabilities
	SendFunc       func(context.Context, provider.Call) chat.Result
	TranscribeFunc func(ctx context.Context, apiKey, filename string, audio io.Reader) (string, *errors.RelayError)

	mu    sync.Mutex
	calls []provider.Call
}

var (
	_ provider.Adapter     = (*MockAdapter)(nil)
	_ provider.Transcriber = (*MockAdapter)(nil)
)

// NewMockAdapter creates a mock with every capability, so any route of its
// kind is accepted.
func NewMockAdapter(kind provider.Kind, send func(context.Context, provider.Call) chat.Result) *MockAdapter {
	return &MockAdapter{
		KindValue: kind,
		Caps: provider.Capabilities{
			Multimodal:       true,
			ReasoningChannel: true,
			CacheHints:       true,
			SystemChannel:    true,
			ReasoningEffort:  true,
			WebSearch:        true,
		},
		SendFunc: send,
	}
}

// NewMockAdapters returns one echoing mock per provider family.
func NewMockAdapters() map[provider.Kind]provider.Adapter {
	out := make(map[provider.Kind]provider.Adapter, len(provider.Kinds))
	for _, kind := range provider.Kinds {
		out[kind] = NewMockAdapter(kind, nil)
	}
	return out
}

func (m *MockAdapter) Kind() provider.Kind { return m.KindValue }

func (m *MockAdapter) Capabilities() provider.Capabilities { return m.Caps }

// Send records the call and delegates to SendFunc. Without one it echoes
// the last message back.
func (m *MockAdapter) Send(ctx context.Context, call provider.Call) chat.Result {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, call)
	}
	msgs := call.Request.Messages
	text := ""
	if len(msgs) > 0 {
		text = msgs[len(msgs)-1].Content.PlainText()
	}
	return chat.Success(text, "", chat.Usage{InputTokens: 1, OutputTokens: 1})
}

// Transcribe delegates to TranscribeFunc or returns a fixed transcript.
func (m *MockAdapter) Transcribe(ctx context.Context, apiKey, filename string, audio io.Reader) (string, *errors.RelayError) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, apiKey, filename, audio)
	}
	return "transcript", nil
}

// Calls returns the calls seen so far.
func (m *MockAdapter) Calls() []provider.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.Call(nil), m.calls...)
}
