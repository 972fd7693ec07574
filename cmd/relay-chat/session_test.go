package main

import (
	"context"
	"testing"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/mocks"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSession(t *testing.T) (*session, map[provider.Kind]provider.Adapter) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Credentials.Defaults = map[string]string{"openai": "sk", "anthropic": "ant", "openrouter": "or"}
	adapters := mocks.NewMockAdapters()
	store := usage.NewMemoryStore()
	logger := zaptest.NewLogger(t)

	relay, err := provider.NewRelay(cfg, adapters, provider.NewConfigCredentials(cfg.Credentials), logger,
		provider.WithUsage(usage.NewAccountant(store, logger)),
		provider.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	return &session{relay: relay, store: store, user: "cli", model: "gpt-4o"}, adapters
}

func TestSessionKeepsHistory(t *testing.T) {
	s, adapters := newTestSession(t)
	s.system = "be brief"

	res := s.send(context.Background(), "hello")
	require.True(t, res.OK())
	assert.Equal(t, "hello", res.Text)

	res = s.send(context.Background(), "again")
	require.True(t, res.OK())
	require.Len(t, s.history, 4)

	calls := adapters[provider.KindOpenAI].(*mocks.MockAdapter).Calls()
	require.Len(t, calls, 2)
	last := calls[1].Request.Messages
	require.Len(t, last, 4)
	assert.Equal(t, chat.RoleSystem, last[0].Role)
	assert.Equal(t, "again", last[3].Content.PlainText())
}

func TestSessionFailedTurnIsNotKept(t *testing.T) {
	s, _ := newTestSession(t)
	// Drop the default keys so the turn fails on credentials.
	require.NoError(t, s.relay.Update(config.DefaultConfig()))

	res := s.send(context.Background(), "hello")
	require.False(t, res.OK())
	assert.Empty(t, s.history)
}

func TestSessionCommands(t *testing.T) {
	s, _ := newTestSession(t)

	out, quit := s.command("/model claude-sonnet-4-5-thinking")
	assert.False(t, quit)
	assert.Equal(t, "claude-sonnet-4-5-thinking", s.model)
	assert.Contains(t, out, "claude-sonnet-4-5-thinking")

	out, _ = s.command("/route")
	assert.Contains(t, out, "anthropic")
	assert.Contains(t, out, `"claude-sonnet-4-5"`)

	_, _ = s.command("/search")
	assert.True(t, s.search)

	out, _ = s.command("/usage")
	assert.Equal(t, "no usage yet", out)

	s.model = "gpt-4o"
	require.True(t, s.send(context.Background(), "ping").OK())
	out, _ = s.command("/usage")
	assert.Contains(t, out, "openai input: 1")

	out, _ = s.command("/health")
	assert.Contains(t, out, "openai healthy=true")

	_, _ = s.command("/clear")
	assert.Empty(t, s.history)

	out, _ = s.command("/bogus")
	assert.Contains(t, out, "unknown command")

	_, quit = s.command("/quit")
	assert.True(t, quit)
}
