package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/usage"
	"github.com/google/uuid"
)

const helpText = `Commands:
  /model <id>   switch model
  /route        show where the current model is sent
  /system <txt> set the system prompt
  /search       toggle web search tooling
  /clear        forget the conversation
  /usage        show token counters for this session's user
  /health       show provider health
  /quit         exit`

// session holds one interactive conversation against the relay.
type session struct {
	relay   *provider.Relay
	store   usage.Store
	user    string
	model   string
	system  string
	search  bool
	history []chat.Message
}

// send appends the user turn, runs it and keeps the reply on success.
func (s *session) send(ctx context.Context, text string) chat.Result {
	msgs := make([]chat.Message, 0, len(s.history)+2)
	if s.system != "" {
		msgs = append(msgs, chat.Text(chat.RoleSystem, s.system))
	}
	msgs = append(msgs, s.history...)
	msgs = append(msgs, chat.Text(chat.RoleUser, text))

	res := s.relay.Complete(ctx, uuid.NewString(), &chat.Request{
		User:     s.user,
		Model:    s.model,
		Messages: msgs,
		Tooling:  chat.Tooling{WebSearch: s.search},
	})
	if res.OK() {
		s.history = append(s.history,
			chat.Text(chat.RoleUser, text),
			chat.Text(chat.RoleAssistant, res.Text))
	}
	return res
}

// command runs a slash command. It reports the output and whether the
// session should end.
func (s *session) command(line string) (string, bool) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return "", true
	case "/help":
		return helpText, false
	case "/model":
		if arg == "" {
			return "current model: " + s.model, false
		}
		s.model = arg
		return "model set to " + arg, false
	case "/route":
		r := s.relay.Route(s.model)
		return fmt.Sprintf("%s -> %s as %q %+v", s.model, r.Kind, r.Model, r.Mutations), false
	case "/system":
		s.system = arg
		return "system prompt updated", false
	case "/search":
		s.search = !s.search
		return fmt.Sprintf("web search: %t", s.search), false
	case "/clear":
		s.history = nil
		return "conversation cleared", false
	case "/usage":
		counters := s.store.Snapshot(s.user)
		if len(counters) == 0 {
			return "no usage yet", false
		}
		var b strings.Builder
		for _, c := range counters {
			fmt.Fprintf(&b, "%s %s %s: %d\n", c.Month, c.Scope, c.Direction, c.Value)
		}
		return strings.TrimRight(b.String(), "\n"), false
	case "/health":
		health := s.relay.Health()
		kinds := make([]string, 0, len(health))
		for k := range health {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		var b strings.Builder
		for _, k := range kinds {
			h := health[provider.Kind(k)]
			fmt.Fprintf(&b, "%s healthy=%t breaker=%s requests=%d errors=%d\n",
				k, h.Healthy, h.BreakerState, h.RequestCount, h.ErrorCount)
		}
		return strings.TrimRight(b.String(), "\n"), false
	default:
		return "unknown command " + name + ", try /help", false
	}
}
