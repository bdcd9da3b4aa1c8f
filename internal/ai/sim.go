package ai

import (
	"context"
	"strings"
)

// Simulator answers from a small canned set so the full response
// pipeline runs without network access or credentials. Enabled through
// configuration in development.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Chat(_ context.Context, messages []Message) (string, error) {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}

	lower := strings.ToLower(last)
	switch {
	case containsAny(lower, "hello", "hi", "hey"):
		return "Hello! How can I help you today?", nil
	case containsAny(lower, "help", "what can you do"):
		return "I can answer questions, chat about your conversations, and help you draft messages. What do you need?", nil
	case containsAny(lower, "who are you", "your name"):
		return "I'm the built-in assistant for this chat app.", nil
	case containsAny(lower, "thank", "thanks"):
		return "You're welcome!", nil
	case strings.HasSuffix(strings.TrimSpace(last), "?"):
		return "That's a good question. In development mode I can only give canned answers, but in production I'd look that up for you.", nil
	default:
		return "You said: " + last, nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
