package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (p *stubProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingMsgRepo struct {
	mu       sync.Mutex
	inserted []model.Message
}

func (r *recordingMsgRepo) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, *msg)
	return msg.ID, nil
}

func (r *recordingMsgRepo) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.inserted {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *recordingMsgRepo) ListMessagesPage(ctx context.Context, conversationID string, page int64) ([]model.Message, error) {
	return r.ListMessages(ctx, conversationID)
}

func (r *recordingMsgRepo) MarkStatus(ctx context.Context, messageID, status string) error {
	return nil
}

func (r *recordingMsgRepo) WatchMessages(conversationID string) (<-chan []model.Message, db.UnsubscribeFunc, error) {
	ch := make(chan []model.Message)
	close(ch)
	return ch, func() {}, nil
}

func (r *recordingMsgRepo) assistantMessages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.inserted {
		if m.IsAssistant {
			out = append(out, m)
		}
	}
	return out
}

type noopConvRepo struct{}

func (noopConvRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return nil, nil
}

func (noopConvRepo) CreateOrGet(ctx context.Context, participants []string, isAssistant bool) (*model.Conversation, bool, error) {
	return nil, false, nil
}

func (noopConvRepo) ListLinksForUser(ctx context.Context, userID string) ([]model.UserConversationLink, error) {
	return nil, nil
}

func (noopConvRepo) RecordSend(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	return nil
}

func (noopConvRepo) WatchLinks(userID string) (<-chan []model.UserConversationLink, db.UnsubscribeFunc, error) {
	ch := make(chan []model.UserConversationLink)
	close(ch)
	return ch, func() {}, nil
}

func (noopConvRepo) PurgeConversation(ctx context.Context, conversationID string) error { return nil }

func (noopConvRepo) MigrateLegacyLinks(ctx context.Context) (int64, error) { return 0, nil }

func (noopConvRepo) DeleteAllForUser(ctx context.Context, userID string) error { return nil }

func newTestOrchestrator(provider Provider, msgs *recordingMsgRepo) *Orchestrator {
	logger := zap.NewNop()
	o := NewOrchestrator(provider, msgs, noopConvRepo{}, faults.NewLog(logger), logger)
	o.settle = time.Millisecond
	o.backoff = time.Millisecond
	o.timeout = time.Second
	return o
}

func testConversation() *model.Conversation {
	return &model.Conversation{
		ID:              "u1_assistant",
		Participants:    []string{"u1", model.AssistantID},
		IsAssistantChat: true,
	}
}

func TestRespond_Success(t *testing.T) {
	provider := &stubProvider{reply: "42."}
	msgs := &recordingMsgRepo{}
	o := newTestOrchestrator(provider, msgs)

	reply, err := o.Respond(context.Background(), testConversation(), "u1", "what is the answer?")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != "42." || !reply.IsAssistant || reply.Sender != model.AssistantID {
		t.Fatalf("reply = %+v, want assistant-authored model answer", reply)
	}
	if got := msgs.assistantMessages(); len(got) != 1 {
		t.Fatalf("assistant messages persisted = %d, want 1", len(got))
	}
}

func TestRespond_FallbackKeepsOriginalError(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	provider := &stubProvider{err: wantErr}
	msgs := &recordingMsgRepo{}
	o := newTestOrchestrator(provider, msgs)

	reply, err := o.Respond(context.Background(), testConversation(), "u1", "hello")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the original model failure", err)
	}
	if provider.callCount() != 2 {
		t.Fatalf("model calls = %d, want initial + one retry", provider.callCount())
	}

	persisted := msgs.assistantMessages()
	if len(persisted) != 1 {
		t.Fatalf("assistant messages persisted = %d, want exactly one fallback", len(persisted))
	}
	if persisted[0].Content != fallbackReply {
		t.Fatalf("fallback content = %q, want %q", persisted[0].Content, fallbackReply)
	}
	if reply == nil || reply.Content != fallbackReply {
		t.Fatalf("returned reply = %+v, want the persisted fallback", reply)
	}
}

func TestRespond_MissingCredentialNeverRetried(t *testing.T) {
	provider := &stubProvider{err: ErrMissingCredential}
	msgs := &recordingMsgRepo{}
	o := newTestOrchestrator(provider, msgs)

	_, err := o.Respond(context.Background(), testConversation(), "u1", "hello")
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("model calls = %d, want 1 (configuration errors are not retried)", provider.callCount())
	}
	if got := msgs.assistantMessages(); len(got) != 1 || got[0].Content != fallbackReply {
		t.Fatalf("persisted = %+v, want one fallback message", got)
	}
}

func TestRespond_ContextPrefixedWithSystemPreamble(t *testing.T) {
	var captured []Message
	provider := &captureProvider{reply: "ok", out: &captured}
	msgs := &recordingMsgRepo{}
	o := newTestOrchestrator(provider, msgs)

	if _, err := o.Respond(context.Background(), testConversation(), "u1", "hi there"); err != nil {
		t.Fatal(err)
	}
	if len(captured) < 2 {
		t.Fatalf("context = %d messages, want preamble + history", len(captured))
	}
	if captured[0].Role != RoleSystem {
		t.Fatalf("first message role = %q, want system preamble", captured[0].Role)
	}
	if captured[len(captured)-1].Content != "hi there" {
		t.Fatalf("last context entry = %q, want the new user message", captured[len(captured)-1].Content)
	}
}

type captureProvider struct {
	reply string
	out   *[]Message
}

func (p *captureProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	*p.out = append([]Message(nil), messages...)
	return p.reply, nil
}

func TestSimulator_KeywordResponses(t *testing.T) {
	sim := NewSimulator()
	cases := []struct {
		input string
		want  string
	}{
		{"hello there", "Hello"},
		{"can you help me", "I can answer"},
		{"who are you exactly", "assistant"},
		{"thanks a lot", "welcome"},
		{"is it raining?", "good question"},
		{"just rambling", "You said: just rambling"},
	}
	for _, tc := range cases {
		got, err := sim.Chat(context.Background(), []Message{{Role: RoleUser, Content: tc.input}})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(got, tc.want) {
			t.Errorf("Chat(%q) = %q, want substring %q", tc.input, got, tc.want)
		}
	}
}
