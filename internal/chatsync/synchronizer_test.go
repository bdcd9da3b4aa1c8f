package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

type fakeConvRepo struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	links         map[string]model.UserConversationLink
	recordedSends []string
	listCalls     int
	linkSnapshots chan []model.UserConversationLink
	watchCalls    int
	unsubCalls    int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		conversations: make(map[string]*model.Conversation),
		links:         make(map[string]model.UserConversationLink),
		linkSnapshots: make(chan []model.UserConversationLink, 8),
	}
}

func (f *fakeConvRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.conversations[id]; ok {
		cp := *conv
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeConvRepo) CreateOrGet(ctx context.Context, participants []string, isAssistant bool) (*model.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := model.ConversationID(participants)
	if conv, ok := f.conversations[id]; ok {
		cp := *conv
		return &cp, false, nil
	}
	conv := &model.Conversation{
		ID:              id,
		Participants:    participants,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		IsAssistantChat: isAssistant,
	}
	f.conversations[id] = conv
	cp := *conv
	return &cp, true, nil
}

func (f *fakeConvRepo) ListLinksForUser(ctx context.Context, userID string) ([]model.UserConversationLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []model.UserConversationLink
	for _, link := range f.links {
		if link.UserID == userID {
			out = append(out, link)
		}
	}
	return out, nil
}

func (f *fakeConvRepo) RecordSend(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordedSends = append(f.recordedSends, msg.ID)
	if stored, ok := f.conversations[conv.ID]; ok {
		stored.LastMessage = &model.LastMessage{
			Content:   msg.Content,
			Sender:    msg.Sender,
			Timestamp: msg.Timestamp,
		}
		stored.UpdatedAt = msg.Timestamp
	}
	return nil
}

func (f *fakeConvRepo) WatchLinks(userID string) (<-chan []model.UserConversationLink, db.UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	return f.linkSnapshots, func() {
		f.mu.Lock()
		f.unsubCalls++
		if f.linkSnapshots != nil {
			close(f.linkSnapshots)
			f.linkSnapshots = nil
		}
		f.mu.Unlock()
	}, nil
}

func (f *fakeConvRepo) PurgeConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conversations, conversationID)
	return nil
}

func (f *fakeConvRepo) MigrateLegacyLinks(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeConvRepo) DeleteAllForUser(ctx context.Context, userID string) error { return nil }

type fakeMsgRepo struct {
	mu           sync.Mutex
	inserted     []model.Message
	history      map[string][]model.Message
	listCalls    int
	listErr      error
	msgSnapshots chan []model.Message
	watchCalls   int
	unsubCalls   int
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{
		history:      make(map[string][]model.Message),
		msgSnapshots: make(chan []model.Message, 8),
	}
}

func (f *fakeMsgRepo) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *msg)
	f.history[msg.ConversationID] = append(f.history[msg.ConversationID], *msg)
	return msg.ID, nil
}

func (f *fakeMsgRepo) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.history[conversationID], nil
}

func (f *fakeMsgRepo) ListMessagesPage(ctx context.Context, conversationID string, page int64) ([]model.Message, error) {
	return f.ListMessages(ctx, conversationID)
}

func (f *fakeMsgRepo) MarkStatus(ctx context.Context, messageID, status string) error { return nil }

func (f *fakeMsgRepo) WatchMessages(conversationID string) (<-chan []model.Message, db.UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	return f.msgSnapshots, func() {
		f.mu.Lock()
		f.unsubCalls++
		if f.msgSnapshots != nil {
			close(f.msgSnapshots)
			f.msgSnapshots = nil
		}
		f.mu.Unlock()
	}, nil
}

func newTestSynchronizer(userID string, convs *fakeConvRepo, msgs *fakeMsgRepo) *Synchronizer {
	logger := zap.NewNop()
	return New(
		userID,
		convs,
		msgs,
		lifecycle.NewRegistry(logger),
		lifecycle.NewThrottle(logger),
		lifecycle.NewWatchdog(logger),
		faults.NewLog(logger),
		logger,
	)
}

func TestReconcileMessages_GlitchSuppression(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("u1", convs, msgs)

	seed := []model.Message{
		{ID: "m1", ConversationID: "c1", Content: "one"},
		{ID: "m2", ConversationID: "c1", Content: "two"},
		{ID: "m3", ConversationID: "c1", Content: "three"},
	}
	s.reconcileMessages("c1", seed)
	s.watchdog.SetLoading(true, "subscribeMessages:c1")

	s.reconcileMessages("c1", nil)

	got := s.Messages("c1")
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3 retained after empty snapshot", len(got))
	}
	if s.watchdog.MessagesLoading() {
		t.Fatal("loading flag must be cleared by the suppressed snapshot")
	}
}

func TestReconcileMessages_EmptyOverEmptyApplies(t *testing.T) {
	s := newTestSynchronizer("u1", newFakeConvRepo(), newFakeMsgRepo())

	s.reconcileMessages("c1", nil)
	if got := s.Messages("c1"); len(got) != 0 {
		t.Fatalf("messages = %d, want 0", len(got))
	}
}

func TestCreateOrGetConversation_DeterministicID(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("userA", convs, msgs)

	c1, err := s.CreateOrGetConversation(context.Background(), []string{"userA", "userB"})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s.CreateOrGetConversation(context.Background(), []string{"userB", "userA"})
	if err != nil {
		t.Fatal(err)
	}

	if c1.ID != c2.ID {
		t.Fatalf("ids differ: %q vs %q", c1.ID, c2.ID)
	}
	if len(convs.conversations) != 1 {
		t.Fatalf("documents = %d, want 1", len(convs.conversations))
	}
}

func TestCreateOrGetConversation_AssistantWelcome(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("userA", convs, msgs)

	conv, err := s.CreateOrGetConversation(context.Background(), []string{"userA", model.AssistantID})
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID != "userA_assistant" {
		t.Fatalf("conversation id = %q, want %q", conv.ID, "userA_assistant")
	}
	if len(msgs.inserted) != 1 || !msgs.inserted[0].IsAssistant {
		t.Fatalf("inserted = %+v, want one assistant welcome message", msgs.inserted)
	}

	// Reopening the chat must not add a second welcome.
	if _, err := s.CreateOrGetConversation(context.Background(), []string{"userA", model.AssistantID}); err != nil {
		t.Fatal(err)
	}
	if len(msgs.inserted) != 1 {
		t.Fatalf("inserted = %d messages, want still 1", len(msgs.inserted))
	}
}

func TestFetchMessages_Throttled(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("u1", convs, msgs)

	s.FetchMessages(context.Background(), "c1")
	s.FetchMessages(context.Background(), "c1")

	if msgs.listCalls != 1 {
		t.Fatalf("remote list calls = %d, want 1 (second call inside cooldown)", msgs.listCalls)
	}
}

func TestFetchMessages_FailureRecordedOnWatchdog(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	msgs.listErr = errors.New("store down")
	s := newTestSynchronizer("u1", convs, msgs)

	s.FetchMessages(context.Background(), "c1")

	if got := s.watchdog.MessagesError(); got != "store down" {
		t.Fatalf("MessagesError = %q, want %q", got, "store down")
	}
	if s.watchdog.MessagesLoading() {
		t.Fatal("loading flag must be cleared after a failed fetch")
	}
}

func TestSubscribeMessages_SharesOneUpstream(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("u1", convs, msgs)

	var mu sync.Mutex
	counts := map[string]int{}
	sub := func(tag string) MessagesCallback {
		return func([]model.Message) {
			mu.Lock()
			counts[tag]++
			mu.Unlock()
		}
	}

	unsub1, err := s.SubscribeMessages("c1", sub("a"))
	if err != nil {
		t.Fatal(err)
	}
	unsub2, err := s.SubscribeMessages("c1", sub("b"))
	if err != nil {
		t.Fatal(err)
	}

	if msgs.watchCalls != 1 {
		t.Fatalf("upstream subscriptions = %d, want 1", msgs.watchCalls)
	}

	msgs.msgSnapshots <- []model.Message{{ID: "m1", ConversationID: "c1"}}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := counts["a"] == 1 && counts["b"] == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if counts["a"] != 1 || counts["b"] != 1 {
		mu.Unlock()
		t.Fatalf("callback counts = %v, want both 1", counts)
	}
	mu.Unlock()

	unsub1()
	if msgs.unsubCalls != 0 {
		t.Fatal("upstream must stay open while a subscriber remains")
	}
	unsub2()
	if msgs.unsubCalls != 1 {
		t.Fatalf("upstream unsubscribed %d times, want 1", msgs.unsubCalls)
	}
}

func TestSubscribeConversations_ReconcilesAndSorts(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("u1", convs, msgs)

	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	convs.conversations["u1_u2"] = &model.Conversation{
		ID: "u1_u2", Participants: []string{"u1", "u2"}, UpdatedAt: old,
		LastMessage: &model.LastMessage{Content: "old", Timestamp: old},
	}
	convs.conversations["u1_u3"] = &model.Conversation{
		ID: "u1_u3", Participants: []string{"u1", "u3"}, UpdatedAt: recent,
		LastMessage: &model.LastMessage{Content: "new", Timestamp: recent},
	}

	var mu sync.Mutex
	var latest []*model.Conversation
	unsub, err := s.SubscribeConversations(func(list []*model.Conversation) {
		mu.Lock()
		latest = list
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	convs.linkSnapshots <- []model.UserConversationLink{
		{UserID: "u1", ConversationID: "u1_u2"},
		{UserID: "u1", ConversationID: "u1_u3"},
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(latest)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(latest) != 2 {
		t.Fatalf("reconciled %d conversations, want 2", len(latest))
	}
	if latest[0].ID != "u1_u3" {
		t.Fatalf("first conversation = %q, want most recent first", latest[0].ID)
	}
	if s.State() != StateActive {
		t.Fatalf("state = %q, want %q", s.State(), StateActive)
	}
}

func TestReconcile_SwapsActiveOnPreviewChange(t *testing.T) {
	convs := newFakeConvRepo()
	msgs := newFakeMsgRepo()
	s := newTestSynchronizer("u1", convs, msgs)

	stale := &model.Conversation{
		ID: "u1_u2", Participants: []string{"u1", "u2"},
		LastMessage: &model.LastMessage{Content: "before"},
	}
	s.SetActiveConversation(stale)

	convs.conversations["u1_u2"] = &model.Conversation{
		ID: "u1_u2", Participants: []string{"u1", "u2"}, UpdatedAt: time.Now(),
		LastMessage: &model.LastMessage{Content: "after", Timestamp: time.Now()},
	}

	s.reconcileConversations([]model.UserConversationLink{
		{UserID: "u1", ConversationID: "u1_u2"},
	})

	active := s.ActiveConversation()
	if active == stale {
		t.Fatal("active reference must be swapped when the preview changed")
	}
	if active.LastMessage.Content != "after" {
		t.Fatalf("active preview = %q, want %q", active.LastMessage.Content, "after")
	}
}
