package chatsync

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

// Subscription lifecycle states for the conversation-list stream.
const (
	StateIdle        = "idle"
	StateSubscribing = "subscribing"
	StateActive      = "active"
	StateError       = "error"
)

// ConversationsCallback receives the reconciled, recency-ordered list.
type ConversationsCallback func([]*model.Conversation)

// MessagesCallback receives the reconciled ascending message list for one
// conversation.
type MessagesCallback func([]model.Message)

// Synchronizer owns the local conversation/message state for one session
// user. It is the single writer of that state: remote snapshots are
// reconciled by one consumer goroutine per stream, and everything else
// only reads.
type Synchronizer struct {
	userID string

	convs    repo.ConversationRepository
	msgs     repo.MessageRepository
	registry *lifecycle.Registry
	throttle *lifecycle.Throttle
	watchdog *lifecycle.Watchdog
	faults   *faults.Log
	logger   *zap.Logger

	mu            sync.RWMutex
	state         string
	conversations []*model.Conversation
	active        *model.Conversation
	messages      map[string][]model.Message

	listSubs *subscriberSet[[]*model.Conversation]
	msgSubs  map[string]*subscriberSet[[]model.Message]
}

// New constructs a synchronizer for one session user. The registry,
// throttle, and watchdog are process-wide singletons injected by the
// container.
func New(
	userID string,
	convs repo.ConversationRepository,
	msgs repo.MessageRepository,
	registry *lifecycle.Registry,
	throttle *lifecycle.Throttle,
	watchdog *lifecycle.Watchdog,
	faultLog *faults.Log,
	logger *zap.Logger,
) *Synchronizer {
	return &Synchronizer{
		userID:   userID,
		convs:    convs,
		msgs:     msgs,
		registry: registry,
		throttle: throttle,
		watchdog: watchdog,
		faults:   faultLog,
		logger:   logger,
		state:    StateIdle,
		messages: make(map[string][]model.Message),
		listSubs: newSubscriberSet[[]*model.Conversation](),
		msgSubs:  make(map[string]*subscriberSet[[]model.Message]),
	}
}

// State returns the conversation-list subscription state.
func (s *Synchronizer) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conversations returns the current reconciled list, recency-descending.
func (s *Synchronizer) Conversations() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// ActiveConversation returns the active conversation reference, or nil.
func (s *Synchronizer) ActiveConversation() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Messages returns the current message list for a conversation.
func (s *Synchronizer) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out
}

// SubscribeConversations attaches cb to the user's conversation-list
// stream and returns the caller's unsubscribe. The underlying remote
// subscription is a singleton per user id, enforced through the registry;
// overlapping callers share it and the last detach tears it down.
func (s *Synchronizer) SubscribeConversations(cb ConversationsCallback) (func(), error) {
	key := "convlist:" + s.userID

	detach := s.listSubs.attach(func(convs []*model.Conversation) { cb(convs) })

	if s.listSubs.count() == 1 && !s.registry.Has(key) {
		s.setState(StateSubscribing)

		snapshots, unsub, err := s.convs.WatchLinks(s.userID)
		if err != nil {
			detach()
			s.setState(StateError)
			s.faults.Append(faults.CategoryUnknown, "subscribeConversations", err)
			return nil, err
		}

		done := make(chan struct{})
		go s.consumeLinkSnapshots(snapshots, done)

		s.registry.Register(key, func() {
			unsub()
			<-done
			s.setState(StateIdle)
		})
	}

	// Replay current state to the new subscriber.
	if convs := s.Conversations(); len(convs) > 0 {
		cb(convs)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			detach()
			if s.listSubs.count() == 0 {
				s.registry.Remove(key)
			}
		})
	}, nil
}

// consumeLinkSnapshots is the single consumer applying list snapshots in
// delivery order. Per-snapshot errors are swallowed: the previous state
// stands and the UI is never left permanently loading.
func (s *Synchronizer) consumeLinkSnapshots(snapshots <-chan []model.UserConversationLink, done chan<- struct{}) {
	defer close(done)

	s.setState(StateActive)
	for snap := range snapshots {
		s.reconcileConversations(snap)
	}
}

// reconcileConversations resolves every changed link into its full
// conversation document, orders by effective recency, and swaps the active
// reference when its preview changed.
func (s *Synchronizer) reconcileConversations(links []model.UserConversationLink) {
	ctx, cancel := fetchContext(listFetchTimeout)
	defer cancel()

	fresh := make([]*model.Conversation, 0, len(links))
	for _, link := range links {
		conv, err := s.convs.GetConversation(ctx, link.ConversationID)
		if err != nil {
			s.logger.Warn("conversation fetch during reconcile failed",
				zap.String("conversation_id", link.ConversationID),
				zap.Error(err),
			)
			continue
		}
		if conv == nil {
			continue
		}
		fresh = append(fresh, conv)
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].EffectiveRecency().After(fresh[j].EffectiveRecency())
	})

	s.mu.Lock()
	s.conversations = fresh

	if s.active != nil {
		for _, conv := range fresh {
			if conv.ID != s.active.ID {
				continue
			}
			if previewChanged(s.active, conv) {
				// Swap the reference so consumers holding it observe
				// the refreshed preview.
				s.active = conv
			}
			break
		}
	}
	s.mu.Unlock()

	s.watchdog.SetLoading(false, "fetchConversations:"+s.userID)
	s.listSubs.publish(s.Conversations())

	s.logger.Debug("conversation list reconciled",
		zap.String("user_id", s.userID),
		zap.Int("count", len(fresh)),
	)
}

func previewChanged(old, new *model.Conversation) bool {
	switch {
	case old.LastMessage == nil && new.LastMessage == nil:
		return false
	case old.LastMessage == nil || new.LastMessage == nil:
		return true
	default:
		return old.LastMessage.Content != new.LastMessage.Content
	}
}

// SetActiveConversation swaps the active conversation reference.
func (s *Synchronizer) SetActiveConversation(conv *model.Conversation) {
	s.mu.Lock()
	s.active = conv
	s.mu.Unlock()
}

func (s *Synchronizer) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Close tears down every subscription this synchronizer registered.
func (s *Synchronizer) Close() {
	s.registry.Remove("convlist:" + s.userID)

	s.mu.Lock()
	convIDs := make([]string, 0, len(s.msgSubs))
	for id := range s.msgSubs {
		convIDs = append(convIDs, id)
	}
	s.mu.Unlock()

	for _, id := range convIDs {
		s.registry.Remove("messages:" + id)
	}
	s.watchdog.Stop()
}

// subscriberSet is a ref-counted fan-out of one upstream stream to many
// callbacks.
type subscriberSet[T any] struct {
	mu     sync.Mutex
	subs   map[int]func(T)
	nextID int
}

func newSubscriberSet[T any]() *subscriberSet[T] {
	return &subscriberSet[T]{subs: make(map[int]func(T))}
}

func (ss *subscriberSet[T]) attach(cb func(T)) (detach func()) {
	ss.mu.Lock()
	id := ss.nextID
	ss.nextID++
	ss.subs[id] = cb
	ss.mu.Unlock()

	return func() {
		ss.mu.Lock()
		delete(ss.subs, id)
		ss.mu.Unlock()
	}
}

func (ss *subscriberSet[T]) count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.subs)
}

func (ss *subscriberSet[T]) publish(v T) {
	ss.mu.Lock()
	cbs := make([]func(T), 0, len(ss.subs))
	for _, cb := range ss.subs {
		cbs = append(cbs, cb)
	}
	ss.mu.Unlock()

	for _, cb := range cbs {
		cb(v)
	}
}
