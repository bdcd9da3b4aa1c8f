package session

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/chatsync"
	"github.com/Achen718/socket-chat-ui-sub000/internal/event"
	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/hub"
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/presence"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

// Manager builds one synchronizer per connected user and bridges its
// reconciled message snapshots onto the hub, so store change streams —
// not the HTTP send path — drive the new_message echo.
type Manager struct {
	convs    repo.ConversationRepository
	msgs     repo.MessageRepository
	registry *lifecycle.Registry
	throttle *lifecycle.Throttle
	watchdog *lifecycle.Watchdog
	faults   *faults.Log
	hub      *hub.Hub
	watcher  *presence.Watcher
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is one user's live synchronization state.
type Session struct {
	UserID string
	Sync   *chatsync.Synchronizer

	mu            sync.Mutex
	unsubList     func()
	unsubPresence func()
	msgUnsubs     map[string]func()
	lastEchoed    map[string]string // conversationID -> last message id echoed
	manager       *Manager
}

func NewManager(
	convs repo.ConversationRepository,
	msgs repo.MessageRepository,
	registry *lifecycle.Registry,
	throttle *lifecycle.Throttle,
	watchdog *lifecycle.Watchdog,
	faultLog *faults.Log,
	h *hub.Hub,
	watcher *presence.Watcher,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		convs:    convs,
		msgs:     msgs,
		registry: registry,
		throttle: throttle,
		watchdog: watchdog,
		faults:   faultLog,
		hub:      h,
		watcher:  watcher,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Setup returns the session for userID, starting one on first call.
// Idempotent across a user's concurrent connections.
func (m *Manager) Setup(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	s := &Session{
		UserID:     userID,
		Sync:       chatsync.New(userID, m.convs, m.msgs, m.registry, m.throttle, m.watchdog, m.faults, m.logger),
		msgUnsubs:  make(map[string]func()),
		lastEchoed: make(map[string]string),
		manager:    m,
	}

	unsub, err := s.Sync.SubscribeConversations(func(convs []*model.Conversation) {
		m.logger.Debug("conversation list updated",
			zap.String("user_id", userID),
			zap.Int("count", len(convs)),
		)
	})
	if err != nil {
		return nil, err
	}
	s.unsubList = unsub

	// The store's presence stream is the source of truth for the
	// transport echo.
	if m.watcher != nil {
		unsubPresence, err := m.watcher.Subscribe(userID, func(rec model.PresenceRecord) {
			m.hub.PublishPresence(model.PresenceUpdate{
				UserID:   rec.UserID,
				State:    rec.State,
				LastSeen: rec.LastSeen.UnixMilli(),
			})
		})
		if err != nil {
			m.logger.Warn("presence watch failed",
				zap.String("user_id", userID), zap.Error(err))
		} else {
			s.unsubPresence = unsubPresence
		}
	}

	m.sessions[userID] = s
	return s, nil
}

// Teardown closes the user's session and its subscriptions.
func (m *Manager) Teardown(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	if s.unsubList != nil {
		s.unsubList()
	}
	if s.unsubPresence != nil {
		s.unsubPresence()
	}
	for _, unsub := range s.msgUnsubs {
		unsub()
	}
	s.msgUnsubs = make(map[string]func())
	s.mu.Unlock()

	s.Sync.Close()
}

// WatchConversation subscribes the session to one conversation's message
// stream and echoes newly arrived messages into the hub room.
func (s *Session) WatchConversation(conversationID string) error {
	s.mu.Lock()
	if _, ok := s.msgUnsubs[conversationID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	unsub, err := s.Sync.SubscribeMessages(conversationID, func(msgs []model.Message) {
		s.echoLatest(conversationID, msgs)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.msgUnsubs[conversationID] = unsub
	s.mu.Unlock()
	return nil
}

// echoLatest forwards the newest message of a snapshot to the room,
// once. Snapshots replay full state, so the last echoed id gates
// duplicates.
func (s *Session) echoLatest(conversationID string, msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}
	latest := msgs[len(msgs)-1]

	s.mu.Lock()
	if s.lastEchoed[conversationID] == latest.ID {
		s.mu.Unlock()
		return
	}
	s.lastEchoed[conversationID] = latest.ID
	s.mu.Unlock()

	payload, err := json.Marshal(event.NewMessage{
		MessageID:      latest.ID,
		ConversationID: latest.ConversationID,
		SenderID:       latest.Sender,
		Content:        latest.Content,
		Timestamp:      latest.Timestamp.UnixMilli(),
		IsAssistant:    latest.IsAssistant,
	})
	if err != nil {
		return
	}

	s.manager.hub.PublishEvent(event.WsEvent{
		Event:          event.EventNewMessage,
		ConversationID: conversationID,
		Payload:        payload,
		MessageID:      latest.ID,
	}, conversationID)
}
