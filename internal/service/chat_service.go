package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/ai"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
	"github.com/Achen718/socket-chat-ui-sub000/internal/usercache"
)

// ChatService is the pull-style surface behind the HTTP handlers. The
// WebSocket hub and the store subscriptions cover the push side; these
// methods exist for initial load and explicit refresh.
type ChatService interface {
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	CreateOrGetConversation(ctx context.Context, participants []string) (*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, page int64) ([]model.Message, error)
	SendMessage(ctx context.Context, conversationID, senderID, content string) (*model.Message, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]model.User, error)

	// Admin operations.
	PurgeConversation(ctx context.Context, conversationID string) error
	MigrateLegacyLinks(ctx context.Context) (int64, error)
	DeleteUserData(ctx context.Context, userID string) error
}

type chatService struct {
	convs        repo.ConversationRepository
	msgs         repo.MessageRepository
	cache        *usercache.Cache
	orchestrator *ai.Orchestrator
	logger       *zap.Logger
}

func NewChatService(
	convs repo.ConversationRepository,
	msgs repo.MessageRepository,
	cache *usercache.Cache,
	orchestrator *ai.Orchestrator,
	logger *zap.Logger,
) ChatService {
	return &chatService{
		convs:        convs,
		msgs:         msgs,
		cache:        cache,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	links, err := s.convs.ListLinksForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Conversation, 0, len(links))
	for _, link := range links {
		conv, err := s.convs.GetConversation(ctx, link.ConversationID)
		if err != nil || conv == nil {
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *chatService) CreateOrGetConversation(ctx context.Context, participants []string) (*model.Conversation, error) {
	isAssistant := false
	for _, p := range participants {
		if p == model.AssistantID {
			isAssistant = true
			break
		}
	}

	conv, _, err := s.convs.CreateOrGet(ctx, participants, isAssistant)
	return conv, err
}

func (s *chatService) GetMessages(ctx context.Context, conversationID string, page int64) ([]model.Message, error) {
	return s.msgs.ListMessagesPage(ctx, conversationID, page)
}

// SendMessage persists the message with its send side effects. In an
// assistant chat the reply pipeline runs detached: the sender gets their
// message back immediately, the assistant's answer arrives through the
// store subscription.
func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, repo.ErrInvalidConversationID
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         senderID,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Status:         model.MessageStatusSent,
	}
	if _, err := s.msgs.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.convs.RecordSend(ctx, conv, msg); err != nil {
		return nil, err
	}

	// The sender gets their message back immediately; the assistant's
	// answer arrives through the store subscription.
	if conv.IsAssistantChat && s.orchestrator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := s.orchestrator.RespondTo(ctx, conv, msg); err != nil {
				s.logger.Warn("assistant response failed",
					zap.String("conversation_id", conv.ID),
					zap.Error(err),
				)
			}
		}()
	}
	return msg, nil
}

func (s *chatService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.cache.GetByID(ctx, userID)
}

func (s *chatService) GetUsers(ctx context.Context, userIDs []string) (map[string]model.User, error) {
	return s.cache.GetByIDs(ctx, userIDs)
}

// PurgeConversation is the explicit deletion path. Subscriptions going
// empty never delete anything; only this does.
func (s *chatService) PurgeConversation(ctx context.Context, conversationID string) error {
	return s.convs.PurgeConversation(ctx, conversationID)
}

// MigrateLegacyLinks backfills per-participant link records for
// conversations created before links existed.
func (s *chatService) MigrateLegacyLinks(ctx context.Context) (int64, error) {
	return s.convs.MigrateLegacyLinks(ctx)
}

// DeleteUserData removes a departing user's conversations, links, and
// messages, and drops them from the lookup cache.
func (s *chatService) DeleteUserData(ctx context.Context, userID string) error {
	if err := s.convs.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}
