package chatsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

// welcomeMessage greets a user opening their first assistant chat.
const welcomeMessage = "Hi! I'm your AI assistant. Ask me anything to get started."

// CreateOrGetConversation resolves the deterministic conversation for the
// participant set, creating it (and its link records) when absent. A
// freshly created assistant chat receives a welcome message from the
// assistant so the thread is never empty.
func (s *Synchronizer) CreateOrGetConversation(ctx context.Context, participants []string) (*model.Conversation, error) {
	isAssistant := false
	for _, p := range participants {
		if p == model.AssistantID {
			isAssistant = true
			break
		}
	}

	conv, created, err := s.convs.CreateOrGet(ctx, participants, isAssistant)
	if err != nil {
		return nil, err
	}

	if created && isAssistant {
		welcome := &model.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         model.AssistantID,
			Content:        welcomeMessage,
			Timestamp:      time.Now().UTC(),
			Status:         model.MessageStatusSent,
			IsAssistant:    true,
		}
		if _, err := s.msgs.InsertMessage(ctx, welcome); err != nil {
			// The conversation exists; a missing welcome is cosmetic.
			s.logger.Warn("welcome message insert failed",
				zap.String("conversation_id", conv.ID),
				zap.Error(err),
			)
		} else if err := s.convs.RecordSend(ctx, conv, welcome); err != nil {
			s.logger.Warn("welcome message record failed",
				zap.String("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}

	return conv, nil
}

// SendMessage persists a message from the session user and applies the
// send side effects (conversation preview, link watermarks) in one batch.
func (s *Synchronizer) SendMessage(ctx context.Context, conv *model.Conversation, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         s.userID,
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
	return msg, nil
}
