package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

const messagePageSize = 50

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	ListMessagesPage(ctx context.Context, conversationID string, page int64) ([]model.Message, error)
	MarkStatus(ctx context.Context, messageID, status string) error
	WatchMessages(conversationID string) (<-chan []model.Message, db.UnsubscribeFunc, error)
}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(mongoRepo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

// InsertMessage persists a message, retrying transient failures with
// exponential backoff.
func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return "", ErrInvalidConversationID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = model.MessageStatusSent
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		_, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			m.logger.Info("message inserted",
				zap.String("message_id", msg.ID),
				zap.String("conversation_id", msg.ConversationID),
				zap.Bool("assistant", msg.IsAssistant),
				zap.Int("attempt", attempt+1),
			)
			return msg.ID, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID),
	)
	return "", fmt.Errorf("insert message failed: %w", lastErr)
}

// ListMessages returns the full ordered history for a conversation,
// timestamp ascending.
func (m *messageRepository) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	msgs, err := m.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		if isTransientEmpty(err) {
			return nil, nil
		}
		m.logger.Error("failed to list messages",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("list messages failed: %w", err)
	}

	m.logger.Debug("messages listed",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(msgs)),
	)
	return msgs, nil
}

// ListMessagesPage returns one page of history for the pull-style HTTP
// surface, timestamp ascending, 1-based page.
func (m *messageRepository) ListMessagesPage(ctx context.Context, conversationID string, page int64) ([]model.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	if page < 1 {
		page = 1
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetSkip((page - 1) * messagePageSize).
		SetLimit(messagePageSize)

	msgs, err := m.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		if isTransientEmpty(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list messages page failed: %w", err)
	}
	return msgs, nil
}

// MarkStatus advances a message's delivery status (sent -> delivered ->
// read) from transport receipts.
func (m *messageRepository) MarkStatus(ctx context.Context, messageID, status string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.Update(ctx, bson.M{"_id": messageID}, bson.M{"status": status})
	if err != nil {
		return fmt.Errorf("mark status failed: %w", err)
	}
	return nil
}

// WatchMessages opens a push subscription over a conversation's message
// stream, ordered by timestamp ascending.
func (m *messageRepository) WatchMessages(conversationID string) (<-chan []model.Message, db.UnsubscribeFunc, error) {
	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	sub, err := db.Watch(m.mongoRepo, filter, opts, m.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("watch messages failed: %w", err)
	}
	return sub.Snapshots, sub.Unsubscribe, nil
}
