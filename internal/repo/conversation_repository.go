package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateOrGet(ctx context.Context, participants []string, isAssistant bool) (*model.Conversation, bool, error)
	ListLinksForUser(ctx context.Context, userID string) ([]model.UserConversationLink, error)
	RecordSend(ctx context.Context, conv *model.Conversation, msg *model.Message) error
	WatchLinks(userID string) (<-chan []model.UserConversationLink, db.UnsubscribeFunc, error)
	PurgeConversation(ctx context.Context, conversationID string) error
	MigrateLegacyLinks(ctx context.Context) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

type conversationRepository struct {
	con      *mongo.Database
	convRepo *db.Repository[model.Conversation]
	linkRepo *db.Repository[model.UserConversationLink]
	msgRepo  *db.Repository[model.Message]
	logger   *zap.Logger
}

func NewConversationRepository(
	con *mongo.Database,
	convRepo *db.Repository[model.Conversation],
	linkRepo *db.Repository[model.UserConversationLink],
	msgRepo *db.Repository[model.Message],
	logger *zap.Logger,
) ConversationRepository {
	return &conversationRepository{
		con:      con,
		convRepo: convRepo,
		linkRepo: linkRepo,
		msgRepo:  msgRepo,
		logger:   logger,
	}
}

// GetConversation fetches a conversation document by id. A missing document
// is returned as (nil, nil).
func (r *conversationRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if id == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.convRepo.FindByID(ctx, id)
	if err != nil {
		if isTransientEmpty(err) {
			r.logger.Debug("conversation not found", zap.String("conversation_id", id))
			return nil, nil
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch conversation failed: %w", err)
	}
	return conv, nil
}

// CreateOrGet resolves the deterministic conversation for the participant
// set, reusing an existing document when present (merge-write preserving
// last_message and created_at) and creating it fresh otherwise. Missing
// per-participant link records are always (re)created; the reserved
// assistant id never gets a link. The bool result reports whether the
// conversation document was newly created.
func (r *conversationRepository) CreateOrGet(ctx context.Context, participants []string, isAssistant bool) (*model.Conversation, bool, error) {
	if len(participants) < 2 {
		return nil, false, ErrTooFewParticipants
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	id := model.ConversationID(participants)
	now := time.Now().UTC()

	existing, err := r.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}

	created := existing == nil
	if created {
		conv := model.Conversation{
			ID:              id,
			Participants:    participants,
			CreatedAt:       now,
			UpdatedAt:       now,
			IsAssistantChat: isAssistant,
		}
		if _, err := r.convRepo.Create(ctx, conv); err != nil {
			if !mongo.IsDuplicateKeyError(err) {
				r.logger.Error("failed to create conversation",
					zap.String("conversation_id", id),
					zap.Error(err),
				)
				return nil, false, fmt.Errorf("create conversation failed: %w", err)
			}
			// Lost the race to a concurrent caller; treat as existing.
			created = false
		}
		existing = &conv
	} else {
		// Merge-write: refresh participants and updated_at only.
		update := bson.M{
			"participants":      participants,
			"updated_at":        now,
			"is_assistant_chat": isAssistant,
		}
		if _, err := r.convRepo.Upsert(ctx, id, update); err != nil {
			return nil, false, fmt.Errorf("merge conversation failed: %w", err)
		}
		existing.UpdatedAt = now
	}

	if err := r.ensureLinks(ctx, existing, now); err != nil {
		return nil, created, err
	}

	r.logger.Info("conversation resolved",
		zap.String("conversation_id", id),
		zap.Bool("created", created),
		zap.Bool("assistant", isAssistant),
	)
	return existing, created, nil
}

// ensureLinks upserts the per-(user, conversation) link for every
// non-assistant participant.
func (r *conversationRepository) ensureLinks(ctx context.Context, conv *model.Conversation, now time.Time) error {
	models := make([]mongo.WriteModel, 0, len(conv.Participants))
	for _, userID := range conv.Participants {
		if userID == model.AssistantID {
			continue
		}
		other := otherParticipant(conv.Participants, userID)
		linkID := model.LinkID(userID, conv.ID)

		update := mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": linkID}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"user_id":              userID,
					"conversation_id":      conv.ID,
					"other_participant_id": other,
					"updated_at":           now,
				},
				"$setOnInsert": bson.M{
					"last_read_timestamp": now,
				},
			}).
			SetUpsert(true)
		models = append(models, update)
	}

	if len(models) == 0 {
		return nil
	}

	if _, err := r.linkRepo.Collection().BulkWrite(ctx, models); err != nil {
		r.logger.Error("failed to upsert link records",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return fmt.Errorf("upsert links failed: %w", err)
	}
	return nil
}

// ListLinksForUser returns the user's link records ordered by recency.
func (r *conversationRepository) ListLinksForUser(ctx context.Context, userID string) ([]model.UserConversationLink, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("user_id", userID).Build()
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	links, err := r.linkRepo.FindAll(ctx, filter, opts)
	if err != nil {
		if isTransientEmpty(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list links failed: %w", err)
	}
	return links, nil
}

// RecordSend applies every side effect of a message send in one atomic
// batch: conversation last-message preview, sender's last-read watermark,
// and the updated_at bump on all participant links that drives list
// ordering.
func (r *conversationRepository) RecordSend(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	models := []mongo.WriteModel{
		mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": conv.ID}).
			SetUpdate(bson.M{"$set": bson.M{
				"last_message": model.LastMessage{
					Content:   msg.Content,
					Sender:    msg.Sender,
					Timestamp: msg.Timestamp,
				},
				"updated_at": msg.Timestamp,
			}}),
	}

	for _, userID := range conv.Participants {
		if userID == model.AssistantID {
			continue
		}
		set := bson.M{"updated_at": msg.Timestamp}
		if userID == msg.Sender {
			set["last_read_timestamp"] = msg.Timestamp
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": model.LinkID(userID, conv.ID)}).
			SetUpdate(bson.M{"$set": set}))
	}

	// The conversation update and every link update land in one
	// transaction, so the list ordering a link drives never disagrees
	// with the preview it orders by.
	session, err := r.con.Client().StartSession()
	if err != nil {
		return fmt.Errorf("record send failed: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := r.convRepo.Collection().BulkWrite(sc, models[:1]); err != nil {
			return nil, err
		}
		if len(models) > 1 {
			if _, err := r.linkRepo.Collection().BulkWrite(sc, models[1:]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		r.logger.Error("failed to record send",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return fmt.Errorf("record send failed: %w", err)
	}
	return nil
}

// WatchLinks opens a push subscription over the user's link records. The
// caller owns exactly one unsubscribe.
func (r *conversationRepository) WatchLinks(userID string) (<-chan []model.UserConversationLink, db.UnsubscribeFunc, error) {
	filter := db.NewFilter().Eq("user_id", userID).Build()
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	sub, err := db.Watch(r.linkRepo, filter, opts, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("watch links failed: %w", err)
	}
	return sub.Snapshots, sub.Unsubscribe, nil
}

// PurgeConversation removes a conversation, its messages, and its link
// records. This is the only path that models real deletion; an empty
// message snapshot never does. Administrative tooling, off the hot path.
func (r *conversationRepository) PurgeConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := r.msgRepo.DeleteMany(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build()); err != nil {
		return fmt.Errorf("purge messages failed: %w", err)
	}
	if _, err := r.linkRepo.DeleteMany(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build()); err != nil {
		return fmt.Errorf("purge links failed: %w", err)
	}
	if _, err := r.convRepo.Delete(ctx, bson.M{"_id": conversationID}); err != nil {
		return fmt.Errorf("purge conversation failed: %w", err)
	}

	r.logger.Warn("conversation purged", zap.String("conversation_id", conversationID))
	return nil
}

// MigrateLegacyLinks backfills link records for conversations written
// before the link projection existed. Administrative/offline tool; it does
// not run on the hot synchronization path. Documents are decoded raw
// because legacy writers stored updated_at in several wire shapes that
// predate the typed schema.
func (r *conversationRepository) MigrateLegacyLinks(ctx context.Context) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	cursor, err := r.convRepo.Collection().Find(ctx, db.Empty())
	if err != nil {
		return 0, fmt.Errorf("migrate scan failed: %w", err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("migrate scan failed: %w", err)
	}

	var migrated int64
	for _, doc := range docs {
		conv, ok := legacyConversation(doc)
		if !ok {
			continue
		}
		for _, userID := range conv.Participants {
			if userID == model.AssistantID {
				continue
			}
			linkID := model.LinkID(userID, conv.ID)
			exists, err := r.linkRepo.Exists(ctx, bson.M{"_id": linkID})
			if err != nil || exists {
				continue
			}
			migrated++
		}
		if err := r.ensureLinks(ctx, conv, conv.UpdatedAt); err != nil {
			return migrated, err
		}
	}

	r.logger.Info("legacy link migration complete", zap.Int64("links_created", migrated))
	return migrated, nil
}

// legacyConversation coerces a raw conversation document into the typed
// model, absorbing the timestamp shapes older writers produced. A document
// without a string id is skipped.
func legacyConversation(doc bson.M) (*model.Conversation, bool) {
	id, _ := doc["_id"].(string)
	if id == "" {
		return nil, false
	}

	conv := &model.Conversation{ID: id}
	if raw, ok := doc["participants"].(bson.A); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				conv.Participants = append(conv.Participants, s)
			}
		}
	}

	if ts, ok := db.NormalizeTime(doc["updated_at"]); ok {
		conv.UpdatedAt = ts
	} else {
		conv.UpdatedAt = time.Now().UTC()
	}
	return conv, true
}

// DeleteAllForUser removes every conversation the user participates in,
// plus messages and links. Test/data-reset tooling.
func (r *conversationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	links, err := r.ListLinksForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := r.PurgeConversation(ctx, link.ConversationID); err != nil {
			return err
		}
	}
	return nil
}

func otherParticipant(participants []string, userID string) string {
	for _, p := range participants {
		if p != userID {
			return p
		}
	}
	return ""
}
