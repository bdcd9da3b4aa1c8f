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

type PresenceRepository interface {
	WriteTransition(ctx context.Context, userID, state string, lastSeen time.Time) error
	TouchLastSeen(ctx context.Context, userID string) error
	GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error)
	WatchPresence(userID string) (<-chan []model.PresenceRecord, db.UnsubscribeFunc, error)
}

type presenceRepository struct {
	con          *mongo.Database
	presenceRepo *db.Repository[model.PresenceRecord]
	userRepo     *db.Repository[model.User]
	logger       *zap.Logger
}

func NewPresenceRepository(
	con *mongo.Database,
	presenceRepo *db.Repository[model.PresenceRecord],
	userRepo *db.Repository[model.User],
	logger *zap.Logger,
) PresenceRepository {
	return &presenceRepository{
		con:          con,
		presenceRepo: presenceRepo,
		userRepo:     userRepo,
		logger:       logger,
	}
}

// WriteTransition writes the dedicated presence record and the denormalized
// status field on the user record as one atomic batch, so observers of
// either view never see them disagree.
func (r *presenceRepository) WriteTransition(ctx context.Context, userID, state string, lastSeen time.Time) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	// Both writes land in one transaction so observers of either view
	// never see the presence record and the denormalized status disagree.
	session, err := r.con.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start presence session failed: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		opts := options.Update().SetUpsert(true)
		if _, err := r.presenceRepo.Collection().UpdateOne(sc,
			bson.M{"_id": userID},
			bson.M{"$set": bson.M{"state": state, "last_seen": lastSeen}},
			opts,
		); err != nil {
			return nil, err
		}
		if _, err := r.userRepo.Collection().UpdateOne(sc,
			bson.M{"_id": userID},
			bson.M{"$set": bson.M{"status": state}},
		); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		r.logger.Error("failed to write presence transition",
			zap.String("user_id", userID),
			zap.String("state", state),
			zap.Error(err),
		)
		return fmt.Errorf("write presence failed: %w", err)
	}

	r.logger.Debug("presence transition written",
		zap.String("user_id", userID),
		zap.String("state", state),
	)
	return nil
}

// TouchLastSeen refreshes only the last-seen timestamp using the server's
// own clock, letting observers distinguish a silently connected client from
// a crashed one by staleness.
func (r *presenceRepository) TouchLastSeen(ctx context.Context, userID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := r.presenceRepo.TouchServerTime(ctx, userID, "last_seen"); err != nil {
		return fmt.Errorf("touch last seen failed: %w", err)
	}
	return nil
}

// GetPresence fetches one presence record. Missing records read as offline.
func (r *presenceRepository) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	rec, err := r.presenceRepo.FindByID(ctx, userID)
	if err != nil {
		if isTransientEmpty(err) {
			return &model.PresenceRecord{UserID: userID, State: model.PresenceOffline}, nil
		}
		return nil, fmt.Errorf("fetch presence failed: %w", err)
	}
	return rec, nil
}

// WatchPresence opens a push subscription over one user's presence record.
func (r *presenceRepository) WatchPresence(userID string) (<-chan []model.PresenceRecord, db.UnsubscribeFunc, error) {
	filter := db.NewFilter().Eq("_id", userID).Build()

	sub, err := db.Watch(r.presenceRepo, filter, nil, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("watch presence failed: %w", err)
	}
	return sub.Snapshots, sub.Unsubscribe, nil
}
