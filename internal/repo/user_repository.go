package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/db"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

// batchFetchLimit caps the number of ids in one $in query.
const batchFetchLimit = 10

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

type userRepository struct {
	mongoRepo *db.Repository[model.User]
	logger    *zap.Logger
}

func NewUserRepository(mongoRepo *db.Repository[model.User], logger *zap.Logger) UserRepository {
	return &userRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

// GetUser fetches one user document by id. A missing document is returned
// as (nil, nil), not an error.
func (r *userRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	user, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if isTransientEmpty(err) {
			r.logger.Debug("user not found", zap.String("user_id", id))
			return nil, nil
		}
		r.logger.Error("failed to fetch user", zap.String("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("fetch user failed: %w", err)
	}
	return user, nil
}

// GetUsersByIDs fetches users in batched $in queries of at most
// batchFetchLimit ids. A batch that holds exactly one id falls back to the
// cheaper single-document fetch.
func (r *userRepository) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	results := make([]model.User, 0, len(ids))
	for start := 0; start < len(ids); start += batchFetchLimit {
		end := start + batchFetchLimit
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		if len(batch) == 1 {
			user, err := r.GetUser(ctx, batch[0])
			if err != nil {
				return nil, err
			}
			if user != nil {
				results = append(results, *user)
			}
			continue
		}

		filter := db.NewFilter().In("_id", batch).Build()
		users, err := r.mongoRepo.FindAll(ctx, filter)
		if err != nil {
			if isTransientEmpty(err) {
				continue
			}
			r.logger.Error("failed to batch fetch users",
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("batch fetch users failed: %w", err)
		}
		results = append(results, users...)
	}

	r.logger.Debug("users fetched",
		zap.Int("requested", len(ids)),
		zap.Int("found", len(results)),
	)
	return results, nil
}
