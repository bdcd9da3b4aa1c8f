package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// UnsubscribeFunc tears down a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Subscription is a push-based view over a query: the current result set is
// re-delivered as a full snapshot whenever a matching document changes.
// Snapshots arrive in delivery order on a single channel; the consumer is
// expected to be a single goroutine.
type Subscription[T any] struct {
	Snapshots <-chan []T
	cancel    context.CancelFunc
	done      chan struct{}
}

// Unsubscribe stops the change stream and closes the snapshot channel.
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Watch opens a change stream over the repository's collection and re-runs
// the given query on every relevant change, pushing the full result set as
// a snapshot. The initial query result is delivered as the first snapshot.
//
// Per-event errors are swallowed after logging: a glitching stream must
// never surface through the snapshot channel, callers simply keep their
// previous state.
func Watch[T any](r *Repository[T], filter bson.M, findOpts *options.FindOptions, logger *zap.Logger) (*Subscription[T], error) {
	ctx, cancel := context.WithCancel(context.Background())

	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := r.collection.Watch(ctx, mongo.Pipeline{}, streamOpts)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []T, 8)
	done := make(chan struct{})

	sub := &Subscription[T]{
		Snapshots: out,
		cancel:    cancel,
		done:      done,
	}

	go func() {
		defer close(done)
		defer close(out)
		defer stream.Close(context.Background())

		// Initial snapshot before any change events.
		if snap, err := r.FindAll(ctx, filter, findOpts); err == nil {
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() == nil {
			logger.Warn("initial snapshot query failed", zap.Error(err))
		}

		for stream.Next(ctx) {
			snap, err := r.FindAll(ctx, filter, findOpts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("snapshot query failed, keeping previous state", zap.Error(err))
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			logger.Warn("change stream closed", zap.Error(err))
		}
	}()

	return sub, nil
}
