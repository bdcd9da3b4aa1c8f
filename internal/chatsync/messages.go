package chatsync

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

// SubscribeMessages attaches cb to one conversation's message stream. At
// most one remote subscription exists per conversation id; overlapping
// callers share it through the registry and each gets its own unsubscribe.
func (s *Synchronizer) SubscribeMessages(conversationID string, cb MessagesCallback) (func(), error) {
	key := "messages:" + conversationID

	s.mu.Lock()
	set, ok := s.msgSubs[conversationID]
	if !ok {
		set = newSubscriberSet[[]model.Message]()
		s.msgSubs[conversationID] = set
	}
	s.mu.Unlock()

	detach := set.attach(func(msgs []model.Message) { cb(msgs) })

	if set.count() == 1 && !s.registry.Has(key) {
		snapshots, unsub, err := s.msgs.WatchMessages(conversationID)
		if err != nil {
			detach()
			return nil, err
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for snap := range snapshots {
				s.reconcileMessages(conversationID, snap)
			}
		}()

		s.registry.Register(key, func() {
			unsub()
			<-done
		})
	}

	if msgs := s.Messages(conversationID); len(msgs) > 0 {
		cb(msgs)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			detach()
			if set.count() == 0 {
				s.registry.Remove(key)
				s.mu.Lock()
				delete(s.msgSubs, conversationID)
				s.mu.Unlock()
			}
		})
	}, nil
}

// reconcileMessages applies one message snapshot. Glitch suppression: an
// empty snapshot over non-empty prior state is treated as a transient
// remote error, not a deletion — the prior in-memory list is retained and
// only the loading flag clears. Real deletions go through the explicit
// purge path, never through this subscription going empty.
func (s *Synchronizer) reconcileMessages(conversationID string, snap []model.Message) {
	source := "subscribeMessages:" + conversationID

	s.mu.Lock()
	prior := s.messages[conversationID]
	if len(snap) == 0 && len(prior) > 0 {
		s.mu.Unlock()
		s.watchdog.SetLoading(false, source)
		s.logger.Warn("empty message snapshot suppressed",
			zap.String("conversation_id", conversationID),
			zap.Int("retained", len(prior)),
		)
		return
	}
	s.messages[conversationID] = snap
	s.mu.Unlock()

	s.watchdog.SetLoading(false, source)
	s.publishMessages(conversationID)

	s.logger.Debug("messages reconciled",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(snap)),
	)
}

func (s *Synchronizer) publishMessages(conversationID string) {
	s.mu.RLock()
	set, ok := s.msgSubs[conversationID]
	s.mu.RUnlock()
	if ok {
		set.publish(s.Messages(conversationID))
	}
}
