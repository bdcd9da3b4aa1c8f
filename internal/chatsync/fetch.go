package chatsync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

const (
	// listFetchTimeout bounds the explicit conversation-list pull.
	listFetchTimeout = 5 * time.Second

	// messageFetchTimeout bounds the explicit message-history pull.
	messageFetchTimeout = 8 * time.Second
)

func fetchContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// FetchConversations is the pull path for initial load and explicit
// refresh, independent of the subscription path. It is throttled, wrapped
// by the watchdog, and races a hard timeout: a hung remote resolves to an
// empty list rather than a stuck spinner, since the next subscription push
// self-heals the state.
func (s *Synchronizer) FetchConversations(ctx context.Context) []*model.Conversation {
	source := "fetchConversations:" + s.userID

	if !s.throttle.ShouldProceed(source) {
		return s.Conversations()
	}

	s.watchdog.SetLoading(true, source)
	defer s.watchdog.SetLoading(false, source)

	ctx, cancel := context.WithTimeout(ctx, listFetchTimeout)
	defer cancel()

	links, err := s.convs.ListLinksForUser(ctx, s.userID)
	if err != nil {
		s.watchdog.SetError(source, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			s.faults.Append(faults.CategoryTimeout, source, err)
			s.logger.Warn("conversation fetch timed out", zap.String("user_id", s.userID))
			return nil
		}
		s.faults.Append(faults.CategoryUnknown, source, err)
		return nil
	}

	fresh := make([]*model.Conversation, 0, len(links))
	for _, link := range links {
		conv, convErr := s.convs.GetConversation(ctx, link.ConversationID)
		if convErr != nil || conv == nil {
			continue
		}
		fresh = append(fresh, conv)
	}

	s.mu.Lock()
	s.conversations = fresh
	s.mu.Unlock()

	return s.Conversations()
}

// FetchMessages is the pull path for one conversation's history, with the
// same throttle/watchdog/timeout treatment as the list fetch. An empty
// result over known-good prior state is suppressed exactly like a
// subscription glitch.
func (s *Synchronizer) FetchMessages(ctx context.Context, conversationID string) []model.Message {
	source := "fetchMessages:" + conversationID

	if !s.throttle.ShouldProceed(source) {
		return s.Messages(conversationID)
	}

	s.watchdog.SetLoading(true, source)
	defer s.watchdog.SetLoading(false, source)

	ctx, cancel := context.WithTimeout(ctx, messageFetchTimeout)
	defer cancel()

	msgs, err := s.msgs.ListMessages(ctx, conversationID)
	if err != nil {
		s.watchdog.SetError(source, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			s.faults.Append(faults.CategoryTimeout, source, err)
			s.logger.Warn("message fetch timed out",
				zap.String("conversation_id", conversationID),
			)
			return s.Messages(conversationID)
		}
		s.faults.Append(faults.CategoryUnknown, source, err)
		return s.Messages(conversationID)
	}

	s.reconcileMessages(conversationID, msgs)
	return s.Messages(conversationID)
}
