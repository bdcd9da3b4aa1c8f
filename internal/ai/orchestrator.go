package ai

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/faults"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

const (
	// settleDelay lets the persisted user message become visible to the
	// context fetch before the model call reads history.
	settleDelay = 500 * time.Millisecond

	// callTimeout bounds a single model call.
	callTimeout = 15 * time.Second

	// retryBackoff is the linear delay before the single retry.
	retryBackoff = 2 * time.Second

	systemPreamble = "You are a helpful assistant inside a chat application. " +
		"Answer concisely and stay on topic."

	// fallbackReply is persisted when the model cannot answer, so the
	// conversation thread is never left hanging.
	fallbackReply = "Sorry, I couldn't come up with a response right now. Please try again in a moment."
)

// Orchestrator sequences an assistant reply: persist the user message,
// wait for it to settle, gather conversation history as context, call
// the model, and persist either its reply or the apology fallback.
type Orchestrator struct {
	provider Provider
	msgs     repo.MessageRepository
	convs    repo.ConversationRepository
	faults   *faults.Log
	logger   *zap.Logger

	// Overridable in tests.
	settle  time.Duration
	timeout time.Duration
	backoff time.Duration
}

func NewOrchestrator(
	provider Provider,
	msgs repo.MessageRepository,
	convs repo.ConversationRepository,
	faultLog *faults.Log,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		msgs:     msgs,
		convs:    convs,
		faults:   faultLog,
		logger:   logger,
		settle:   settleDelay,
		timeout:  callTimeout,
		backoff:  retryBackoff,
	}
}

// Respond runs the full pipeline for one user message in an assistant
// conversation. The conversation always receives an assistant-authored
// reply; when the model fails, the fallback is persisted and the
// original failure is still returned so callers can log or surface it.
func (o *Orchestrator) Respond(ctx context.Context, conv *model.Conversation, userID, content string) (*model.Message, error) {
	userMsg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         userID,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Status:         model.MessageStatusSent,
	}
	if _, err := o.msgs.InsertMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	if err := o.convs.RecordSend(ctx, conv, userMsg); err != nil {
		return nil, err
	}

	return o.RespondTo(ctx, conv, userMsg)
}

// RespondTo runs the pipeline for an already-persisted user message:
// settle, gather context, call the model, persist reply or fallback.
func (o *Orchestrator) RespondTo(ctx context.Context, conv *model.Conversation, userMsg *model.Message) (*model.Message, error) {
	if err := o.wait(ctx, o.settle); err != nil {
		return nil, err
	}

	history, err := o.msgs.ListMessages(ctx, conv.ID)
	if err != nil {
		// Degraded context: answer from the new message alone.
		o.logger.Warn("context fetch failed, answering without history",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		history = []model.Message{*userMsg}
	}

	reply, callErr := o.callModel(ctx, history)
	if callErr != nil {
		o.faults.Append(categoryFor(callErr), "ai:respond:"+conv.ID, callErr)
		reply = fallbackReply
	}

	assistantMsg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         model.AssistantID,
		Content:        reply,
		Timestamp:      time.Now().UTC(),
		Status:         model.MessageStatusSent,
		IsAssistant:    true,
	}
	if _, err := o.msgs.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}
	if err := o.convs.RecordSend(ctx, conv, assistantMsg); err != nil {
		return nil, err
	}

	// The fallback reply satisfied the thread, not the caller: the
	// original failure still propagates.
	return assistantMsg, callErr
}

// callModel makes the bounded model call, retrying once with linear
// backoff. A missing credential is a configuration error and is never
// retried.
func (o *Orchestrator) callModel(ctx context.Context, history []model.Message) (string, error) {
	messages := buildContext(history)

	reply, err := o.chatOnce(ctx, messages)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, ErrMissingCredential) {
		return "", err
	}

	o.logger.Warn("model call failed, retrying", zap.Error(err))
	if waitErr := o.wait(ctx, o.backoff); waitErr != nil {
		return "", err
	}

	reply, retryErr := o.chatOnce(ctx, messages)
	if retryErr == nil {
		return reply, nil
	}
	// Report the first failure; the retry usually fails the same way.
	return "", err
}

func (o *Orchestrator) chatOnce(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.provider.Chat(ctx, messages)
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildContext converts stored history into the model's wire shape,
// prefixed by the system preamble.
func buildContext(history []model.Message) []Message {
	out := make([]Message, 0, len(history)+1)
	out = append(out, Message{Role: RoleSystem, Content: systemPreamble})
	for _, m := range history {
		role := RoleUser
		if m.IsAssistant {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

func categoryFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return faults.CategoryConfig
	case errors.Is(err, context.DeadlineExceeded):
		return faults.CategoryTimeout
	default:
		return faults.CategoryModel
	}
}
