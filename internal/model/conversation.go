package model

import (
	"sort"
	"strings"
	"time"
)

// AssistantID is the reserved participant id for the AI assistant.
const AssistantID = "assistant"

// Conversation represents a chat conversation document in MongoDB.
// Two-party conversations use a deterministic _id (sorted participant ids
// joined by underscores) so lookup is idempotent without a query.
type Conversation struct {
	ID              string       `json:"id" bson:"_id"`
	Participants    []string     `json:"participants" bson:"participants"`
	LastMessage     *LastMessage `json:"lastMessage,omitempty" bson:"last_message,omitempty"`
	CreatedAt       time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time    `json:"updatedAt" bson:"updated_at"`
	IsAssistantChat bool         `json:"isAssistantChat" bson:"is_assistant_chat"`
}

// LastMessage stores the most recent message preview on a conversation.
type LastMessage struct {
	Content   string    `json:"content" bson:"content"`
	Sender    string    `json:"sender" bson:"sender"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// UserConversationLink is the per-(user, conversation) projection that
// drives that user's conversation list. One exists for every non-assistant
// participant of a conversation.
type UserConversationLink struct {
	ID                 string    `json:"id" bson:"_id"`
	UserID             string    `json:"userId" bson:"user_id"`
	ConversationID     string    `json:"conversationId" bson:"conversation_id"`
	OtherParticipantID string    `json:"otherParticipantId" bson:"other_participant_id"`
	LastReadTimestamp  time.Time `json:"lastReadTimestamp" bson:"last_read_timestamp"`
	UpdatedAt          time.Time `json:"updatedAt" bson:"updated_at"`
}

// ConversationID derives the deterministic id for a participant set.
// Assistant chats resolve to "<userId>_assistant"; two-party chats sort the
// ids so both orderings produce the same id.
func ConversationID(participants []string) string {
	if len(participants) == 2 {
		if participants[0] == AssistantID {
			return participants[1] + "_" + AssistantID
		}
		if participants[1] == AssistantID {
			return participants[0] + "_" + AssistantID
		}
	}
	ids := make([]string, len(participants))
	copy(ids, participants)
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// EffectiveRecency returns the timestamp used for conversation-list
// ordering: the last message's timestamp when present, else UpdatedAt.
func (c *Conversation) EffectiveRecency() time.Time {
	if c.LastMessage != nil && !c.LastMessage.Timestamp.IsZero() {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

// HasParticipant reports whether the given user id is part of the
// conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// LinkID derives the deterministic id of a link record.
func LinkID(userID, conversationID string) string {
	return userID + ":" + conversationID
}
