package model

import "time"

// Message delivery status values.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Message represents a chat message document in MongoDB.
type Message struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversationId" bson:"conversation_id"`
	Sender         string    `json:"sender" bson:"sender"`
	Content        string    `json:"content" bson:"content"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Status         string    `json:"status" bson:"status"`
	IsAssistant    bool      `json:"isAssistant" bson:"is_assistant"`
}
