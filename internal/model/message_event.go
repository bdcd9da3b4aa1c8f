package model

// MessageDelivered - lightweight event for delivery confirmation.
type MessageDelivered struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	DeliveredTo    string `json:"deliveredTo"`
	DeliveredAt    string `json:"deliveredAt"`
}

// MessageRead - for read receipts.
type MessageRead struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
	ReadAt         string `json:"readAt"`
}

// TypingIndicator - for typing status.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceUpdate - low-latency presence echo alongside the store
// subscription, which stays the source of truth.
type PresenceUpdate struct {
	UserID   string `json:"userId"`
	State    string `json:"state"`
	LastSeen int64  `json:"lastSeen"`
}
