package event

import "encoding/json"

// Named events carried over the WebSocket transport. The transport is a
// low-latency echo alongside the store subscriptions, which stay the
// durability source of truth.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventError            = "error"
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventUserStopTyping   = "user_stop_typing"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventMessageRead      = "message_read"
	EventMessageDelivered = "message_delivered"
)

type WsEvent struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
	MessageID      string          `json:"messageId,omitempty"`
}

// NewMessage is the wire shape of a sent message echoed to room members.
type NewMessage struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	IsAssistant    bool   `json:"isAssistant,omitempty"`
}

// ConnectionPayload accompanies the connect acknowledgement and the
// room-level disconnect notice.
type ConnectionPayload struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
}

// ErrorPayload is sent back to a client whose event could not be handled.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
