package model

// ConnectionStats summarizes live transport connections.
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"`
	TotalOnline    int `json:"totalOnline"`
	TotalAway      int `json:"totalAway"`
}

// RoomInfo describes one conversation room on the hub.
type RoomInfo struct {
	ConversationID string   `json:"conversationId"`
	TotalMembers   int      `json:"totalMembers"`
	MemberIDs      []string `json:"memberIds"`
}

// RoomStats summarizes conversation rooms.
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ClientID       string `json:"clientId"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// SyncStats reports the synchronization loading flags and the last fetch
// error per track.
type SyncStats struct {
	ConversationsLoading bool   `json:"conversationsLoading"`
	MessagesLoading      bool   `json:"messagesLoading"`
	ConversationsError   string `json:"conversationsError,omitempty"`
	MessagesError        string `json:"messagesError,omitempty"`
}

// MonitorResponse is the hub statistics payload served to operators.
type MonitorResponse struct {
	Status      string          `json:"status"`
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	Clients     []ClientInfo    `json:"clients"`
	Sync        SyncStats       `json:"sync"`
}
