package model

import "time"

// Presence states.
const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// PresenceRecord is the per-user presence document. It is mutated only by
// that user's own presence engine instance and read by any number of
// subscribers.
type PresenceRecord struct {
	UserID   string    `json:"userId" bson:"_id"`
	State    string    `json:"state" bson:"state"`
	LastSeen time.Time `json:"lastSeen" bson:"last_seen"`
}
