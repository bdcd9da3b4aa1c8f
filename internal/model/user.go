package model

import "time"

// User represents a user document in MongoDB. Status is denormalized from
// the presence record so conversation lists can render it without a second
// lookup.
type User struct {
	ID          string     `json:"id" bson:"_id"`
	DisplayName string     `json:"displayName" bson:"display_name"`
	Email       string     `json:"email" bson:"email"`
	Avatar      string     `json:"avatar" bson:"avatar"`
	Status      string     `json:"status" bson:"status"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt   *time.Time `json:"updatedAt" bson:"updated_at"`
}
