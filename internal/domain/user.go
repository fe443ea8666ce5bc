package domain

import "time"

// User is an external identity referenced by the core, never owned by it.
type User struct {
	ID          string    `bson:"_id" json:"id"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	PushTokens  []string  `bson:"push_tokens,omitempty" json:"-"`
	IsOnline    bool      `bson:"is_online" json:"is_online"`
	LastSeen    time.Time `bson:"last_seen" json:"last_seen"`
}

// Placeholder stands in for a user record that has not resolved yet,
// so message display never blocks on the users collection.
func Placeholder(id string) *User {
	return &User{ID: id, DisplayName: "Unknown"}
}
