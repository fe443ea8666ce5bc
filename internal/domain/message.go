package domain

import (
	"time"
)

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
	TypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeFile:
		return true
	}
	return false
}

// Message is a single chat message. IDs are client-generated so the
// message can be displayed optimistically before the store accepts it.
type Message struct {
	ID            string              `bson:"_id" json:"id"`
	ChatID        string              `bson:"chat_id" json:"chat_id"`
	SenderID      string              `bson:"sender_id" json:"sender_id"`
	Content       string              `bson:"content" json:"content"`
	Type          MessageType         `bson:"type" json:"type"`
	MediaRef      string              `bson:"media_ref,omitempty" json:"media_ref,omitempty"`
	ReplyTo       string              `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Recipients    []string            `bson:"recipients" json:"recipients"`
	ReadBy        []string            `bson:"read_by" json:"read_by"`
	DeletedFor    []string            `bson:"deleted_for,omitempty" json:"-"`
	DeliveryState DeliveryState       `bson:"delivery_state" json:"delivery_state"`
	Reactions     map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	EditedAt      *time.Time          `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
}

// Clone returns a deep copy. Listeners hand out snapshots; only the
// message store mutates its cached copy.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Recipients = append([]string(nil), m.Recipients...)
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	cp.DeletedFor = append([]string(nil), m.DeletedFor...)
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for sym, users := range m.Reactions {
			cp.Reactions[sym] = append([]string(nil), users...)
		}
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}

// ReadByUser reports whether userID acknowledged the message.
func (m *Message) ReadByUser(userID string) bool {
	return contains(m.ReadBy, userID)
}

// DeletedForUser reports whether userID soft-deleted the message.
func (m *Message) DeletedForUser(userID string) bool {
	return contains(m.DeletedFor, userID)
}

// IsRecipient reports whether userID is expected to receive the message.
func (m *Message) IsRecipient(userID string) bool {
	return contains(m.Recipients, userID)
}

// UnreadFor reports whether the message counts toward userID's unread
// total: not sent by them and not yet acknowledged by them.
func (m *Message) UnreadFor(userID string) bool {
	return m.SenderID != userID && !m.ReadByUser(userID)
}

// ReactionBy returns the symbol userID currently has on the message,
// or "" if none. A user holds at most one active reaction per message.
func (m *Message) ReactionBy(userID string) string {
	for sym, users := range m.Reactions {
		if contains(users, userID) {
			return sym
		}
	}
	return ""
}

// Preview returns the notification/last-message preview for the message.
func (m *Message) Preview() string {
	if m.Type != TypeText {
		return string(m.Type)
	}
	const max = 120
	if len(m.Content) > max {
		return m.Content[:max]
	}
	return m.Content
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
