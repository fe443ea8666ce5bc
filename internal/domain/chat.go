package domain

import "time"

// LastMessage is the denormalized pointer a chat keeps to its most
// recent message, enough to render a chat list row without loading
// the message log.
type LastMessage struct {
	MessageID     string        `bson:"message_id" json:"message_id"`
	SenderID      string        `bson:"sender_id" json:"sender_id"`
	Preview       string        `bson:"preview" json:"preview"`
	DeliveryState DeliveryState `bson:"delivery_state" json:"delivery_state"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
}

type Chat struct {
	ID           string       `bson:"_id" json:"id"`
	Participants []string     `bson:"participants" json:"participants"`
	GroupFlag    bool         `bson:"is_group" json:"is_group"`
	GroupName    string       `bson:"group_name,omitempty" json:"group_name,omitempty"`
	Admins       []string     `bson:"admins,omitempty" json:"admins,omitempty"`
	LastMessage  *LastMessage `bson:"last_message,omitempty" json:"last_message,omitempty"`
	CreatedAt    time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updated_at"`
}

// IsGroup is true for explicitly created groups and for any chat that
// grew beyond two participants.
func (c *Chat) IsGroup() bool {
	return c.GroupFlag || len(c.Participants) > 2
}

func (c *Chat) HasParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

func (c *Chat) IsAdmin(userID string) bool {
	return contains(c.Admins, userID)
}

// RecipientsFor returns every participant except the sender, i.e. the
// expected receiver set for a message sent into the chat.
func (c *Chat) RecipientsFor(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Admins = append([]string(nil), c.Admins...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}
