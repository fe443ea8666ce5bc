package registry

import (
	"context"
	"time"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// Backend is the document-store contract for chats. Participant and
// admin mutations operate against the live set (add/remove), never by
// replacing a previously fetched copy, and the lastMessage pointer is
// written conditionally on its timestamp.
type Backend interface {
	InsertChat(ctx context.Context, c *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// FindDirect returns an existing non-group chat whose participant
	// set is exactly {a, b}, or a not-found error.
	FindDirect(ctx context.Context, a, b string) (*domain.Chat, error)

	// AddParticipants unions userIDs into the participant set.
	AddParticipants(ctx context.Context, chatID string, userIDs []string, updatedAt time.Time) error

	// RemoveParticipant removes userID from participants and admins.
	RemoveParticipant(ctx context.Context, chatID, userID string, updatedAt time.Time) error

	SetGroupName(ctx context.Context, chatID, name string, updatedAt time.Time) error

	// SetLastMessage updates the denormalized pointer only if lm is
	// not older than the one already stored.
	SetLastMessage(ctx context.Context, chatID string, lm *domain.LastMessage, updatedAt time.Time) error

	DeleteChat(ctx context.Context, chatID string) error
	ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error)
}

// MessagePurger removes a chat's message log during cascade deletion.
// Satisfied by the message store.
type MessagePurger interface {
	PurgeChat(ctx context.Context, chatID string) error
}
