package store

import (
	"context"
	"time"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// Backend is the document-store contract the message store writes
// through. Every mutation must be commutative or last-writer-safe:
// read receipts and reactions are array unions, never replacements of
// a fetched snapshot, and delivery state only advances. Other devices
// write to the same documents concurrently.
type Backend interface {
	// InsertMessage durably appends a message. Inserting the same id
	// twice is a no-op, so a retried append never duplicates.
	InsertMessage(ctx context.Context, m *domain.Message) error

	// AdvanceDeliveryState moves a message's state forward on the
	// ladder. A request that would move it backward is ignored.
	AdvanceDeliveryState(ctx context.Context, messageID string, state domain.DeliveryState) error

	// AddReadReceipt unions userID into the message's readBy set.
	AddReadReceipt(ctx context.Context, messageID, userID string) error

	// SwapReaction removes userID from oldSymbol (if any) and unions
	// it into newSymbol. newSymbol == "" removes only.
	SwapReaction(ctx context.Context, messageID, userID, oldSymbol, newSymbol string) error

	// SetContent replaces a message's content and stamps editedAt.
	SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error

	// AddSoftDelete unions userID into the message's deletedFor set.
	AddSoftDelete(ctx context.Context, messageID, userID string) error

	// ListMessages returns all messages of a chat, any order.
	ListMessages(ctx context.Context, chatID string) ([]*domain.Message, error)

	// PurgeChat deletes every message belonging to chatID.
	PurgeChat(ctx context.Context, chatID string) error
}
