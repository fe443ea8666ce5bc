package registry

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
)

// MemoryBackend is an in-process chat Backend for tests and local
// development, with the same merge semantics as the mongo one.
type MemoryBackend struct {
	mu    sync.Mutex
	chats map[string]*domain.Chat
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{chats: make(map[string]*domain.Chat)}
}

func (b *MemoryBackend) InsertChat(_ context.Context, c *domain.Chat) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.chats[c.ID]; ok {
		return nil
	}
	b.chats[c.ID] = c.Clone()
	return nil
}

func (b *MemoryBackend) GetChat(_ context.Context, chatID string) (*domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return nil, apperr.NotFoundf("chat %s", chatID)
	}
	return c.Clone(), nil
}

func (b *MemoryBackend) FindDirect(_ context.Context, a, userB string) (*domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.chats {
		if !c.IsGroup() && len(c.Participants) == 2 && c.HasParticipant(a) && c.HasParticipant(userB) {
			return c.Clone(), nil
		}
	}
	return nil, apperr.NotFoundf("direct chat (%s, %s)", a, userB)
}

func (b *MemoryBackend) AddParticipants(_ context.Context, chatID string, userIDs []string, updatedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return apperr.NotFoundf("chat %s", chatID)
	}
	for _, id := range userIDs {
		c.Participants = union(c.Participants, id)
	}
	c.UpdatedAt = updatedAt
	return nil
}

func (b *MemoryBackend) RemoveParticipant(_ context.Context, chatID, userID string, updatedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return apperr.NotFoundf("chat %s", chatID)
	}
	c.Participants = removeStr(c.Participants, userID)
	c.Admins = removeStr(c.Admins, userID)
	c.UpdatedAt = updatedAt
	return nil
}

func (b *MemoryBackend) SetGroupName(_ context.Context, chatID, name string, updatedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return apperr.NotFoundf("chat %s", chatID)
	}
	c.GroupName = name
	c.UpdatedAt = updatedAt
	return nil
}

func (b *MemoryBackend) SetLastMessage(_ context.Context, chatID string, lm *domain.LastMessage, updatedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return apperr.NotFoundf("chat %s", chatID)
	}
	if c.LastMessage != nil && lm.CreatedAt.Before(c.LastMessage.CreatedAt) {
		return nil
	}
	pin := *lm
	c.LastMessage = &pin
	if updatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = updatedAt
	}
	return nil
}

func (b *MemoryBackend) DeleteChat(_ context.Context, chatID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chats, chatID)
	return nil
}

func (b *MemoryBackend) ListForUser(_ context.Context, userID string) ([]*domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Chat
	for _, c := range b.chats {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}
