package store

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
)

// MemoryBackend is an in-process Backend with the same merge semantics
// as the mongo one. Used in tests and local development.
type MemoryBackend struct {
	mu   sync.Mutex
	byID map[string]*domain.Message
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byID: make(map[string]*domain.Message)}
}

func (b *MemoryBackend) InsertMessage(_ context.Context, m *domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[m.ID]; ok {
		return nil // idempotent append
	}
	b.byID[m.ID] = m.Clone()
	return nil
}

func (b *MemoryBackend) AdvanceDeliveryState(_ context.Context, messageID string, state domain.DeliveryState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.byID[messageID]
	if !ok {
		return apperr.NotFoundf("message %s", messageID)
	}
	m.DeliveryState = m.DeliveryState.Advance(state)
	return nil
}

func (b *MemoryBackend) AddReadReceipt(_ context.Context, messageID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.byID[messageID]
	if !ok {
		return apperr.NotFoundf("message %s", messageID)
	}
	m.ReadBy = union(m.ReadBy, userID)
	return nil
}

func (b *MemoryBackend) SwapReaction(_ context.Context, messageID, userID, oldSymbol, newSymbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.byID[messageID]
	if !ok {
		return apperr.NotFoundf("message %s", messageID)
	}
	if oldSymbol != "" && m.Reactions != nil {
		m.Reactions[oldSymbol] = remove(m.Reactions[oldSymbol], userID)
		if len(m.Reactions[oldSymbol]) == 0 {
			delete(m.Reactions, oldSymbol)
		}
	}
	if newSymbol != "" {
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		m.Reactions[newSymbol] = union(m.Reactions[newSymbol], userID)
	}
	return nil
}

func (b *MemoryBackend) SetContent(_ context.Context, messageID, content string, editedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.byID[messageID]
	if !ok {
		return apperr.NotFoundf("message %s", messageID)
	}
	m.Content = content
	m.EditedAt = &editedAt
	return nil
}

func (b *MemoryBackend) AddSoftDelete(_ context.Context, messageID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.byID[messageID]
	if !ok {
		return apperr.NotFoundf("message %s", messageID)
	}
	m.DeletedFor = union(m.DeletedFor, userID)
	return nil
}

func (b *MemoryBackend) ListMessages(_ context.Context, chatID string) ([]*domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Message
	for _, m := range b.byID {
		if m.ChatID == chatID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) PurgeChat(_ context.Context, chatID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, m := range b.byID {
		if m.ChatID == chatID {
			delete(b.byID, id)
		}
	}
	return nil
}

func union(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
