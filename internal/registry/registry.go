// Package registry owns chat membership and the denormalized
// last-message pointer used for chat listing.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/events"
	"github.com/fathima-sithara/chat-core/internal/retry"
)

type Registry struct {
	mu    sync.RWMutex
	chats map[string]*domain.Chat

	backend Backend
	purger  MessagePurger
	bus     *events.Bus
	log     *zap.SugaredLogger
	retry   retry.Policy
}

func New(backend Backend, purger MessagePurger, bus *events.Bus, log *zap.SugaredLogger, retry retry.Policy) *Registry {
	return &Registry{
		chats:   make(map[string]*domain.Chat),
		backend: backend,
		purger:  purger,
		bus:     bus,
		log:     log,
		retry:   retry,
	}
}

// Create registers a new chat. A non-group chat whose participant pair
// already exists is reused rather than duplicated, so repeated "new
// conversation" actions against the same peer converge on one chat.
func (r *Registry) Create(ctx context.Context, creatorID string, participants []string, isGroup bool, groupName string) (string, error) {
	set := dedupe(append([]string{creatorID}, participants...))
	if len(set) < 2 {
		return "", apperr.Validationf("a chat needs at least two participants")
	}
	if isGroup && strings.TrimSpace(groupName) == "" {
		return "", apperr.Validationf("group chat requires a name")
	}
	if !isGroup && len(set) > 2 {
		return "", apperr.Validationf("direct chat cannot have %d participants", len(set))
	}

	if !isGroup {
		if existing, err := r.findDirect(ctx, set[0], set[1]); err == nil {
			return existing.ID, nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
	}

	now := time.Now().UTC()
	c := &domain.Chat{
		ID:           uuid.NewString(),
		Participants: set,
		GroupFlag:    isGroup,
		GroupName:    groupName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if isGroup {
		c.Admins = []string{creatorID}
	}

	if err := r.retry.Do(ctx, func() error { return r.backend.InsertChat(ctx, c) }); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.chats[c.ID] = c.Clone()
	r.mu.Unlock()

	r.publishChat(c, events.KindChatUpdated)
	return c.ID, nil
}

// Get returns a clone of the chat, loading it from the backend if the
// local cache has not seen it yet.
func (r *Registry) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	r.mu.RLock()
	c, ok := r.chats[chatID]
	r.mu.RUnlock()
	if ok {
		return c.Clone(), nil
	}
	c, err := r.backend.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.chats[c.ID] = c.Clone()
	r.mu.Unlock()
	return c.Clone(), nil
}

// AddParticipants unions userIDs into the chat, deduplicating against
// the live membership.
func (r *Registry) AddParticipants(ctx context.Context, chatID, actorID string, userIDs []string) error {
	c, err := r.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(actorID) {
		return apperr.Permissionf("user %s is not a participant of chat %s", actorID, chatID)
	}
	fresh := []string{}
	for _, id := range dedupe(userIDs) {
		if !c.HasParticipant(id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	now := time.Now().UTC()
	if err := r.retry.Do(ctx, func() error { return r.backend.AddParticipants(ctx, chatID, fresh, now) }); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.chats[chatID]; ok {
		for _, id := range fresh {
			cached.Participants = union(cached.Participants, id)
		}
		cached.UpdatedAt = now
		c = cached.Clone()
	}
	r.mu.Unlock()

	r.publishChat(c, events.KindChatUpdated)
	return nil
}

// RemoveParticipant drops userID from the chat. When the last
// participant leaves, the chat and its whole message log are cascade
// deleted.
func (r *Registry) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	c, err := r.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(userID) {
		return apperr.NotFoundf("user %s in chat %s", userID, chatID)
	}

	now := time.Now().UTC()
	if err := r.retry.Do(ctx, func() error { return r.backend.RemoveParticipant(ctx, chatID, userID, now) }); err != nil {
		return err
	}

	r.mu.Lock()
	cached, ok := r.chats[chatID]
	var remaining int
	if ok {
		cached.Participants = removeStr(cached.Participants, userID)
		cached.Admins = removeStr(cached.Admins, userID)
		cached.UpdatedAt = now
		remaining = len(cached.Participants)
		c = cached.Clone()
	}
	r.mu.Unlock()

	if remaining == 0 {
		return r.cascadeDelete(ctx, c)
	}
	r.publishChat(c, events.KindChatUpdated)
	return nil
}

func (r *Registry) cascadeDelete(ctx context.Context, c *domain.Chat) error {
	if err := r.purger.PurgeChat(ctx, c.ID); err != nil {
		return err
	}
	if err := r.retry.Do(ctx, func() error { return r.backend.DeleteChat(ctx, c.ID) }); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.chats, c.ID)
	r.mu.Unlock()

	r.publishChat(c, events.KindChatDeleted)
	return nil
}

// Rename sets the group name. Direct chats have no name to change.
func (r *Registry) Rename(ctx context.Context, chatID, actorID, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return apperr.Validationf("empty group name")
	}
	c, err := r.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.IsGroup() {
		return apperr.Validationf("chat %s is not a group", chatID)
	}
	if !c.HasParticipant(actorID) {
		return apperr.Permissionf("user %s is not a participant of chat %s", actorID, chatID)
	}

	now := time.Now().UTC()
	if err := r.retry.Do(ctx, func() error { return r.backend.SetGroupName(ctx, chatID, newName, now) }); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.chats[chatID]; ok {
		cached.GroupName = newName
		cached.UpdatedAt = now
		c = cached.Clone()
	}
	r.mu.Unlock()

	r.publishChat(c, events.KindChatUpdated)
	return nil
}

// TouchLastMessage refreshes the denormalized pointer for a new or
// updated message. An older message never overwrites a newer pointer,
// which keeps concurrent listeners from regressing the chat list.
func (r *Registry) TouchLastMessage(ctx context.Context, chatID string, m *domain.Message) error {
	lm := &domain.LastMessage{
		MessageID:     m.ID,
		SenderID:      m.SenderID,
		Preview:       m.Preview(),
		DeliveryState: m.DeliveryState,
		CreatedAt:     m.CreatedAt,
	}

	r.mu.Lock()
	cached, ok := r.chats[chatID]
	var snap *domain.Chat
	if ok {
		cur := cached.LastMessage
		if cur == nil || !lm.CreatedAt.Before(cur.CreatedAt) {
			cached.LastMessage = lm
			if lm.CreatedAt.After(cached.UpdatedAt) {
				cached.UpdatedAt = lm.CreatedAt
			}
			snap = cached.Clone()
		}
	}
	r.mu.Unlock()

	if err := r.backend.SetLastMessage(ctx, chatID, lm, lm.CreatedAt); err != nil {
		r.log.Warnw("last message write failed", "chat_id", chatID, "err", err)
	}
	if snap != nil {
		r.publishChat(snap, events.KindChatUpdated)
	}
	return nil
}

// ListForUser returns the user's chats ordered by updatedAt descending.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	chats, err := r.backend.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, c := range chats {
		if cached, ok := r.chats[c.ID]; ok && cached.UpdatedAt.After(c.UpdatedAt) {
			// local cache is ahead of the listing; prefer it
			*c = *cached.Clone()
			continue
		}
		r.chats[c.ID] = c.Clone()
	}
	r.mu.Unlock()

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// Merge applies an externally observed chat snapshot from a listener.
func (r *Registry) Merge(snapshot *domain.Chat) {
	if snapshot == nil || snapshot.ID == "" {
		return
	}
	r.mu.Lock()
	cached, ok := r.chats[snapshot.ID]
	if !ok || snapshot.UpdatedAt.After(cached.UpdatedAt) {
		r.chats[snapshot.ID] = snapshot.Clone()
		cached = r.chats[snapshot.ID]
	}
	snap := cached.Clone()
	r.mu.Unlock()

	r.publishChat(snap, events.KindChatUpdated)
}

func (r *Registry) findDirect(ctx context.Context, a, b string) (*domain.Chat, error) {
	r.mu.RLock()
	for _, c := range r.chats {
		if !c.IsGroup() && len(c.Participants) == 2 && c.HasParticipant(a) && c.HasParticipant(b) {
			clone := c.Clone()
			r.mu.RUnlock()
			return clone, nil
		}
	}
	r.mu.RUnlock()
	return r.backend.FindDirect(ctx, a, b)
}

func (r *Registry) publishChat(c *domain.Chat, kind events.Kind) {
	if r.bus == nil {
		return
	}
	ev := events.Event{Kind: kind, ChatID: c.ID, Chat: c}
	r.bus.PublishChat(ev)
	for _, p := range c.Participants {
		r.bus.PublishUser(p, ev)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func union(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

func removeStr(s []string, v string) []string {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
