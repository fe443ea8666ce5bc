// Package store owns canonical per-message state: the ordered message
// log per chat, delivery-state progression, read receipts and
// reactions. The in-memory cache is mutated only here; listeners and
// callers get clones.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/events"
	"github.com/fathima-sithara/chat-core/internal/metrics"
	"github.com/fathima-sithara/chat-core/internal/retry"
)

type Store struct {
	mu     sync.RWMutex
	byChat map[string][]*domain.Message // sorted by CreatedAt, ties by ID
	byID   map[string]*domain.Message

	backend Backend
	bus     *events.Bus
	log     *zap.SugaredLogger
	retry   retry.Policy
}

func New(backend Backend, bus *events.Bus, log *zap.SugaredLogger, retry retry.Policy) *Store {
	return &Store{
		byChat:  make(map[string][]*domain.Message),
		byID:    make(map[string]*domain.Message),
		backend: backend,
		bus:     bus,
		log:     log,
		retry:   retry,
	}
}

// Append validates, optimistically caches and durably writes a new
// message. The message is visible locally in state "sending" before
// the write; it ends in "sent" on success or "failed" once the retry
// budget is exhausted, in which case the error is returned and the
// caller can offer a manual retry.
func (s *Store) Append(ctx context.Context, m *domain.Message) (string, error) {
	if err := validateNew(m); err != nil {
		return "", err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = domain.TypeText
	}
	m.ReadBy = nil
	m.DeliveryState = domain.StateSending

	s.mu.Lock()
	if _, ok := s.byID[m.ID]; ok {
		s.mu.Unlock()
		return "", apperr.Validationf("duplicate message id %s", m.ID)
	}
	cached := m.Clone()
	s.cacheInsert(cached)
	snap := cached.Clone()
	s.mu.Unlock()

	s.publish(snap, events.KindMessageAppended)

	if err := s.persistAppend(ctx, cached.ID); err != nil {
		metrics.SendFailures.Inc()
		return cached.ID, err
	}
	metrics.SendsTotal.Inc()
	return cached.ID, nil
}

// RetryAppend re-enters a failed message into "sending" and attempts
// the durable write again. Only failed messages may be retried.
func (s *Store) RetryAppend(ctx context.Context, messageID string) error {
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	if m.DeliveryState != domain.StateFailed {
		s.mu.Unlock()
		return apperr.Validationf("message %s is not in failed state", messageID)
	}
	m.DeliveryState = domain.StateSending
	snap := m.Clone()
	s.mu.Unlock()

	s.publish(snap, events.KindMessageUpdated)

	if err := s.persistAppend(ctx, messageID); err != nil {
		metrics.SendFailures.Inc()
		return err
	}
	metrics.SendsTotal.Inc()
	return nil
}

// persistAppend writes the cached message through with bounded
// backoff, then settles its state to sent or failed.
func (s *Store) persistAppend(ctx context.Context, messageID string) error {
	s.mu.RLock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.RUnlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	snap := m.Clone()
	s.mu.RUnlock()

	err := s.withRetry(ctx, func() error {
		return s.backend.InsertMessage(ctx, snap)
	})
	if err != nil {
		s.transition(messageID, domain.StateFailed)
		return err
	}
	s.transition(messageID, domain.StateSent)
	// the inserted document still carries "sending"; settle it durably
	// so other devices reconciling from the store see the accepted write
	if err := s.backend.AdvanceDeliveryState(ctx, messageID, domain.StateSent); err != nil {
		s.log.Warnw("sent state write failed", "message_id", messageID, "err", err)
	}
	return nil
}

// Messages returns the chat's log ordered by creation time ascending,
// ties broken by id. The result is a snapshot of clones.
func (s *Store) Messages(chatID string) []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byChat[chatID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}

// MessagesFor is Messages filtered for a viewer: per-user soft deletes
// are hidden.
func (s *Store) MessagesFor(chatID, userID string) []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byChat[chatID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.DeletedForUser(userID) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// Get returns a clone of one message.
func (s *Store) Get(messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[messageID]
	if !ok {
		return nil, apperr.NotFoundf("message %s", messageID)
	}
	return m.Clone(), nil
}

// UpdateDeliveryState advances a message on the ladder. Backward
// requests fail; equal-state requests are rejected the same way so
// callers notice redundant transitions.
func (s *Store) UpdateDeliveryState(ctx context.Context, messageID string, state domain.DeliveryState) error {
	s.mu.RLock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.RUnlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	from := m.DeliveryState
	s.mu.RUnlock()

	if _, err := domain.Transition(from, state); err != nil {
		return apperr.Validationf("%v", err)
	}
	s.transition(messageID, state)

	if err := s.backend.AdvanceDeliveryState(ctx, messageID, state); err != nil {
		s.log.Warnw("delivery state write failed", "message_id", messageID, "state", state, "err", err)
	}
	return nil
}

// MarkDelivered records that a recipient's client received the message
// via a live update, driving sent -> delivered.
func (s *Store) MarkDelivered(ctx context.Context, messageID, userID string) error {
	s.mu.RLock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.RUnlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	if !m.IsRecipient(userID) {
		s.mu.RUnlock()
		return apperr.Permissionf("user %s is not a recipient of %s", userID, messageID)
	}
	cur := m.DeliveryState
	s.mu.RUnlock()

	if !cur.CanTransition(domain.StateDelivered) {
		return nil // already delivered or read
	}
	s.transition(messageID, domain.StateDelivered)
	if err := s.backend.AdvanceDeliveryState(ctx, messageID, domain.StateDelivered); err != nil {
		s.log.Warnw("delivered ack write failed", "message_id", messageID, "err", err)
	}
	return nil
}

// MarkRead unions userID into the message's readBy set and advances
// the scalar state to read. Calling it twice is a no-op. The durable
// write is retried silently; a read receipt never surfaces a failure
// to the user.
func (s *Store) MarkRead(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	if !m.IsRecipient(userID) {
		s.mu.Unlock()
		return apperr.Permissionf("user %s is not a recipient of %s", userID, messageID)
	}
	if m.ReadByUser(userID) {
		s.mu.Unlock()
		return nil
	}
	m.ReadBy = union(m.ReadBy, userID)
	m.DeliveryState = m.DeliveryState.Advance(domain.StateRead)
	snap := m.Clone()
	s.mu.Unlock()

	metrics.ReadReceipts.Inc()
	s.publish(snap, events.KindMessageUpdated)

	err := s.withRetry(ctx, func() error {
		return s.backend.AddReadReceipt(ctx, messageID, userID)
	})
	if err != nil {
		s.log.Warnw("read receipt write failed", "message_id", messageID, "user_id", userID, "err", err)
	} else if err := s.backend.AdvanceDeliveryState(ctx, messageID, domain.StateRead); err != nil {
		s.log.Warnw("read state write failed", "message_id", messageID, "err", err)
	}
	return nil
}

// AddReaction gives userID exactly one active reaction on the message:
// any prior symbol is removed before the new one is added.
func (s *Store) AddReaction(ctx context.Context, messageID, userID, symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return apperr.Validationf("empty reaction symbol")
	}
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	old := m.ReactionBy(userID)
	if old == symbol {
		s.mu.Unlock()
		return nil
	}
	applyReaction(m, userID, old, symbol)
	snap := m.Clone()
	s.mu.Unlock()

	s.publish(snap, events.KindMessageUpdated)

	if err := s.backend.SwapReaction(ctx, messageID, userID, old, symbol); err != nil {
		s.log.Warnw("reaction write failed", "message_id", messageID, "user_id", userID, "err", err)
	}
	return nil
}

// RemoveReaction drops userID's reaction if it matches symbol.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, symbol string) error {
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	if m.ReactionBy(userID) != symbol {
		s.mu.Unlock()
		return nil
	}
	applyReaction(m, userID, symbol, "")
	snap := m.Clone()
	s.mu.Unlock()

	s.publish(snap, events.KindMessageUpdated)

	if err := s.backend.SwapReaction(ctx, messageID, userID, symbol, ""); err != nil {
		s.log.Warnw("reaction removal write failed", "message_id", messageID, "user_id", userID, "err", err)
	}
	return nil
}

// Edit replaces a message's content. Only the sender may edit.
func (s *Store) Edit(ctx context.Context, messageID, editorID, content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validationf("empty content")
	}
	now := time.Now().UTC()

	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	if m.SenderID != editorID {
		s.mu.Unlock()
		return apperr.Permissionf("only the sender may edit message %s", messageID)
	}
	m.Content = content
	m.EditedAt = &now
	snap := m.Clone()
	s.mu.Unlock()

	s.publish(snap, events.KindMessageUpdated)

	return s.withRetry(ctx, func() error {
		return s.backend.SetContent(ctx, messageID, content, now)
	})
}

// DeleteForUser hides a message from one participant's view.
func (s *Store) DeleteForUser(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("message %s", messageID)
	}
	m.DeletedFor = union(m.DeletedFor, userID)
	s.mu.Unlock()

	if err := s.backend.AddSoftDelete(ctx, messageID, userID); err != nil {
		s.log.Warnw("soft delete write failed", "message_id", messageID, "user_id", userID, "err", err)
	}
	return nil
}

// Merge applies an externally observed snapshot (another device's
// write delivered by a listener). Sets are unioned and the delivery
// state only advances, so merges commute and reapplying a snapshot is
// harmless.
func (s *Store) Merge(snapshot *domain.Message) {
	if snapshot == nil || snapshot.ID == "" {
		return
	}
	s.mu.Lock()
	m, ok := s.byID[snapshot.ID]
	if !ok {
		cached := snapshot.Clone()
		s.cacheInsert(cached)
		snap := cached.Clone()
		s.mu.Unlock()
		s.publish(snap, events.KindMessageAppended)
		return
	}
	for _, u := range snapshot.ReadBy {
		m.ReadBy = union(m.ReadBy, u)
	}
	for _, u := range snapshot.DeletedFor {
		m.DeletedFor = union(m.DeletedFor, u)
	}
	m.DeliveryState = m.DeliveryState.Advance(snapshot.DeliveryState)
	if snapshot.EditedAt != nil && (m.EditedAt == nil || snapshot.EditedAt.After(*m.EditedAt)) {
		m.Content = snapshot.Content
		t := *snapshot.EditedAt
		m.EditedAt = &t
	}
	mergeReactions(m, snapshot)
	snap := m.Clone()
	s.mu.Unlock()
	s.publish(snap, events.KindMessageUpdated)
}

// LoadChat reconciles the local cache against the backend, e.g. after
// resubscribing to a chat. Known messages are merged, not duplicated.
func (s *Store) LoadChat(ctx context.Context, chatID string) error {
	msgs, err := s.backend.ListMessages(ctx, chatID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		s.Merge(m)
	}
	return nil
}

// PurgeChat drops every message of a chat, locally and durably. Part
// of cascade deletion when the last participant leaves.
func (s *Store) PurgeChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	for _, m := range s.byChat[chatID] {
		delete(s.byID, m.ID)
	}
	delete(s.byChat, chatID)
	s.mu.Unlock()

	return s.withRetry(ctx, func() error {
		return s.backend.PurgeChat(ctx, chatID)
	})
}

// transition advances the cached state and publishes the new snapshot.
func (s *Store) transition(messageID string, state domain.DeliveryState) {
	s.mu.Lock()
	m, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if state == domain.StateFailed {
		if m.DeliveryState == domain.StateSending {
			m.DeliveryState = domain.StateFailed
		}
	} else {
		m.DeliveryState = m.DeliveryState.Advance(state)
	}
	snap := m.Clone()
	s.mu.Unlock()
	s.publish(snap, events.KindMessageUpdated)
}

// cacheInsert places m into the per-chat slice keeping timestamp
// order, ties broken by id. Caller holds s.mu.
func (s *Store) cacheInsert(m *domain.Message) {
	s.byID[m.ID] = m
	msgs := s.byChat[m.ChatID]
	i := sort.Search(len(msgs), func(i int) bool {
		if msgs[i].CreatedAt.Equal(m.CreatedAt) {
			return msgs[i].ID > m.ID
		}
		return msgs[i].CreatedAt.After(m.CreatedAt)
	})
	msgs = append(msgs, nil)
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	s.byChat[m.ChatID] = msgs
}

func (s *Store) publish(m *domain.Message, kind events.Kind) {
	if s.bus == nil {
		return
	}
	ev := events.Event{Kind: kind, ChatID: m.ChatID, Message: m}
	s.bus.PublishChat(ev)
	s.bus.PublishUser(m.SenderID, ev)
	for _, r := range m.Recipients {
		s.bus.PublishUser(r, ev)
	}
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return s.retry.Do(ctx, op)
}

func validateNew(m *domain.Message) error {
	if m == nil {
		return apperr.Validationf("nil message")
	}
	if m.ChatID == "" {
		return apperr.Validationf("empty chat id")
	}
	if m.SenderID == "" {
		return apperr.Validationf("empty sender id")
	}
	if m.Type != "" && !m.Type.Valid() {
		return apperr.Validationf("unknown message type %q", m.Type)
	}
	if (m.Type == "" || m.Type == domain.TypeText) && strings.TrimSpace(m.Content) == "" {
		return apperr.Validationf("empty content")
	}
	if m.Type != "" && m.Type != domain.TypeText && m.MediaRef == "" {
		return apperr.Validationf("%s message requires media_ref", m.Type)
	}
	for _, r := range m.Recipients {
		if r == m.SenderID {
			return apperr.Validationf("sender %s listed as recipient", m.SenderID)
		}
	}
	return nil
}

func applyReaction(m *domain.Message, userID, oldSymbol, newSymbol string) {
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
}

func mergeReactions(dst, src *domain.Message) {
	for sym, users := range src.Reactions {
		for _, u := range users {
			// a remote reaction replaces whatever this cache had for u
			if old := dst.ReactionBy(u); old != sym {
				applyReaction(dst, u, old, sym)
			}
		}
	}
}
