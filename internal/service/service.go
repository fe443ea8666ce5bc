// Package service ties the core components together along the send
// path: append, delivery-state progression, last-message pointer,
// unread recompute, notification fan-out.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/events"
	"github.com/fathima-sithara/chat-core/internal/notify"
	"github.com/fathima-sithara/chat-core/internal/registry"
	"github.com/fathima-sithara/chat-core/internal/store"
	"github.com/fathima-sithara/chat-core/internal/unread"
	"github.com/fathima-sithara/chat-core/internal/user"
)

type Service struct {
	store      *store.Store
	registry   *registry.Registry
	unread     *unread.Counter
	dispatcher *notify.Dispatcher
	bus        *events.Bus
	users      *user.Directory
	log        *zap.SugaredLogger
}

func New(
	st *store.Store,
	reg *registry.Registry,
	counter *unread.Counter,
	dispatcher *notify.Dispatcher,
	bus *events.Bus,
	users *user.Directory,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		store:      st,
		registry:   reg,
		unread:     counter,
		dispatcher: dispatcher,
		bus:        bus,
		users:      users,
		log:        log,
	}
}

// SendInput carries everything a send needs besides the sender
// identity supplied by auth.
type SendInput struct {
	ChatID   string             `json:"chat_id"`
	Content  string             `json:"content"`
	Type     domain.MessageType `json:"type"`
	MediaRef string             `json:"media_ref"`
	ReplyTo  string             `json:"reply_to"`
	// ID lets the client pre-generate the message id for optimistic
	// display; the store assigns one otherwise.
	ID string `json:"id"`
}

// Send appends a message into a chat. The returned message reflects
// the final local state: "sent" on success, "failed" (with the error)
// when the retry budget was exhausted so the caller can offer a
// manual retry.
func (s *Service) Send(ctx context.Context, senderID string, in SendInput) (*domain.Message, error) {
	chat, err := s.registry.Get(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, apperr.Permissionf("user %s is not a participant of chat %s", senderID, in.ChatID)
	}

	m := &domain.Message{
		ID:         in.ID,
		ChatID:     in.ChatID,
		SenderID:   senderID,
		Content:    in.Content,
		Type:       in.Type,
		MediaRef:   in.MediaRef,
		ReplyTo:    in.ReplyTo,
		Recipients: chat.RecipientsFor(senderID),
	}

	id, appendErr := s.store.Append(ctx, m)
	if appendErr != nil && errors.Is(appendErr, apperr.ErrValidation) {
		return nil, appendErr
	}

	sent, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	if appendErr != nil {
		// stuck in failed; no pointer update, no fan-out
		return sent, appendErr
	}

	s.afterAppend(ctx, sent)
	return sent, nil
}

// RetrySend re-attempts a failed message.
func (s *Service) RetrySend(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	m, err := s.store.Get(messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, apperr.Permissionf("only the sender may retry message %s", messageID)
	}
	retryErr := s.store.RetryAppend(ctx, messageID)
	sent, err := s.store.Get(messageID)
	if err != nil {
		return nil, err
	}
	if retryErr != nil {
		return sent, retryErr
	}
	s.afterAppend(ctx, sent)
	return sent, nil
}

func (s *Service) afterAppend(ctx context.Context, m *domain.Message) {
	if err := s.registry.TouchLastMessage(ctx, m.ChatID, m); err != nil {
		s.log.Warnw("touch last message failed", "chat_id", m.ChatID, "err", err)
	}
	for _, r := range m.Recipients {
		if err := s.unread.Refresh(ctx, r); err != nil {
			s.log.Warnw("unread refresh failed", "user_id", r, "err", err)
		}
	}
	s.dispatcher.DispatchMessage(ctx, m)
}

// History returns a chat's log as visible to userID, timestamp
// ascending.
func (s *Service) History(ctx context.Context, chatID, userID string) ([]*domain.Message, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.MessagesFor(chatID, userID), nil
}

// Open subscribes userID to a chat's live updates after reconciling
// the local log against the backend, so a resubscription merges
// already-known messages instead of duplicating them. The returned
// subscription must be cancelled when the chat view goes away.
func (s *Service) Open(ctx context.Context, chatID, userID string) (*events.Subscription, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if err := s.store.LoadChat(ctx, chatID); err != nil {
		s.log.Warnw("chat reconcile failed", "chat_id", chatID, "err", err)
	}
	return s.bus.SubscribeChat(chatID), nil
}

// MarkRead acknowledges one message for userID and recomputes their
// unread counts. Idempotent.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) error {
	if err := s.store.MarkRead(ctx, messageID, userID); err != nil {
		return err
	}
	m, err := s.store.Get(messageID)
	if err != nil {
		return err
	}
	// the chat list row shows the last message's state; refresh it
	if err := s.registry.TouchLastMessage(ctx, m.ChatID, m); err != nil {
		s.log.Warnw("touch last message failed", "chat_id", m.ChatID, "err", err)
	}
	return s.unread.Refresh(ctx, userID)
}

// MarkChatRead acknowledges every unread message in a chat for userID.
func (s *Service) MarkChatRead(ctx context.Context, chatID, userID string) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	msgs := s.store.Messages(chatID)
	for _, m := range msgs {
		if !m.UnreadFor(userID) || !m.IsRecipient(userID) {
			continue
		}
		if err := s.store.MarkRead(ctx, m.ID, userID); err != nil {
			return err
		}
	}
	// the chat row shows the last message's state; refresh it like the
	// single-message path does
	if n := len(msgs); n > 0 {
		if last, err := s.store.Get(msgs[n-1].ID); err == nil {
			if err := s.registry.TouchLastMessage(ctx, chatID, last); err != nil {
				s.log.Warnw("touch last message failed", "chat_id", chatID, "err", err)
			}
		}
	}
	return s.unread.Refresh(ctx, userID)
}

// MarkDelivered records a recipient-side receipt acknowledgement.
func (s *Service) MarkDelivered(ctx context.Context, messageID, userID string) error {
	if err := s.store.MarkDelivered(ctx, messageID, userID); err != nil {
		return err
	}
	m, err := s.store.Get(messageID)
	if err != nil {
		return err
	}
	return s.registry.TouchLastMessage(ctx, m.ChatID, m)
}

// React gives userID one active reaction on the message.
func (s *Service) React(ctx context.Context, messageID, userID, symbol string) error {
	m, err := s.store.Get(messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID && !m.IsRecipient(userID) {
		return apperr.Permissionf("user %s is not in the audience of %s", userID, messageID)
	}
	if m.ReactionBy(userID) == symbol {
		return nil // already applied, nothing to announce
	}
	if err := s.store.AddReaction(ctx, messageID, userID, symbol); err != nil {
		return err
	}
	reacted, err := s.store.Get(messageID)
	if err != nil {
		return err
	}
	s.dispatcher.DispatchReaction(ctx, reacted, userID, symbol)
	return nil
}

// Unreact removes userID's reaction if it matches symbol.
func (s *Service) Unreact(ctx context.Context, messageID, userID, symbol string) error {
	return s.store.RemoveReaction(ctx, messageID, userID, symbol)
}

// Edit rewrites a message's content; sender only.
func (s *Service) Edit(ctx context.Context, messageID, userID, content string) error {
	return s.store.Edit(ctx, messageID, userID, content)
}

// DeleteForMe hides a message from userID's view only.
func (s *Service) DeleteForMe(ctx context.Context, messageID, userID string) error {
	return s.store.DeleteForUser(ctx, messageID, userID)
}

// CreateChat registers a conversation; identical direct pairs reuse
// the existing chat.
func (s *Service) CreateChat(ctx context.Context, creatorID string, participants []string, isGroup bool, groupName string) (string, error) {
	return s.registry.Create(ctx, creatorID, participants, isGroup, groupName)
}

// Chats lists userID's chats, most recently active first.
func (s *Service) Chats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return s.registry.ListForUser(ctx, userID)
}

// Watch subscribes userID to events across all their chats.
func (s *Service) Watch(userID string) *events.Subscription {
	return s.bus.SubscribeUser(userID)
}

// AddParticipants grows a chat's membership.
func (s *Service) AddParticipants(ctx context.Context, chatID, actorID string, userIDs []string) error {
	return s.registry.AddParticipants(ctx, chatID, actorID, userIDs)
}

// Leave removes userID from the chat; an emptied chat is cascade
// deleted along with its messages.
func (s *Service) Leave(ctx context.Context, chatID, userID string) error {
	if err := s.registry.RemoveParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	return s.unread.Refresh(ctx, userID)
}

// RenameChat renames a group.
func (s *Service) RenameChat(ctx context.Context, chatID, actorID, newName string) error {
	return s.registry.Rename(ctx, chatID, actorID, newName)
}

// Unread returns the per-chat counts and the global total for userID,
// recomputed from source.
func (s *Service) Unread(ctx context.Context, userID string) (map[string]int, int, error) {
	if err := s.unread.Refresh(ctx, userID); err != nil {
		return nil, 0, err
	}
	return s.unread.Counts(userID), s.unread.Total(userID), nil
}

// Typing publishes a transient typing signal into the chat's stream.
// Never persisted.
func (s *Service) Typing(ctx context.Context, chatID, userID string) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	s.bus.PublishChat(events.Event{Kind: events.KindTyping, ChatID: chatID, UserID: userID})
	return nil
}

// Online marks userID's presence.
func (s *Service) Online(ctx context.Context, userID string) {
	s.users.SetOnline(ctx, userID)
}

// Offline clears userID's presence and stamps lastSeen.
func (s *Service) Offline(ctx context.Context, userID string) {
	s.users.SetOffline(ctx, userID)
}

// SignOut is the hard reset on loss of identity: every live
// subscription is torn down and per-user derived state dropped.
func (s *Service) SignOut(ctx context.Context, userID string) {
	s.bus.Reset()
	s.unread.Forget(ctx, userID)
	s.users.SetOffline(ctx, userID)
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID string) error {
	chat, err := s.registry.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return apperr.Permissionf("user %s is not a participant of chat %s", userID, chatID)
	}
	return nil
}
