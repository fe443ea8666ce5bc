// Package events carries live-update streams between the core and its
// consumers. Subscribers get immutable snapshots; cancelling a
// subscription releases it deterministically and never disturbs state
// already applied elsewhere.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

type Kind string

const (
	KindMessageAppended Kind = "message.appended"
	KindMessageUpdated  Kind = "message.updated" // read receipt, reaction, state change, edit
	KindChatUpdated     Kind = "chat.updated"
	KindChatDeleted     Kind = "chat.deleted"
	KindTyping          Kind = "typing"
)

// Event is an immutable notification snapshot. Message and Chat are
// clones; receivers may keep them without copying.
type Event struct {
	Kind    Kind            `json:"kind"`
	ChatID  string          `json:"chat_id"`
	UserID  string          `json:"user_id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Chat    *domain.Chat    `json:"chat,omitempty"`
}

// subscriber buffer; a consumer that falls this far behind has its
// events dropped rather than blocking publishers.
const subBuffer = 64

type subscriber struct {
	ch     chan Event
	closed bool
}

// Subscription is one live-update stream. Cancel is idempotent.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus fans events out to per-chat and per-user subscribers.
type Bus struct {
	mu     sync.RWMutex
	byChat map[string]map[*subscriber]struct{}
	byUser map[string]map[*subscriber]struct{}
	log    *zap.SugaredLogger
}

func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		byChat: make(map[string]map[*subscriber]struct{}),
		byUser: make(map[string]map[*subscriber]struct{}),
		log:    log,
	}
}

// SubscribeChat opens a stream of events scoped to one chat.
func (b *Bus) SubscribeChat(chatID string) *Subscription {
	return b.subscribe(b.byChat, chatID)
}

// SubscribeUser opens a stream of events relevant to one user across
// all their chats (new messages, chat list changes, unread updates).
func (b *Bus) SubscribeUser(userID string) *Subscription {
	return b.subscribe(b.byUser, userID)
}

func (b *Bus) subscribe(index map[string]map[*subscriber]struct{}, key string) *Subscription {
	sub := &subscriber{ch: make(chan Event, subBuffer)}

	b.mu.Lock()
	set, ok := index[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		index[key] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := index[key]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(index, key)
				}
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		},
	}
}

// PublishChat delivers ev to every subscriber of ev.ChatID.
func (b *Bus) PublishChat(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.send(b.byChat[ev.ChatID], ev)
}

// PublishUser delivers ev to every subscriber watching userID.
func (b *Bus) PublishUser(userID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.send(b.byUser[userID], ev)
}

func (b *Bus) send(set map[*subscriber]struct{}, ev Event) {
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			// slow consumer, drop; it reconciles on resubscribe
			b.log.Debugw("event dropped", "kind", ev.Kind, "chat_id", ev.ChatID)
		}
	}
}

// Reset tears down every subscription. Called when the owning identity
// signs out.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.byChat {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	for _, set := range b.byUser {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	b.byChat = make(map[string]map[*subscriber]struct{})
	b.byUser = make(map[string]map[*subscriber]struct{})
}

// ChatSubscribers reports the number of live subscriptions for a chat.
// Used to verify listeners do not leak.
func (b *Bus) ChatSubscribers(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byChat[chatID])
}
