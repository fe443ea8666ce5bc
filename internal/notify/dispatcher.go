// Package notify fans a new-message or reaction event out to everyone
// who should hear about it, except the actor. Delivery is best-effort:
// gateway failures are logged and counted, never retried here and
// never surfaced to the user.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/metrics"
	"github.com/fathima-sithara/chat-core/internal/push"
)

// Gateway accepts one (recipientId, payload) pair. Satisfied by the
// push client.
type Gateway interface {
	Push(ctx context.Context, recipientID string, n push.Notification) error
}

// EventSink receives a copy of each dispatched event for cross-instance
// consumers. Satisfied by the kafka producer.
type EventSink interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// NameResolver maps a user id to a display label without blocking.
// Satisfied by the user directory.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

type Dispatcher struct {
	gateway Gateway
	sink    EventSink // optional
	names   NameResolver
	log     *zap.SugaredLogger
}

func NewDispatcher(gateway Gateway, sink EventSink, names NameResolver, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{gateway: gateway, sink: sink, names: names, log: log}
}

type messageEvent struct {
	Kind    string            `json:"kind"`
	ChatID  string            `json:"chat_id"`
	ActorID string            `json:"actor_id"`
	Payload push.Notification `json:"payload"`
}

// DispatchMessage notifies every recipient of a freshly appended
// message. The sender is excluded unconditionally, even if it shows up
// in the recipient set.
func (d *Dispatcher) DispatchMessage(ctx context.Context, m *domain.Message) {
	n := push.Notification{
		SenderName: d.names.DisplayName(ctx, m.SenderID),
		Preview:    m.Preview(),
		ChatID:     m.ChatID,
		Type:       string(m.Type),
	}
	d.fanOut(ctx, "message.created", m.ChatID, m.SenderID, m.Recipients, n)
}

// DispatchReaction notifies the message's audience that reactorID
// reacted with symbol. The reactor never hears about their own
// reaction.
func (d *Dispatcher) DispatchReaction(ctx context.Context, m *domain.Message, reactorID, symbol string) {
	audience := append([]string(nil), m.Recipients...)
	if m.SenderID != reactorID {
		audience = append(audience, m.SenderID)
	}
	n := push.Notification{
		SenderName: d.names.DisplayName(ctx, reactorID),
		Preview:    symbol,
		ChatID:     m.ChatID,
		Type:       "reaction",
	}
	d.fanOut(ctx, "reaction.added", m.ChatID, reactorID, audience, n)
}

func (d *Dispatcher) fanOut(ctx context.Context, kind, chatID, actorID string, audience []string, n push.Notification) {
	if d.sink != nil {
		ev := messageEvent{Kind: kind, ChatID: chatID, ActorID: actorID, Payload: n}
		if err := d.sink.Publish(ctx, chatID, ev); err != nil {
			d.log.Warnw("event publish failed", "kind", kind, "chat_id", chatID, "err", err)
		}
	}

	seen := make(map[string]struct{}, len(audience))
	for _, recipient := range audience {
		if recipient == actorID {
			continue // never notify the actor of their own action
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		if err := d.gateway.Push(ctx, recipient, n); err != nil {
			metrics.PushDropped.Inc()
			d.log.Warnw("push dispatch failed", "recipient", recipient, "chat_id", chatID, "err", err)
			continue
		}
		metrics.PushDispatched.Inc()
	}
}
