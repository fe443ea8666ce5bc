package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-core/internal/logger"
)

func recv(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-c:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishChatReachesOnlyThatChat(t *testing.T) {
	b := NewBus(logger.Nop())
	sub1 := b.SubscribeChat("c1")
	defer sub1.Cancel()
	sub2 := b.SubscribeChat("c2")
	defer sub2.Cancel()

	b.PublishChat(Event{Kind: KindMessageAppended, ChatID: "c1"})

	ev := recv(t, sub1.C)
	assert.Equal(t, "c1", ev.ChatID)

	select {
	case <-sub2.C:
		t.Fatal("c2 subscriber must not see c1 events")
	default:
	}
}

func TestPublishUserFanout(t *testing.T) {
	b := NewBus(logger.Nop())
	s1 := b.SubscribeUser("u1")
	defer s1.Cancel()
	s2 := b.SubscribeUser("u1")
	defer s2.Cancel()

	b.PublishUser("u1", Event{Kind: KindChatUpdated, ChatID: "c1"})

	assert.Equal(t, KindChatUpdated, recv(t, s1.C).Kind)
	assert.Equal(t, KindChatUpdated, recv(t, s2.C).Kind, "every subscription of the user gets a copy")
}

func TestCancelReleasesSubscription(t *testing.T) {
	b := NewBus(logger.Nop())
	sub := b.SubscribeChat("c1")
	require.Equal(t, 1, b.ChatSubscribers("c1"))

	sub.Cancel()
	assert.Zero(t, b.ChatSubscribers("c1"), "cancelled listeners must not leak")

	_, ok := <-sub.C
	assert.False(t, ok, "cancel closes the channel")

	sub.Cancel() // idempotent
}

func TestCancelDoesNotDisturbOthers(t *testing.T) {
	b := NewBus(logger.Nop())
	stay := b.SubscribeChat("c1")
	defer stay.Cancel()
	go b.SubscribeChat("c1").Cancel()

	b.PublishChat(Event{Kind: KindTyping, ChatID: "c1"})
	assert.Equal(t, KindTyping, recv(t, stay.C).Kind)
}

func TestSlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBus(logger.Nop())
	sub := b.SubscribeChat("c1")
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// never reading; overflow events are dropped, not queued
		for i := 0; i < subBuffer*2; i++ {
			b.PublishChat(Event{Kind: KindMessageAppended, ChatID: "c1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow consumer")
	}
	assert.Len(t, sub.C, subBuffer)
}

func TestResetClosesEverything(t *testing.T) {
	b := NewBus(logger.Nop())
	chatSub := b.SubscribeChat("c1")
	userSub := b.SubscribeUser("u1")

	b.Reset()

	_, ok := <-chatSub.C
	assert.False(t, ok)
	_, ok = <-userSub.C
	assert.False(t, ok)
	assert.Zero(t, b.ChatSubscribers("c1"))

	// cancelling after reset must not double-close
	chatSub.Cancel()

	// the bus stays usable for the next identity
	fresh := b.SubscribeChat("c1")
	defer fresh.Cancel()
	b.PublishChat(Event{Kind: KindMessageAppended, ChatID: "c1"})
	assert.Equal(t, KindMessageAppended, recv(t, fresh.C).Kind)
}
