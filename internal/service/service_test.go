package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/events"
	"github.com/fathima-sithara/chat-core/internal/logger"
	"github.com/fathima-sithara/chat-core/internal/notify"
	"github.com/fathima-sithara/chat-core/internal/push"
	"github.com/fathima-sithara/chat-core/internal/registry"
	"github.com/fathima-sithara/chat-core/internal/retry"
	"github.com/fathima-sithara/chat-core/internal/store"
	"github.com/fathima-sithara/chat-core/internal/unread"
	"github.com/fathima-sithara/chat-core/internal/user"
)

type fakeGateway struct {
	mu     sync.Mutex
	pushes map[string][]push.Notification
}

func (g *fakeGateway) Push(_ context.Context, recipientID string, n push.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushes == nil {
		g.pushes = make(map[string][]push.Notification)
	}
	g.pushes[recipientID] = append(g.pushes[recipientID], n)
	return nil
}

func (g *fakeGateway) count(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes[userID])
}

type fakeUsers map[string]string

func (f fakeUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	name, ok := f[userID]
	if !ok {
		return nil, apperr.NotFoundf("user %s", userID)
	}
	return &domain.User{ID: userID, DisplayName: name}, nil
}

type world struct {
	svc     *Service
	store   *store.Store
	bus     *events.Bus
	counter *unread.Counter
	gateway *fakeGateway
}

func newWorld(t *testing.T) *world {
	t.Helper()
	pol := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxElapsed: 100 * time.Millisecond}
	log := logger.Nop()
	bus := events.NewBus(log)
	st := store.New(store.NewMemoryBackend(), bus, log, pol)
	reg := registry.New(registry.NewMemoryBackend(), st, bus, log, pol)
	counter := unread.New(st, reg, nil, "test", log)
	gw := &fakeGateway{}
	users := user.NewDirectory(fakeUsers{"alice": "Alice", "bob": "Bob", "carol": "Carol"}, nil, "test", log)
	dispatcher := notify.NewDispatcher(gw, nil, users, log)
	svc := New(st, reg, counter, dispatcher, bus, users, log)
	return &world{svc: svc, store: st, bus: bus, counter: counter, gateway: gw}
}

func (w *world) directChat(t *testing.T) string {
	t.Helper()
	id, err := w.svc.CreateChat(context.Background(), "alice", []string{"bob"}, false, "")
	require.NoError(t, err)
	return id
}

// A message travels sent -> read and every derived surface follows:
// the recipient's unread count rises then clears, the chat list pointer
// shows the message and its final state, the recipient is notified once.
func TestSendReadRoundTrip(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "hello bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, m.DeliveryState)
	assert.Equal(t, []string{"bob"}, m.Recipients)

	assert.Equal(t, 1, w.counter.Count("bob", chatID))
	assert.Equal(t, 1, w.gateway.count("bob"))
	assert.Zero(t, w.gateway.count("alice"), "senders are never notified")

	chats, err := w.svc.Chats(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "hello bob", chats[0].LastMessage.Preview)
	assert.Equal(t, domain.StateSent, chats[0].LastMessage.DeliveryState)

	require.NoError(t, w.svc.MarkRead(ctx, m.ID, "bob"))
	assert.Zero(t, w.counter.Count("bob", chatID))

	got, err := w.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, got.DeliveryState)
	assert.Equal(t, []string{"bob"}, got.ReadBy)

	chats, err = w.svc.Chats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, chats[0].LastMessage.DeliveryState, "the sender's chat row shows the receipt")
}

func TestSendRequiresMembership(t *testing.T) {
	w := newWorld(t)
	chatID := w.directChat(t)

	_, err := w.svc.Send(context.Background(), "carol", SendInput{ChatID: chatID, Content: "let me in"})
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = w.svc.Send(context.Background(), "alice", SendInput{ChatID: "no-such-chat", Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGroupSendFansOutToAllButSender(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID, err := w.svc.CreateChat(ctx, "alice", []string{"bob", "carol"}, true, "team")
	require.NoError(t, err)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "standup?"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, m.Recipients)
	assert.Equal(t, 1, w.gateway.count("bob"))
	assert.Equal(t, 1, w.gateway.count("carol"))
	assert.Equal(t, 1, w.counter.Count("bob", chatID))
	assert.Equal(t, 1, w.counter.Count("carol", chatID))

	// one receipt advances the scalar state but carol stays unread
	require.NoError(t, w.svc.MarkRead(ctx, m.ID, "bob"))
	got, err := w.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, got.DeliveryState)
	assert.Equal(t, 1, w.counter.Count("carol", chatID))
}

func TestMarkChatRead(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	for i := 0; i < 3; i++ {
		_, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "ping"})
		require.NoError(t, err)
	}
	_, err := w.svc.Send(ctx, "bob", SendInput{ChatID: chatID, Content: "pong"})
	require.NoError(t, err)

	require.NoError(t, w.svc.MarkChatRead(ctx, chatID, "bob"))
	assert.Zero(t, w.counter.Count("bob", chatID))

	// alice still has bob's message unread
	counts, total, err := w.svc.Unread(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[chatID])
	assert.Equal(t, 1, total)
}

func TestOpenStreamsLiveMessages(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	sub, err := w.svc.Open(ctx, chatID, "bob")
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = w.svc.Open(ctx, chatID, "carol")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "live"})
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.KindMessageAppended, ev.Kind)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "live", ev.Message.Content)
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}
}

func TestReactionFlow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "hi"})
	require.NoError(t, err)

	assert.ErrorIs(t, w.svc.React(ctx, m.ID, "carol", "❤️"), apperr.ErrPermission)

	require.NoError(t, w.svc.React(ctx, m.ID, "bob", "❤️"))
	assert.Equal(t, 1, w.gateway.count("alice"), "the sender hears about the reaction")

	got, err := w.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "❤️", got.ReactionBy("bob"))

	require.NoError(t, w.svc.Unreact(ctx, m.ID, "bob", "❤️"))
	got, err = w.store.Get(m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReactionBy("bob"))
}

func TestRepeatedReactionNotifiesOnce(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, w.svc.React(ctx, m.ID, "bob", "❤️"))
	require.NoError(t, w.svc.React(ctx, m.ID, "bob", "❤️"))
	require.NoError(t, w.svc.React(ctx, m.ID, "bob", "❤️"))

	assert.Equal(t, 1, w.gateway.count("alice"), "a no-op reaction must not re-notify")

	// switching symbols is a real change and announces again
	require.NoError(t, w.svc.React(ctx, m.ID, "bob", "👍"))
	assert.Equal(t, 2, w.gateway.count("alice"))
}

func TestMarkChatReadUpdatesChatRow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	for i := 0; i < 2; i++ {
		_, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "ping"})
		require.NoError(t, err)
	}

	require.NoError(t, w.svc.MarkChatRead(ctx, chatID, "bob"))

	chats, err := w.svc.Chats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, domain.StateRead, chats[0].LastMessage.DeliveryState,
		"clearing the chat must update the sender's chat row")
}

func TestTypingRequiresMembershipAndIsTransient(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	sub, err := w.svc.Open(ctx, chatID, "alice")
	require.NoError(t, err)
	defer sub.Cancel()

	assert.ErrorIs(t, w.svc.Typing(ctx, chatID, "carol"), apperr.ErrPermission)
	require.NoError(t, w.svc.Typing(ctx, chatID, "bob"))

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.KindTyping, ev.Kind)
		assert.Equal(t, "bob", ev.UserID)
		assert.Nil(t, ev.Message, "typing carries no message")
	case <-time.After(time.Second):
		t.Fatal("no typing event")
	}
	assert.Empty(t, w.store.Messages(chatID))
}

func TestLeaveCascadesWhenChatEmpties(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	_, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "bye"})
	require.NoError(t, err)

	require.NoError(t, w.svc.Leave(ctx, chatID, "alice"))
	require.NoError(t, w.svc.Leave(ctx, chatID, "bob"))

	assert.Empty(t, w.store.Messages(chatID), "the emptied chat's log is purged")
	_, err = w.svc.History(ctx, chatID, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSignOutTearsDownSubscriptions(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	sub, err := w.svc.Open(ctx, chatID, "bob")
	require.NoError(t, err)
	watch := w.svc.Watch("bob")

	_, err = w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, w.counter.Count("bob", chatID))

	w.svc.SignOut(ctx, "bob")

	drained := func(c <-chan events.Event) bool {
		for {
			select {
			case _, ok := <-c:
				if !ok {
					return true
				}
			case <-time.After(time.Second):
				return false
			}
		}
	}
	assert.True(t, drained(sub.C), "chat stream closed on sign-out")
	assert.True(t, drained(watch.C), "user stream closed on sign-out")
	assert.Zero(t, w.counter.Total("bob"), "derived counts dropped")
	assert.Zero(t, w.bus.ChatSubscribers(chatID))
}

func TestHistoryHidesSoftDeletes(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "secret"})
	require.NoError(t, err)
	require.NoError(t, w.svc.DeleteForMe(ctx, m.ID, "bob"))

	bobView, err := w.svc.History(ctx, chatID, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobView)

	aliceView, err := w.svc.History(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceView, 1)
}

func TestDirectChatConverges(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	first := w.directChat(t)
	again, err := w.svc.CreateChat(ctx, "bob", []string{"alice"}, false, "")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestEditOnlyBySender(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	chatID := w.directChat(t)

	m, err := w.svc.Send(ctx, "alice", SendInput{ChatID: chatID, Content: "typo"})
	require.NoError(t, err)

	assert.ErrorIs(t, w.svc.Edit(ctx, m.ID, "bob", "hijack"), apperr.ErrPermission)
	require.NoError(t, w.svc.Edit(ctx, m.ID, "alice", "fixed"))

	got, err := w.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Content)
}
