package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/logger"
	"github.com/fathima-sithara/chat-core/internal/push"
)

type gatewaySpy struct {
	mu     sync.Mutex
	pushed map[string]push.Notification
	fail   map[string]error
}

func newGatewaySpy() *gatewaySpy {
	return &gatewaySpy{pushed: make(map[string]push.Notification), fail: make(map[string]error)}
}

func (g *gatewaySpy) Push(_ context.Context, recipientID string, n push.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.fail[recipientID]; ok {
		return err
	}
	g.pushed[recipientID] = n
	return nil
}

func (g *gatewaySpy) recipients() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.pushed))
	for r := range g.pushed {
		out = append(out, r)
	}
	return out
}

type sinkSpy struct {
	mu     sync.Mutex
	events []interface{}
}

func (s *sinkSpy) Publish(_ context.Context, _ string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, v)
	return nil
}

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, userID string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return userID
}

func textMessage(sender string, recipients ...string) *domain.Message {
	return &domain.Message{
		ID: "m1", ChatID: "c1", SenderID: sender, Content: "hello there",
		Type: domain.TypeText, Recipients: recipients,
	}
}

func TestDispatchMessageExcludesSender(t *testing.T) {
	gw := newGatewaySpy()
	d := NewDispatcher(gw, nil, staticNames{"a": "Alice"}, logger.Nop())

	// sender sneaks into the recipient set; still excluded
	m := textMessage("a", "b", "c", "a")
	d.DispatchMessage(context.Background(), m)

	assert.ElementsMatch(t, []string{"b", "c"}, gw.recipients())
	n := gw.pushed["b"]
	assert.Equal(t, "Alice", n.SenderName)
	assert.Equal(t, "hello there", n.Preview)
	assert.Equal(t, "c1", n.ChatID)
}

func TestDispatchMessageDeduplicatesAudience(t *testing.T) {
	gw := newGatewaySpy()
	d := NewDispatcher(gw, nil, staticNames{}, logger.Nop())

	d.DispatchMessage(context.Background(), textMessage("a", "b", "b", "b"))
	assert.Equal(t, []string{"b"}, gw.recipients())
}

func TestDispatchMessageSurvivesGatewayFailure(t *testing.T) {
	gw := newGatewaySpy()
	gw.fail["b"] = errors.New("gateway down")
	d := NewDispatcher(gw, nil, staticNames{}, logger.Nop())

	d.DispatchMessage(context.Background(), textMessage("a", "b", "c"))

	// b's failure never blocks c's notification
	assert.Equal(t, []string{"c"}, gw.recipients())
}

func TestDispatchReactionAudience(t *testing.T) {
	gw := newGatewaySpy()
	d := NewDispatcher(gw, nil, staticNames{"b": "Bob"}, logger.Nop())

	// b (a recipient) reacts to a's message: a and c hear, b does not
	m := textMessage("a", "b", "c")
	d.DispatchReaction(context.Background(), m, "b", "❤️")

	assert.ElementsMatch(t, []string{"a", "c"}, gw.recipients())
	n := gw.pushed["a"]
	assert.Equal(t, "Bob", n.SenderName)
	assert.Equal(t, "❤️", n.Preview)
	assert.Equal(t, "reaction", n.Type)
}

func TestDispatchReactionBySenderExcludesThem(t *testing.T) {
	gw := newGatewaySpy()
	d := NewDispatcher(gw, nil, staticNames{}, logger.Nop())

	// the sender reacts to their own message: only recipients hear
	m := textMessage("a", "b", "c")
	d.DispatchReaction(context.Background(), m, "a", "👍")

	assert.ElementsMatch(t, []string{"b", "c"}, gw.recipients())
}

func TestDispatchPublishesToSink(t *testing.T) {
	gw := newGatewaySpy()
	sink := &sinkSpy{}
	d := NewDispatcher(gw, sink, staticNames{}, logger.Nop())

	d.DispatchMessage(context.Background(), textMessage("a", "b"))

	assert.Len(t, sink.events, 1)
	ev, ok := sink.events[0].(messageEvent)
	assert.True(t, ok)
	assert.Equal(t, "message.created", ev.Kind)
	assert.Equal(t, "a", ev.ActorID)
}

func TestMediaMessagePreview(t *testing.T) {
	gw := newGatewaySpy()
	d := NewDispatcher(gw, nil, staticNames{}, logger.Nop())

	m := &domain.Message{
		ID: "m2", ChatID: "c1", SenderID: "a", Type: domain.TypeImage,
		MediaRef: "s3://x", Recipients: []string{"b"},
	}
	d.DispatchMessage(context.Background(), m)

	assert.Equal(t, "image", gw.pushed["b"].Preview, "media previews show the type, not the payload")
}
