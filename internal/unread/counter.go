// Package unread derives per-(chat,user) unread counts from the
// message log. Counts are never incrementally patched: every refresh
// recomputes from source messages, and redis holds only a disposable
// copy of the result, invalidated and rebuilt wholesale.
package unread

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// MessageSource yields a chat's message log. Satisfied by the message
// store.
type MessageSource interface {
	Messages(chatID string) []*domain.Message
}

// ChatSource yields the chats a user participates in. Satisfied by the
// chat registry.
type ChatSource interface {
	ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error)
}

type Counter struct {
	mu      sync.RWMutex
	perChat map[string]map[string]int // userID -> chatID -> count

	msgs  MessageSource
	chats ChatSource
	cache *redis.Client // optional
	prefix string
	log    *zap.SugaredLogger
}

func New(msgs MessageSource, chats ChatSource, cache *redis.Client, prefix string, log *zap.SugaredLogger) *Counter {
	return &Counter{
		perChat: make(map[string]map[string]int),
		msgs:    msgs,
		chats:   chats,
		cache:   cache,
		prefix:  prefix,
		log:     log,
	}
}

// Refresh recomputes every per-chat count and the global total for
// userID from first principles. Safe to call redundantly; the result
// depends only on the current message log.
func (c *Counter) Refresh(ctx context.Context, userID string) error {
	chats, err := c.chats.ListForUser(ctx, userID)
	if err != nil {
		return err
	}

	counts := make(map[string]int, len(chats))
	for _, chat := range chats {
		n := 0
		for _, m := range c.msgs.Messages(chat.ID) {
			if m.UnreadFor(userID) {
				n++
			}
		}
		counts[chat.ID] = n
	}

	c.mu.Lock()
	c.perChat[userID] = counts
	c.mu.Unlock()

	c.writeCache(ctx, userID, counts)
	return nil
}

// Count returns the last refreshed unread count for (userID, chatID).
func (c *Counter) Count(userID, chatID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.perChat[userID][chatID]
}

// Total returns the last refreshed global unread count for userID.
func (c *Counter) Total(userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, n := range c.perChat[userID] {
		total += n
	}
	return total
}

// Counts returns the per-chat map snapshot for userID.
func (c *Counter) Counts(userID string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.perChat[userID]))
	for chatID, n := range c.perChat[userID] {
		out[chatID] = n
	}
	return out
}

// Forget drops all counts for userID, locally and in redis. Used on
// sign-out.
func (c *Counter) Forget(ctx context.Context, userID string) {
	c.mu.Lock()
	delete(c.perChat, userID)
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.Del(ctx, c.key(userID)).Err(); err != nil && err != redis.Nil {
			c.log.Debugw("unread cache delete failed", "user_id", userID, "err", err)
		}
	}
}

// writeCache rebuilds the redis hash for userID from scratch. The hash
// is a cache of derived state only; losing it costs one recompute.
func (c *Counter) writeCache(ctx context.Context, userID string, counts map[string]int) {
	if c.cache == nil {
		return
	}
	key := c.key(userID)
	pipe := c.cache.TxPipeline()
	pipe.Del(ctx, key)
	if len(counts) > 0 {
		fields := make(map[string]interface{}, len(counts))
		for chatID, n := range counts {
			fields[chatID] = strconv.Itoa(n)
		}
		pipe.HSet(ctx, key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Debugw("unread cache rebuild failed", "user_id", userID, "err", err)
	}
}

func (c *Counter) key(userID string) string {
	return c.prefix + ":unread:" + userID
}
