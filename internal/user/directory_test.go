package user

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-core/internal/domain"
	"github.com/fathima-sithara/chat-core/internal/logger"
)

type countingSource struct {
	calls atomic.Int32
	users map[string]*domain.User
}

func (s *countingSource) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.calls.Add(1)
	u, ok := s.users[userID]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

func TestGetCachesRecords(t *testing.T) {
	src := &countingSource{users: map[string]*domain.User{
		"alice": {ID: "alice", DisplayName: "Alice"},
	}}
	d := NewDirectory(src, nil, "test", logger.Nop())

	for i := 0; i < 3; i++ {
		u := d.Get(context.Background(), "alice")
		require.NotNil(t, u)
		assert.Equal(t, "Alice", u.DisplayName)
	}
	assert.Equal(t, int32(1), src.calls.Load(), "repeat lookups hit the cache")
}

func TestGetFallsBackToPlaceholder(t *testing.T) {
	src := &countingSource{users: map[string]*domain.User{}}
	d := NewDirectory(src, nil, "test", logger.Nop())

	u := d.Get(context.Background(), "ghost")
	require.NotNil(t, u)
	assert.Equal(t, "ghost", u.ID)
	assert.Equal(t, "Unknown", u.DisplayName)

	// failures are not cached; the next call retries the source
	d.Get(context.Background(), "ghost")
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestForgetInvalidatesCache(t *testing.T) {
	src := &countingSource{users: map[string]*domain.User{
		"alice": {ID: "alice", DisplayName: "Alice"},
	}}
	d := NewDirectory(src, nil, "test", logger.Nop())

	d.Get(context.Background(), "alice")
	d.Forget("alice")
	src.users["alice"].DisplayName = "Alice R."

	assert.Equal(t, "Alice R.", d.DisplayName(context.Background(), "alice"))
	assert.Equal(t, int32(2), src.calls.Load())
}
