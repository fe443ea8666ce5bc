package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-core/internal/apperr"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxElapsed: 100 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return apperr.Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return apperr.Validationf("bad input")
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 1, attempts, "permanent errors must not burn the retry budget")
}

func TestDoExhaustsBudget(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return apperr.Transient(errors.New("still down"))
	})
	assert.ErrorIs(t, err, apperr.ErrTransient)
	assert.Equal(t, 4, attempts, "initial try plus MaxAttempts retries")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Policy{MaxAttempts: 100, InitialInterval: 10 * time.Millisecond, MaxElapsed: time.Minute}.
		Do(ctx, func() error {
			attempts++
			cancel()
			return apperr.Transient(errors.New("down"))
		})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}
