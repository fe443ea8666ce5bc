// Package retry wraps bounded exponential backoff for store writes.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fathima-sithara/chat-core/internal/apperr"
)

// Policy bounds how hard a write is pushed before giving up.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, InitialInterval: 200 * time.Millisecond, MaxElapsed: 15 * time.Second}
}

// Do runs op with exponential backoff until it succeeds, the attempt
// budget runs out, or ctx is cancelled. Validation, permission and
// not-found errors are permanent and returned immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	bo.MaxElapsedTime = p.MaxElapsed

	wrapped := func() error {
		err := op()
		if err != nil && !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxAttempts), ctx))
}
