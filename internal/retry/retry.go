// Package retry runs store calls under a per-attempt timeout with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/store"
)

// Policy bounds how a store call is retried.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Timeout applies to each attempt; zero disables it.
	Timeout time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Initial:  50 * time.Millisecond,
		Max:      500 * time.Millisecond,
		Timeout:  2 * time.Second,
	}
}

// ErrExhausted wraps the last error once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Do calls fn until it succeeds, returns a permanent error, or attempts run out.
// A policy without attempts falls back to DefaultPolicy.
// Errors that are permanent are returned unwrapped. Exhaustion returns ErrExhausted joined
// with the last error.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Attempts < 1 {
		d := DefaultPolicy()
		d.Permanent = p.Permanent
		p = d
	}
	attempts := p.Attempts
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}

	permanent := false
	res, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || (p.Permanent != nil && p.Permanent(err)) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("store call failed, retrying", zap.String("op", op), zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	if err != nil && !permanent && ctx.Err() == nil {
		logger.Error("store call exhausted retries", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
		return res, errors.Join(ErrExhausted, err)
	}
	return res, err
}

// Store runs a store call under p. Store domain errors are permanent, and exhaustion
// surfaces as apperr.ErrStoreUnavailable.
func Store[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.Permanent == nil {
		p.Permanent = store.IsDomain
	}
	v, err := Do(ctx, p, logger, op, fn)
	if errors.Is(err, ErrExhausted) {
		u := apperr.ErrStoreUnavailable
		return v, apperr.Wrap(u.Kind, u.Code, u.Message, err)
	}
	return v, err
}
