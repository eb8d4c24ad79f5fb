package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy bounds the retry loop shared by every client.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the standard bounded policy: 3 attempts, 1s initial
// backoff doubling to a 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// WithAttempts returns a copy of the policy with MaxAttempts overridden when
// attempts is positive.
func (p Policy) WithAttempts(attempts int) Policy {
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

// WithRetry runs fn under the policy, retrying only failures whose kind is
// retryable (rate-limited or transient). A provider-supplied RetryAfter hint
// takes precedence over the computed backoff when it is longer. The returned
// error is the last attempt's error.
//
// This is the single retry loop in the system. Callers above the client
// (batch runner, pipeline) must treat the outcome as final.
func WithRetry(ctx context.Context, providerName, op string, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		kind := KindOf(err)
		if !kind.Retryable() || attempt >= p.MaxAttempts {
			return err
		}

		wait := jitter(backoff)
		if hint := retryAfterHint(err); hint > wait {
			wait = hint
		}

		log.Warn().
			Str("provider", providerName).
			Str("op", op).
			Str("kind", kind.String()).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("wait", wait).
			Err(err).
			Msg("Provider call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

// jitter spreads a backoff over [d/2, 3d/2) so simultaneous batches do not
// hammer a recovering backend in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(d)
}

func retryAfterHint(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
