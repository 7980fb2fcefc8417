// Package retrier repeats idempotent calls (RPC reads, notification sends)
// with jittered exponential backoff. Transactions are never retried here:
// a resent swap is a second swap.
package retrier

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
)

// Policy bounds how often and how slowly a call is repeated.
type Policy struct {
	// Attempts is the total number of calls, the first one included.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64
	// AttemptTimeout bounds a single call. Zero leaves only the caller's deadline.
	AttemptTimeout time.Duration
}

var (
	// ChainReads suits eth_call and balance lookups against a public RPC.
	ChainReads = Policy{Attempts: 4, Base: 250 * time.Millisecond, Cap: 4 * time.Second, Jitter: 0.2, AttemptTimeout: 10 * time.Second}
	// Notifications suits chat APIs that rate limit per minute.
	Notifications = Policy{Attempts: 3, Base: time.Second, Cap: 10 * time.Second, Jitter: 0.1}
)

// Retrier applies a Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error, wait time.Duration)
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithRetryIf limits retries to errors accepted by fn. Other errors are returned at once.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// OnRetry is called before each wait.
func OnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New returns a Retrier for p. Attempts below 1 are raised to 1.
func New(p Policy, opts ...Option) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}

	r := &Retrier{policy: p, retryIf: Retryable}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Retryable reports whether err may go away on its own. Cancellation and
// deadline errors never do.
func Retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = r.once(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.retryIf(err) {
			return err
		}
		if attempt == r.policy.Attempts {
			break
		}

		wait := r.backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.Wrapf(err, "gave up after %d attempts", r.policy.Attempts)
}

func (r *Retrier) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	err := fn(attemptCtx)
	// a per-call timeout is a slow node, not a caller deadline
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Wrap(errSlowAttempt, err.Error())
	}

	return err
}

var errSlowAttempt = errors.New("attempt timed out")

// backoff returns the wait after the given failed attempt (1-based).
func (r *Retrier) backoff(attempt int) time.Duration {
	wait := r.policy.Base
	for i := 1; i < attempt && wait < r.policy.Cap; i++ {
		wait *= 2
	}
	if wait > r.policy.Cap {
		wait = r.policy.Cap
	}

	if r.policy.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * r.policy.Jitter * float64(wait)
		wait += time.Duration(spread)
	}
	if wait < 0 {
		wait = 0
	}

	return wait
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})

	return result, err
}
