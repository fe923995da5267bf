package goal

import (
	"fmt"
	"sync"
	"time"
)

// Policy bounds how long a transitioner may stay Working. Zero values
// disable the corresponding bound.
type Policy struct {
	// Timeout is the elapsed-time ceiling measured from the first Transition call.
	Timeout time.Duration
	// MaxAttempts caps the number of Working results.
	MaxAttempts int
}

// DefaultPolicy is used for goals that do not set one.
var DefaultPolicy = Policy{Timeout: 2 * time.Minute}

// Bounded wraps a transitioner and turns a goal stuck in Working into an
// Error once the policy is exceeded.
type Bounded[S any] struct {
	inner  Transitioner[S]
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	started  time.Time
	attempts int
	err      error
}

// Bound wraps t with policy p. now may be nil, in which case time.Now is used.
func Bound[S any](t Transitioner[S], p Policy, now func() time.Time) *Bounded[S] {
	if now == nil {
		now = time.Now
	}
	return &Bounded[S]{inner: t, policy: p, now: now}
}

// Transition runs the inner transitioner and applies the policy to a Working result.
func (b *Bounded[S]) Transition(observed S) Status {
	b.mu.Lock()
	if b.started.IsZero() {
		b.started = b.now()
	}
	b.mu.Unlock()

	status := b.inner.Transition(observed)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch status {
	case Error:
		b.err = ErrOf(b.inner)
		return Error
	case Done:
		return Done
	}

	b.attempts++
	if b.policy.MaxAttempts > 0 && b.attempts > b.policy.MaxAttempts {
		b.err = fmt.Errorf("%d attempts: %w", b.attempts, ErrTooManyAttempts)
		return Error
	}
	if b.policy.Timeout > 0 {
		if elapsed := b.now().Sub(b.started); elapsed >= b.policy.Timeout {
			b.err = fmt.Errorf("after %s: %w", elapsed.Round(time.Millisecond), ErrGoalTimeout)
			return Error
		}
	}
	return Working
}

// Err returns the reason for the last Error.
func (b *Bounded[S]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Unwrap returns the wrapped transitioner.
func (b *Bounded[S]) Unwrap() Transitioner[S] { return b.inner }
