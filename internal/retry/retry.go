// Package retry runs fallible operations under a bounded, classified backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/config"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/metrics"
)

// Backoff selects the delay growth between attempts.
type Backoff int

const (
	Fixed Backoff = iota
	Linear
	Exponential
)

// ParseBackoff maps "fixed", "linear" or "exponential" to a Backoff.
func ParseBackoff(s string) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return Fixed, nil
	case "linear":
		return Linear, nil
	case "exponential", "exp":
		return Exponential, nil
	}
	return Fixed, fmt.Errorf("unknown backoff %q", s)
}

// ClassPolicy is the retry budget for one error class.
type ClassPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	BaseDelay   time.Duration
	Jitter      time.Duration // upper bound of uniform random jitter; 0 disables
}

// Delay returns the wait before attempt i (1-indexed, i > 1), without jitter.
func (c ClassPolicy) Delay(i int) time.Duration {
	if i <= 1 {
		return 0
	}
	switch c.Backoff {
	case Linear:
		return c.BaseDelay * time.Duration(i-1)
	case Exponential:
		return c.BaseDelay * time.Duration(int64(1)<<(i-2))
	default:
		return c.BaseDelay
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is a RetryPolicyConfig bound to its sleeper and metrics.
// It is safe for concurrent use; no state is shared between runs.
type Policy struct {
	classes map[errs.Class]ClassPolicy
	sleep   Sleeper
	jitter  func(max time.Duration) time.Duration
	metrics *metrics.Metrics
}

// Option customizes a Policy.
type Option func(*Policy)

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(s Sleeper) Option { return func(p *Policy) { p.sleep = s } }

// WithMetrics records retried attempts.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Policy) { p.metrics = m } }

// WithJitterSource overrides the random jitter source.
func WithJitterSource(f func(max time.Duration) time.Duration) Option {
	return func(p *Policy) { p.jitter = f }
}

// New builds a Policy. Classes not present in classes get a single attempt.
// Validation is always forced to a single attempt.
func New(classes map[errs.Class]ClassPolicy, opts ...Option) *Policy {
	p := &Policy{
		classes: make(map[errs.Class]ClassPolicy, len(classes)),
		sleep:   sleepCtx,
		jitter:  randomJitter,
	}
	for k, v := range classes {
		if v.MaxAttempts < 1 {
			v.MaxAttempts = 1
		}
		p.classes[k] = v
	}
	p.classes[errs.ClassValidation] = ClassPolicy{MaxAttempts: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FromConfig builds a Policy from the retry section of the app config.
func FromConfig(cfg config.RetryConfig, opts ...Option) (*Policy, error) {
	classes := map[errs.Class]ClassPolicy{}
	for class, c := range map[errs.Class]config.RetryClassConfig{
		errs.ClassNetwork:   cfg.Network,
		errs.ClassRateLimit: cfg.RateLimit,
		errs.ClassServer:    cfg.Server,
	} {
		b, err := ParseBackoff(c.Backoff)
		if err != nil {
			return nil, fmt.Errorf("retry %s: %w", class, err)
		}
		classes[class] = ClassPolicy{MaxAttempts: c.MaxAttempts, Backoff: b, BaseDelay: c.BaseDelay, Jitter: c.Jitter}
	}
	return New(classes, opts...), nil
}

// Class returns the policy for c.
func (p *Policy) Class(c errs.Class) ClassPolicy {
	if cp, ok := p.classes[c]; ok {
		return cp
	}
	return ClassPolicy{MaxAttempts: 1}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the attempt
// budget of the latest error's class is spent.
//
// Behavior:
//   - Validation errors are returned unchanged after the first attempt.
//   - Exhaustion returns *errs.RetryExhaustedError wrapping the last error.
//   - Context cancellation during a wait returns the context error joined with the last error.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("%w (last error: %v)", err, last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}

		class := errs.ClassOf(last)
		if class == errs.ClassValidation {
			return last
		}
		cp := p.Class(class)
		if attempt >= cp.MaxAttempts {
			return &errs.RetryExhaustedError{Attempts: attempt, Class: class, Last: last}
		}

		delay := cp.Delay(attempt + 1)
		if cp.Jitter > 0 {
			delay += p.jitter(cp.Jitter)
		}
		p.metrics.Retry(string(class))
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, last)
		}
	}
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
