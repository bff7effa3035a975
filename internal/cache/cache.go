// Package cache implements the three-tier read-through cache.
//
// L1 is in-process memory, L2 is Redis and L3 is a local SQLite file. Each tier
// has a TTL ceiling and the ceilings must nest (L1 <= L2 <= L3). Reads go
// L1 -> L2 -> L3 and a hit is promoted into every faster tier that missed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/logger"
	"github.com/guttosm/coinpulse/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Tier is one cache layer.
type Tier interface {
	Name() string
	// Ceiling is the longest TTL the tier will hold an entry for.
	Ceiling() time.Duration
	// Get returns the value and its remaining TTL. A miss is (nil, 0, false, nil).
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "cp:"

// Key derives the opaque cache key for an operation and its ordered parameters.
func Key(op string, params ...string) string {
	h := sha256.Sum256([]byte(op + "\x1f" + strings.Join(params, "\x1f")))
	return keyPrefix + hex.EncodeToString(h[:])
}

// MultiTier composes tiers fastest first.
type MultiTier struct {
	tiers   []Tier
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option customizes a MultiTier.
type Option func(*MultiTier)

// WithMetrics counts hits, misses and backend errors per tier.
func WithMetrics(m *metrics.Metrics) Option { return func(c *MultiTier) { c.metrics = m } }

// NewMultiTier validates that tier ceilings nest and builds the cache.
// Nil tiers are skipped so an optional backend can be left out.
func NewMultiTier(tiers []Tier, opts ...Option) (*MultiTier, error) {
	c := &MultiTier{log: logger.With("cache")}
	for _, t := range tiers {
		if t == nil {
			continue
		}
		if n := len(c.tiers); n > 0 && t.Ceiling() < c.tiers[n-1].Ceiling() {
			return nil, fmt.Errorf("cache tier %s ceiling %s is below %s ceiling %s",
				t.Name(), t.Ceiling(), c.tiers[n-1].Name(), c.tiers[n-1].Ceiling())
		}
		c.tiers = append(c.tiers, t)
	}
	if len(c.tiers) == 0 {
		return nil, errors.New("cache needs at least one tier")
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Tiers returns the configured tier names, fastest first.
func (c *MultiTier) Tiers() []string {
	out := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		out[i] = t.Name()
	}
	return out
}

// Get reads through the tiers. Backend errors count as a miss on that tier.
func (c *MultiTier) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, t := range c.tiers {
		val, remaining, ok, err := t.Get(ctx, key)
		if err != nil {
			c.report(t.Name(), "get", err)
			continue
		}
		c.metrics.CacheLookup(t.Name(), ok)
		if !ok {
			continue
		}
		for _, faster := range c.tiers[:i] {
			ttl := min(remaining, faster.Ceiling())
			if ttl <= 0 {
				continue
			}
			if err := faster.Set(ctx, key, val, ttl); err != nil {
				c.report(faster.Name(), "promote", err)
			}
		}
		return val, true
	}
	return nil, false
}

// Set writes value to every tier concurrently, each TTL clamped to the tier ceiling.
func (c *MultiTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	var g errgroup.Group
	for _, t := range c.tiers {
		g.Go(func() error {
			if err := t.Set(ctx, key, value, min(ttl, t.Ceiling())); err != nil {
				c.report(t.Name(), "set", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Delete removes key from every tier.
func (c *MultiTier) Delete(ctx context.Context, key string) {
	for _, t := range c.tiers {
		if err := t.Delete(ctx, key); err != nil {
			c.report(t.Name(), "delete", err)
		}
	}
}

func (c *MultiTier) report(tier, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	be := &errs.CacheBackendError{Tier: tier, Op: op, Err: err}
	c.metrics.CacheBackendError(tier, op)
	c.log.Warn().Err(be).Str("tier", tier).Str("op", op).Msg("cache backend error")
}

// GetJSON reads key and decodes it into T. Undecodable entries are treated as a miss.
func GetJSON[T any](ctx context.Context, c *MultiTier, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		c.Delete(ctx, key)
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c *MultiTier, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}
