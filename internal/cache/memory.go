package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const memoryShards = 16

type memEntry struct {
	value   []byte
	expires time.Time
}

// Memory is the L1 tier: a sharded LRU with per-entry expiry. Each shard
// carries its own lock, so unrelated keys never contend.
type Memory struct {
	shards  [memoryShards]*lru.Cache[string, memEntry]
	ceiling time.Duration
	now     func() time.Time
}

var _ Tier = (*Memory)(nil)

// NewMemory holds up to size entries in total, spread across shards.
func NewMemory(size int, ceiling time.Duration) (*Memory, error) {
	per := max(size/memoryShards, 1)
	m := &Memory{ceiling: ceiling, now: time.Now}
	for i := range m.shards {
		c, err := lru.New[string, memEntry](per)
		if err != nil {
			return nil, fmt.Errorf("create l1 shard: %w", err)
		}
		m.shards[i] = c
	}
	return m, nil
}

func (m *Memory) Name() string           { return "l1" }
func (m *Memory) Ceiling() time.Duration { return m.ceiling }

func (m *Memory) shard(key string) *lru.Cache[string, memEntry] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	s := m.shard(key)
	e, ok := s.Get(key)
	if !ok {
		return nil, 0, false, nil
	}
	remaining := e.expires.Sub(m.now())
	if remaining <= 0 {
		s.Remove(key)
		return nil, 0, false, nil
	}
	return clone(e.value), remaining, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ttl = min(ttl, m.ceiling)
	if ttl <= 0 {
		return nil
	}
	m.shard(key).Add(key, memEntry{value: clone(value), expires: m.now().Add(ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.shard(key).Remove(key)
	return nil
}

// Len reports the number of entries, expired ones included.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		n += s.Len()
	}
	return n
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
