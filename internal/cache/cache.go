// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/realmgate/internal/metrics"
)

// Stats tracks memo performance.
type Stats struct {
	Hits      int64
	Misses    int64
	Calls     int64
	TotalKeys int
}

// Memo caches successful results of a function per key for a fixed TTL.
// Safe for concurrent use.
type Memo[V any] struct {
	name  string
	lru   *expirable.LRU[string, V]
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	calls  atomic.Int64
}

// NewMemo creates a memo holding at most size entries (0 = unbounded) for ttl.
func NewMemo[V any](name string, size int, ttl time.Duration) *Memo[V] {
	return &Memo[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Do returns the cached value for key or runs fn once for all concurrent
// callers of key. Only successful results are stored. fn runs detached from
// the caller's cancellation so one canceled caller cannot fail the others.
func (m *Memo[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := m.lru.Get(key); ok {
		m.recordLookup(true)
		return v, nil
	}
	m.recordLookup(false)

	shared := context.WithoutCancel(ctx)
	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.lru.Peek(key); ok {
			return v, nil
		}
		m.calls.Add(1)
		v, err := fn(shared)
		if err != nil {
			return v, err
		}
		m.lru.Add(key, v)
		metrics.CacheEntries.WithLabelValues(m.name).Set(float64(m.lru.Len()))
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// Get returns a cached value without calling anything.
func (m *Memo[V]) Get(key string) (V, bool) {
	return m.lru.Get(key)
}

// Remove drops key.
func (m *Memo[V]) Remove(key string) {
	m.lru.Remove(key)
}

// Purge drops every entry.
func (m *Memo[V]) Purge() {
	m.lru.Purge()
	metrics.CacheEntries.WithLabelValues(m.name).Set(0)
}

// Len returns the number of live entries.
func (m *Memo[V]) Len() int {
	return m.lru.Len()
}

// GetStats returns a snapshot of memo statistics.
func (m *Memo[V]) GetStats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Calls:     m.calls.Load(),
		TotalKeys: m.lru.Len(),
	}
}

// HitRate returns the hit rate as a percentage.
func (m *Memo[V]) HitRate() float64 {
	s := m.GetStats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

func (m *Memo[V]) recordLookup(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	metrics.RecordCacheLookup(m.name, hit)
}

// GenerateKey hashes parts into a compact key. Parts are length-prefixed so
// ("ab", "c") and ("a", "bc") never collide.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
