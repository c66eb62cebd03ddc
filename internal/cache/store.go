// Package cache implements a TTL response cache: a concurrent key→value
// store with prefix invalidation, plus the chat/embedding cache key
// construction rules, built on go-cache and kept small,
// constructor-injected, with no package-level globals.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is used when a caller doesn't specify one.
const DefaultTTL = 120 * time.Second

// defaultCleanupInterval governs how often go-cache sweeps expired entries;
// it does not affect TryGet's read-time expiry check.
const defaultCleanupInterval = 1 * time.Minute

// Store is the concurrent TTL cache. Safe for concurrent
// TryGet/Set/InvalidateByPrefix/Clear.
type Store struct {
	c *gocache.Cache
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{c: gocache.New(DefaultTTL, defaultCleanupInterval)}
}

// TryGet returns the value stored at key, or (nil, false) on a miss or
// expired entry.
func (s *Store) TryGet(key string) (any, bool) {
	return s.c.Get(key)
}

// Set upserts key with ttl. A ttl of 0 uses the store's DefaultTTL.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.c.Set(key, value, ttl)
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
// go-cache has no native prefix delete, so this enumerates Items()
// (a point-in-time snapshot) and deletes matches individually.
func (s *Store) InvalidateByPrefix(prefix string) {
	for key := range s.c.Items() {
		if strings.HasPrefix(key, prefix) {
			s.c.Delete(key)
		}
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.c.Flush()
}
