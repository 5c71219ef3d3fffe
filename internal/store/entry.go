package store

import (
	"sync"
	"sync/atomic"
	"time"

	"idle-cache/internal/access"
)

// Entry represents a single value stored in the cache.
//
// - Version is used for Last-Write-Wins (LWW): a write carrying a version
// not newer than the stored one is ignored.
// - ExpiresAt enables TTL-based expiration; zero means "no expiration".
type Entry struct {
	Value     string
	Version   int64
	ExpiresAt time.Time
}

// IsExpired checks whether the entry is expired at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}

// Item is a point-in-time view of a stored key.
type Item struct {
	Key        string
	Entry      Entry
	LastAccess time.Time
}

// slot owns one access-tracked entry. mu is held for the whole lifetime of
// an access guard on node, which is what keeps guards exclusive.
type slot struct {
	mu      sync.Mutex
	node    *access.Node[Entry]
	removed atomic.Bool
}

func newSlot(e Entry, now time.Time) *slot {
	return &slot{node: access.NewNode(e, now)}
}

// use runs fn inside an access window on the slot. It reports false without
// calling fn if the slot was removed from the store in the meantime.
func (s *slot) use(now access.Now, fn func(*access.Access[Entry]) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed.Load() {
		return false, nil
	}
	return true, s.node.With(now, fn)
}

// peek reads the entry and its last access time without recording an access.
func (s *slot) peek() (Entry, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed.Load() {
		return Entry{}, time.Time{}, false
	}
	return s.node.Value(), s.node.LastAccess(), true
}
