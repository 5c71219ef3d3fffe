package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"idle-cache/internal/access"
	"idle-cache/internal/metrics"
)

var (
	ErrEmptyKey = errors.New("store: empty key")
	ErrNotFound = errors.New("store: key not found")
	// ErrNoCapacity is returned when the store is full and no entry has been
	// idle long enough to be evicted.
	ErrNoCapacity = errors.New("store: no capacity")
)

// Options bounds the store.
type Options struct {
	// Capacity is the maximum number of keys; 0 means unbounded.
	Capacity int
	// MaxIdle is how long an entry must go unused before it may be evicted
	// to make room, or removed by RemoveIdle. 0 makes every entry not
	// currently in use evictable (plain LRU).
	MaxIdle time.Duration
}

// Store is a concurrency-safe in-memory key-value store that tracks when
// each key was last used.
//
// Design principles:
// - The map is guarded by an RWMutex; each entry has its own mutex held for
// the duration of an access, so at most one access guard exists per entry.
// - Every read or write through Get, Set and Update is an access: the
// entry's last-access time is set when the access ends.
// - Uses Last-Write-Wins (LWW) via entry versions.
// - Time comes from the injected access.Now, never from a global clock.
type Store struct {
	mu      sync.RWMutex
	data    map[string]*slot
	now     access.Now
	metrics *metrics.Registry
	opts    Options
}

// New initializes and returns a new Store. now must not be nil.
func New(now access.Now, metricsRegistry *metrics.Registry, opts Options) *Store {
	return &Store{
		data:    make(map[string]*slot),
		now:     now,
		metrics: metricsRegistry,
		opts:    opts,
	}
}

func (s *Store) lookup(key string) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.data[key]
	return sl, ok
}

// Set inserts or updates a key using Last-Write-Wins semantics.
//
// Rules:
// - If the key does not exist, insert it stamped with the current time,
// evicting the idlest entry first if the store is full.
// - If the key exists, overwrite only if the incoming version is newer or the
// stored entry has expired. Either way the write counts as an access.
func (s *Store) Set(key string, entry Entry) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.metrics.Inc(metrics.CacheSetsTotal)

	for {
		if sl, ok := s.lookup(key); ok {
			applied, err := sl.use(s.now, func(a *access.Access[Entry]) error {
				cur := a.Get()
				if entry.Version > cur.Version || cur.IsExpired(s.now.Now()) {
					a.Set(entry)
				}
				return nil
			})
			if applied {
				return err
			}
			// removed while we waited for it; try again
			continue
		}

		inserted, err := s.insert(key, entry)
		if err != nil || inserted {
			return err
		}
	}
}

// insert adds key unless someone else got there first, in which case it
// reports false so Set can update the existing entry instead.
func (s *Store) insert(key string, entry Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return false, nil
	}

	if s.opts.Capacity > 0 && len(s.data) >= s.opts.Capacity {
		if !s.evictIdlestLocked() {
			s.metrics.Inc(metrics.CacheCapacityRejectionsTotal)
			return false, ErrNoCapacity
		}
	}

	s.data[key] = newSlot(entry, s.now.Now())
	s.metrics.Inc(metrics.CacheKeysTotal)
	return true, nil
}

// evictIdlestLocked removes the entry that has gone unused the longest, if
// it has been idle for at least MaxIdle. Entries in use are never evicted.
// s.mu must be held for writing.
func (s *Store) evictIdlestLocked() bool {
	now := s.now.Now()

	var (
		victimKey  string
		victim     *slot
		victimSeen time.Time
	)

	for k, sl := range s.data {
		if !sl.mu.TryLock() {
			continue
		}
		last := sl.node.LastAccess()
		sl.mu.Unlock()

		if now.Sub(last) < s.opts.MaxIdle {
			continue
		}
		if victim == nil || last.Before(victimSeen) {
			victimKey, victim, victimSeen = k, sl, last
		}
	}

	if victim == nil {
		return false
	}

	s.removeLocked(victimKey, victim)
	s.metrics.Inc(metrics.CacheIdleEvictedTotal)
	return true
}

// removeLocked drops sl from the map. s.mu must be held for writing.
func (s *Store) removeLocked(key string, sl *slot) {
	delete(s.data, key)
	sl.removed.Store(true)
	s.metrics.Add(metrics.CacheKeysTotal, -1)
}

// removeIfSame deletes key only if it still maps to sl.
func (s *Store) removeIfSame(key string, sl *slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[key]; ok && cur == sl {
		s.removeLocked(key, sl)
		return true
	}
	return false
}

// Get retrieves a value from the store along with how long the key had been
// idle before this access.
//
// Behavior:
// - Returns ErrNotFound if the key does not exist.
// - If the key is expired, it is deleted and treated as missing.
func (s *Store) Get(key string) (Entry, time.Duration, error) {
	s.metrics.Inc(metrics.CacheGetsTotal)

	sl, ok := s.lookup(key)
	if !ok {
		s.metrics.Inc(metrics.CacheMissesTotal)
		return Entry{}, 0, ErrNotFound
	}

	var (
		out     Entry
		idle    time.Duration
		expired bool
	)
	found, _ := sl.use(s.now, func(a *access.Access[Entry]) error {
		now := s.now.Now()
		cur := a.Get()
		if cur.IsExpired(now) {
			expired = true
			return nil
		}
		out = cur
		idle = now.Sub(a.LastAccess())
		return nil
	})

	if !found {
		s.metrics.Inc(metrics.CacheMissesTotal)
		return Entry{}, 0, ErrNotFound
	}

	if expired {
		if s.removeIfSame(key, sl) {
			s.metrics.Inc(metrics.CacheExpiredTotal)
		}
		s.metrics.Inc(metrics.CacheMissesTotal)
		return Entry{}, 0, ErrNotFound
	}

	s.metrics.Inc(metrics.CacheHitsTotal)
	return out, idle, nil
}

// Update runs fn with exclusive, in-place access to the entry stored under
// key. The access is recorded however fn exits; fn's error is returned as is.
func (s *Store) Update(key string, fn func(*Entry) error) error {
	sl, ok := s.lookup(key)
	if !ok {
		return ErrNotFound
	}

	var expired bool
	found, err := sl.use(s.now, func(a *access.Access[Entry]) error {
		if a.Get().IsExpired(s.now.Now()) {
			expired = true
			return nil
		}
		return fn(a.Ptr())
	})

	switch {
	case !found:
		return ErrNotFound
	case expired:
		if s.removeIfSame(key, sl) {
			s.metrics.Inc(metrics.CacheExpiredTotal)
		}
		return ErrNotFound
	}
	return err
}

// Delete removes a key from the store. It reports whether the key existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.data[key]
	if !ok {
		return false
	}
	s.removeLocked(key, sl)
	return true
}

// Len returns the number of stored keys, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// List returns a snapshot of all non-expired entries sorted by key.
// Listing is not an access and does not move any last-access time.
func (s *Store) List() []Item {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	slots := make([]*slot, 0, len(s.data))
	for k, sl := range s.data {
		keys = append(keys, k)
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	now := s.now.Now()
	out := make([]Item, 0, len(keys))
	for i, sl := range slots {
		e, last, ok := sl.peek()
		if !ok || e.IsExpired(now) {
			continue
		}
		out = append(out, Item{Key: keys[i], Entry: e, LastAccess: last})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RemoveExpired removes all expired keys from the store.
// Keys currently in use are left for a later pass.
func (s *Store) RemoveExpired() int {
	now := s.now.Now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sl := range s.data {
		if !sl.mu.TryLock() {
			continue
		}
		expired := sl.node.Value().IsExpired(now)
		sl.mu.Unlock()

		if expired {
			s.removeLocked(k, sl)
			removed++
		}
	}

	if removed > 0 {
		s.metrics.Add(metrics.CacheExpiredTotal, int64(removed))
	}
	return removed
}

// RemoveIdle removes every key whose last completed access is at least
// maxIdle ago. Keys currently in use are not idle. A non-positive maxIdle
// removes nothing.
func (s *Store) RemoveIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	now := s.now.Now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sl := range s.data {
		if !sl.mu.TryLock() {
			continue
		}
		last := sl.node.LastAccess()
		sl.mu.Unlock()

		if now.Sub(last) >= maxIdle {
			s.removeLocked(k, sl)
			removed++
		}
	}

	if removed > 0 {
		s.metrics.Add(metrics.CacheIdleEvictedTotal, int64(removed))
	}
	return removed
}

// MaxIdle returns the configured idle limit.
func (s *Store) MaxIdle() time.Duration {
	return s.opts.MaxIdle
}
