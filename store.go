// store.go: size-bounded TTL cache store with FIFO eviction
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"container/list"
	"reflect"
	"sync"
	"time"
)

// entry is one resident cache value. Entries are kept in a list ordered by
// insertion, oldest at the front, which is also the eviction order.
type entry struct {
	key        string
	value      interface{}  // original value when stored uncompressed
	data       []byte       // framed, compressed payload when compressed
	typ        reflect.Type // dynamic type of the original value
	codec      Codec        // codec used for data; nil when uncompressed
	compressed bool
	createdAt  int64 // nanoseconds
	expiresAt  int64 // createdAt + ttl, nanoseconds
	size       int   // stored payload size in bytes
}

// Store is a size-bounded key/value store with per-entry expiration.
// All methods are safe for concurrent use. Concurrent Set calls on the same
// key resolve last-write-wins.
type Store struct {
	mu      sync.Mutex
	cfg     CacheConfig
	items   map[string]*list.Element
	order   *list.List
	memory  int64
	hits    uint64
	misses  uint64
	evicted uint64
	expired uint64

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// notification is an eviction or expiration callback deferred until the lock is released.
type notification struct {
	fn         func(key string, value interface{})
	entry      *entry
	serializer Serializer
}

// run invokes the callback with the entry's value, decoding compressed
// entries first. An entry that fails to decode is reported with a nil value.
func (n notification) run() {
	if n.fn == nil {
		return
	}
	value := n.entry.value
	if n.entry.compressed {
		value, _ = decodeEntry(n.entry, n.serializer)
	}
	n.fn(n.entry.key, value)
}

// NewStore creates a cache store. Missing fields take defaults (see CacheConfig.Validate).
func NewStore(cfg CacheConfig) *Store {
	_ = cfg.Validate()

	s := &Store{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		order: list.New(),
	}

	if cfg.CleanupInterval > 0 {
		s.stopCleanup = make(chan struct{})
		s.cleanupDone = make(chan struct{})
		go s.cleanupRoutine(cfg.CleanupInterval)
	}

	return s
}

// Get returns the value stored under key. An expired entry is purged and
// reported as a miss; an entry that fails to decode is purged and reported as
// a miss as well, forcing the caller to recompute.
func (s *Store) Get(key string) (interface{}, bool) {
	start := time.Now()

	s.mu.Lock()
	collector := s.cfg.MetricsCollector
	el, ok := s.items[key]
	if !ok {
		s.misses++
		s.mu.Unlock()
		collector.RecordGet(time.Since(start).Nanoseconds(), false)
		return nil, false
	}

	e := el.Value.(*entry)
	if s.cfg.TimeProvider.Now() > e.expiresAt {
		s.removeElement(el)
		s.expired++
		s.misses++
		note := notification{fn: s.cfg.OnExpire, entry: e, serializer: s.cfg.Serializer}
		s.mu.Unlock()

		collector.RecordExpiration()
		collector.RecordGet(time.Since(start).Nanoseconds(), false)
		note.run()
		return nil, false
	}

	s.hits++
	if !e.compressed {
		value := e.value
		s.mu.Unlock()
		collector.RecordGet(time.Since(start).Nanoseconds(), true)
		return value, true
	}
	serializer := s.cfg.Serializer
	logger := s.cfg.Logger
	s.mu.Unlock()

	value, err := decodeEntry(e, serializer)
	if err != nil {
		logger.Warn("cache entry decode failed, treating as miss", "key", key, "error", NewErrDecode(key, err))
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur == el {
			s.removeElement(el)
		}
		if s.hits > 0 {
			s.hits--
		}
		s.misses++
		s.mu.Unlock()
		collector.RecordGet(time.Since(start).Nanoseconds(), false)
		return nil, false
	}

	collector.RecordGet(time.Since(start).Nanoseconds(), true)
	return value, true
}

// Set stores value under key for ttl (the configured TTL when ttl <= 0).
// Re-setting a key counts as a fresh insertion. When the store is full the
// oldest-inserted entries are evicted until the new entry fits.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return NewErrEmptyKey("Set")
	}
	start := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	payload, err := cfg.Serializer.Marshal(value)
	if err != nil {
		return NewErrSerialization(key, err)
	}

	e := &entry{
		key:  key,
		typ:  reflect.TypeOf(value),
		size: len(payload),
	}
	compress := cfg.EnableCompression
	if compress && !roundTrips(cfg.Serializer, payload, value) {
		cfg.Logger.Warn("value does not survive serialization, storing uncompressed", "key", key, "type", e.typ)
		compress = false
	}
	if compress {
		framed, err := compressFrame(cfg.Codec, payload)
		if err != nil {
			return NewErrSerialization(key, err)
		}
		e.data = framed
		e.codec = cfg.Codec
		e.compressed = true
		e.size = len(framed)
	} else {
		e.value = value
	}

	s.mu.Lock()
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	e.createdAt = s.cfg.TimeProvider.Now()
	e.expiresAt = e.createdAt + int64(ttl)

	if old, ok := s.items[key]; ok {
		s.removeElement(old)
	}
	s.items[key] = s.order.PushBack(e)
	s.memory += int64(e.size)
	notes := s.evictLocked(s.cfg.MaxSize)
	collector := s.cfg.MetricsCollector
	s.mu.Unlock()

	s.notify(collector, notes)
	collector.RecordSet(time.Since(start).Nanoseconds())
	return nil
}

// Delete removes key. Returns true if it was resident.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(el)
	return true
}

// Has reports whether key is resident and unexpired without touching hit/miss counters.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	return s.cfg.TimeProvider.Now() <= el.Value.(*entry).expiresAt
}

// Len returns the number of resident entries, expired ones included until purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Keys returns resident keys in insertion order, oldest first.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Clear removes all entries and resets statistics.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.memory = 0
	s.hits = 0
	s.misses = 0
	s.evicted = 0
	s.expired = 0
}

// Stats returns a snapshot of the store statistics.
func (s *Store) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := CacheStats{
		Size:        s.order.Len(),
		Capacity:    s.cfg.MaxSize,
		MemoryUsage: s.memory,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evicted,
		Expirations: s.expired,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// Config returns the current configuration.
func (s *Store) Config() CacheConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reconfigure replaces the runtime-tunable settings. A smaller MaxSize evicts
// immediately; a new TTL or compression setting only applies to entries
// stored afterwards. CleanupInterval cannot be changed after creation.
func (s *Store) Reconfigure(cfg CacheConfig) error {
	if err := checkCacheConfig(cfg); err != nil {
		return err
	}
	_ = cfg.Validate()

	s.mu.Lock()
	cfg.CleanupInterval = s.cfg.CleanupInterval
	shrink := cfg.MaxSize < s.cfg.MaxSize
	s.cfg = cfg
	var notes []notification
	if shrink {
		notes = s.evictLocked(cfg.MaxSize)
	}
	collector := s.cfg.MetricsCollector
	logger := s.cfg.Logger
	s.mu.Unlock()

	if len(notes) > 0 {
		logger.Info("cache shrunk", "max_size", cfg.MaxSize, "evicted", len(notes))
	}
	s.notify(collector, notes)
	return nil
}

// Resize changes MaxSize, evicting the oldest entries if the store shrinks.
func (s *Store) Resize(maxSize int) error {
	cfg := s.Config()
	cfg.MaxSize = maxSize
	return s.Reconfigure(cfg)
}

// Purge removes every expired entry and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	now := s.cfg.TimeProvider.Now()
	onExpire := s.cfg.OnExpire
	serializer := s.cfg.Serializer
	collector := s.cfg.MetricsCollector

	var notes []notification
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now > e.expiresAt {
			s.removeElement(el)
			s.expired++
			notes = append(notes, notification{fn: onExpire, entry: e, serializer: serializer})
		}
		el = next
	}
	s.mu.Unlock()

	for _, n := range notes {
		collector.RecordExpiration()
		n.run()
	}
	return len(notes)
}

// Close stops the background cleanup and releases all entries.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.stopCleanup != nil {
			close(s.stopCleanup)
			<-s.cleanupDone
		}
		s.Clear()
	})
	return nil
}

// cleanupRoutine purges expired entries until Close.
func (s *Store) cleanupRoutine(interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if n := s.Purge(); n > 0 {
				s.Config().Logger.Debug("purged expired entries", "count", n)
			}
		}
	}
}

// evictLocked drops oldest-inserted entries until at most max remain.
// Caller must hold s.mu.
func (s *Store) evictLocked(max int) []notification {
	var notes []notification
	for s.order.Len() > max {
		el := s.order.Front()
		e := el.Value.(*entry)
		s.removeElement(el)
		s.evicted++
		notes = append(notes, notification{fn: s.cfg.OnEvict, entry: e, serializer: s.cfg.Serializer})
	}
	return notes
}

// removeElement unlinks an entry and releases its accounted memory.
// Caller must hold s.mu.
func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	s.order.Remove(el)
	delete(s.items, e.key)
	s.memory -= int64(e.size)
}

func (s *Store) notify(collector MetricsCollector, notes []notification) {
	for _, n := range notes {
		collector.RecordEviction()
		n.run()
	}
}

// roundTrips reports whether payload decodes back into a value deeply equal
// to v. Numbers held in interface{} containers and unexported struct fields
// do not survive JSON, for example.
func roundTrips(serializer Serializer, payload []byte, v interface{}) bool {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return true
	}
	ptr := reflect.New(typ)
	if err := serializer.Unmarshal(payload, ptr.Interface()); err != nil {
		return false
	}
	return reflect.DeepEqual(ptr.Elem().Interface(), v)
}

// decodeEntry decompresses a stored payload and decodes it back into a value
// of the original dynamic type.
func decodeEntry(e *entry, serializer Serializer) (interface{}, error) {
	payload, err := decompressFrame(e.codec, e.data)
	if err != nil {
		return nil, err
	}
	if e.typ == nil {
		return nil, nil
	}

	ptr := reflect.New(e.typ)
	if err := serializer.Unmarshal(payload, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

var _ Cache = (*Store)(nil)
