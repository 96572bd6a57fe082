package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 10000

	cleanupTick = time.Minute
)

type memEntry struct {
	id       string
	entry    Entry
	listElem *list.Element
}

// MemoryStore is an in-process Store with TTL expiry and LRU eviction.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	lru      *list.List
	ttl      time.Duration
	capacity int
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a store and starts its cleanup goroutine; call
// Close to stop it.
func NewMemoryStore(ttl time.Duration, capacity int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &MemoryStore{
		entries:  make(map[string]*memEntry),
		lru:      list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the cleanup goroutine and waits for it.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.cleanupExpiredLocked(s.now())
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Get returns the entry for conversationID.
func (s *MemoryStore) Get(_ context.Context, conversationID string) (Entry, error) {
	if conversationID == "" {
		return Entry{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(conversationID)
	if !ok {
		return Entry{}, ErrNotFound
	}
	s.lru.MoveToFront(e.listElem)
	return e.entry, nil
}

// Update applies fn under the store lock.
func (s *MemoryStore) Update(_ context.Context, conversationID string, fn func(*Entry)) (Entry, error) {
	if conversationID == "" {
		return Entry{}, ErrNotFound
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(conversationID)
	next := Entry{}
	if ok {
		next = e.entry
	}
	fn(&next)
	if next.Empty() {
		if ok {
			s.removeLocked(e)
		}
		return next, nil
	}
	next.UpdatedAt = now
	if !ok {
		e = &memEntry{id: conversationID}
		e.listElem = s.lru.PushFront(e)
		s.entries[conversationID] = e
	} else {
		s.lru.MoveToFront(e.listElem)
	}
	e.entry = next
	s.evictIfNeededLocked()
	return next, nil
}

// Delete removes the conversation. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[conversationID]; ok {
		s.removeLocked(e)
	}
	return nil
}

// Len returns the number of unexpired conversations.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked(s.now())
	return len(s.entries), nil
}

// liveLocked returns the entry, dropping it when expired.
func (s *MemoryStore) liveLocked(id string) (*memEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.entry.UpdatedAt) > s.ttl {
		s.removeLocked(e)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) removeLocked(e *memEntry) {
	if e.listElem != nil {
		s.lru.Remove(e.listElem)
		e.listElem = nil
	}
	delete(s.entries, e.id)
}

func (s *MemoryStore) cleanupExpiredLocked(now time.Time) {
	for _, e := range s.entries {
		if now.Sub(e.entry.UpdatedAt) > s.ttl {
			s.removeLocked(e)
		}
	}
}

func (s *MemoryStore) evictIfNeededLocked() {
	for len(s.entries) > s.capacity {
		back := s.lru.Back()
		if back == nil {
			return
		}
		s.removeLocked(back.Value.(*memEntry))
	}
}
