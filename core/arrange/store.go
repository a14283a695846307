package arrange

import "sync"

// Store is a concurrency-safe collection of entities keyed by stable ID.
// Add and Delete are idempotent: re-adding an existing ID and deleting a
// missing ID are no-ops, which makes replayed add/delete events harmless.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewStore returns an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{items: make(map[string]T)}
}

// Add inserts v under id. It returns false without modifying the store when
// the ID already exists.
func (s *Store[T]) Add(id string, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; exists {
		return false
	}
	s.items[id] = v
	return true
}

// Set unconditionally stores v under id, replacing any existing entity.
// Used where last-write-wins replacement is the contract (effect chains,
// recording previews).
func (s *Store[T]) Set(id string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = v
}

// Update applies fn to the entity under id. It returns false when the ID is
// unknown.
func (s *Store[T]) Update(id string, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, exists := s.items[id]
	if !exists {
		return false
	}
	fn(&v)
	s.items[id] = v
	return true
}

// Delete removes the entity under id. It returns false when the ID is
// unknown.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return false
	}
	delete(s.items, id)
	return true
}

// Get returns the entity under id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

// Has reports whether id exists.
func (s *Store[T]) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of stored entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// IDs returns the stored IDs in unspecified order.
func (s *Store[T]) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	return ids
}

// All returns a copy of the stored entities keyed by ID.
func (s *Store[T]) All() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for id, v := range s.items {
		out[id] = v
	}
	return out
}
