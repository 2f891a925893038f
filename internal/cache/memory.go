package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps stores in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*MemoryStore
	order  []string
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*MemoryStore)}
}

// Open returns the named store, creating it if absent.
func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[name]; ok {
		return st, nil
	}
	st := newMemoryStore(name)
	s.stores[name] = st
	s.order = append(s.order, name)
	return st, nil
}

// Has reports whether the named store exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

// Delete removes the named store. Handles already opened keep working but
// are detached from the storage.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Names lists stores in creation order.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error { return nil }

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	name string

	mu      sync.RWMutex
	seq     uint64
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	req  Request
	resp *Response
	seq  uint64
}

func newMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, entries: make(map[string]*memoryEntry)}
}

// Name returns the store name.
func (s *MemoryStore) Name() string { return s.name }

// Match returns a copy of the cached response, or nil on a miss.
func (s *MemoryStore) Match(_ context.Context, req Request) (*Response, error) {
	s.mu.RLock()
	e, ok := s.entries[req.Key()]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return e.resp.Clone(), nil
}

// Put stores a copy of resp, moving the key to the newest position.
func (s *MemoryStore) Put(_ context.Context, req Request, resp *Response) error {
	stored := Request{Method: req.Method, URL: req.URL, Mode: req.Mode}

	s.mu.Lock()
	s.seq++
	s.entries[req.Key()] = &memoryEntry{req: stored, resp: resp.Clone(), seq: s.seq}
	s.mu.Unlock()
	return nil
}

// Delete removes req's key.
func (s *MemoryStore) Delete(_ context.Context, req Request) (bool, error) {
	key := req.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Keys returns requests in insertion order.
func (s *MemoryStore) Keys(_ context.Context) ([]Request, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	keys := make([]Request, len(entries))
	for i, e := range entries {
		keys[i] = e.req
	}
	return keys, nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Store   = (*MemoryStore)(nil)
)
