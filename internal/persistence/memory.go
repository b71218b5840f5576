package persistence

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process memory. Used for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]map[string][]byte
	history map[string]map[string][][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]map[string][]byte),
		history: make(map[string]map[string][][]byte),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string][]byte)
	}
	s.docs[collection][id] = append([]byte(nil), doc...)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.history[collection] == nil {
		s.history[collection] = make(map[string][][]byte)
	}
	s.history[collection][id] = append(s.history[collection][id], append([]byte(nil), doc...))
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

// History returns the appended documents for id, oldest first.
func (s *MemoryStore) History(collection, id string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]byte(nil), s.history[collection][id]...)
}
