package mirror

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. Used for local development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID]SubmissionDocument
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[uuid.UUID]SubmissionDocument)}
}

func (s *MemoryStore) Upsert(ctx context.Context, id uuid.UUID, doc SubmissionDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) Get(id uuid.UUID) (SubmissionDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	return doc, ok
}

func (s *MemoryStore) Close() error {
	return nil
}
