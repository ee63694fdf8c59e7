package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by callers that do
// not need persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	model   string
	dim     int
	entries []Entry
}

func NewMemory() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Meta(ctx context.Context) (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Meta{Model: s.model, Dim: s.dim, Documents: len(s.entries)}, nil
}

func (s *MemoryStore) Sources(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		out[e.Doc.SourceID] = struct{}{}
	}
	return out, nil
}

func (s *MemoryStore) Add(ctx context.Context, model string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := len(entries[0].Vector)
	if s.dim == 0 {
		s.model, s.dim = model, dim
	} else if s.model != model || s.dim != dim {
		return fmt.Errorf("store built with model %s (dim %d), got model %s (dim %d)", s.model, s.dim, model, dim)
	}
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("vector dimension mismatch: %d != %d", len(e.Vector), dim)
		}
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	results := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		if len(e.Vector) != len(query) {
			continue
		}
		results = append(results, Result{Doc: e.Doc, Score: cosine(query, e.Vector)})
	}
	return topK(results, k), nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model, s.dim, s.entries = "", 0, nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
