package rag

import (
	"context"
	"sync"

	"policyrag/internal/models"
	"policyrag/internal/vectorindex"
)

// Store persists embedded chunks per namespace. Upsert overwrites by chunk id.
type Store interface {
	Upsert(ctx context.Context, namespace string, items []models.ChunkEmbedding) error
	Search(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]models.SearchHit, error)
	DropNamespace(ctx context.Context, namespace string) error
}

// MemoryStore keeps a vectorindex.Index per namespace. Nothing survives the
// process.
type MemoryStore struct {
	mu     sync.RWMutex
	metric vectorindex.Metric
	spaces map[string]*memorySpace
}

type memorySpace struct {
	index  *vectorindex.Index
	chunks map[string]models.Chunk
}

func NewMemoryStore(metric vectorindex.Metric) *MemoryStore {
	return &MemoryStore{metric: metric, spaces: make(map[string]*memorySpace)}
}

func (s *MemoryStore) Upsert(ctx context.Context, namespace string, items []models.ChunkEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[namespace]
	if !ok {
		sp = &memorySpace{index: vectorindex.New(nil), chunks: make(map[string]models.Chunk)}
		s.spaces[namespace] = sp
	}
	keys := make([]string, len(items))
	vecs := make([][]float32, len(items))
	for i, it := range items {
		keys[i], vecs[i] = it.ChunkID, it.Embedding
	}
	if err := sp.index.InsertAll(keys, vecs); err != nil {
		return err
	}
	for _, it := range items {
		sp.chunks[it.ChunkID] = it.Chunk
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]models.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[namespace]
	if !ok {
		return nil, nil
	}
	results, err := sp.index.Search(query, k, s.metric)
	if err != nil {
		return nil, err
	}
	results = vectorindex.FilterRelevant(results, s.metric, threshold)
	hits := make([]models.SearchHit, len(results))
	for i, r := range results {
		hits[i] = models.SearchHit{Chunk: sp.chunks[r.Key], Score: r.Score}
	}
	return hits, nil
}

func (s *MemoryStore) DropNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spaces, namespace)
	return nil
}
