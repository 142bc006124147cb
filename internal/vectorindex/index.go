package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVector       = errors.New("empty vector")
	ErrNoEmbedder        = errors.New("index has no embedder")
	ErrUnknownMetric     = errors.New("unknown metric")
)

// Embedder is the part of the embedding batcher the index needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is one ranked search hit.
type Result struct {
	Key   string
	Score float64
}

type Option func(*Index)

func WithLogger(l zerolog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Index is an in-memory key to vector store with brute-force top-k search.
// It is meant to be filled by one producer and then searched concurrently.
// Keys keep their first insertion position, which makes iteration order and
// therefore tie-breaking deterministic.
type Index struct {
	mu       sync.RWMutex
	keys     []string
	vectors  [][]float32
	pos      map[string]int
	dim      int
	embedder Embedder
	logger   zerolog.Logger
}

// New creates an empty index. embedder may be nil when only vector
// operations are used.
func New(embedder Embedder, opts ...Option) *Index {
	ix := &Index{
		pos:      make(map[string]int),
		embedder: embedder,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Insert stores vec under key, replacing any previous vector. The first
// insert fixes the index dimension.
func (ix *Index) Insert(key string, vec []float32) error {
	return ix.InsertAll([]string{key}, [][]float32{vec})
}

// InsertAll stores every key/vector pair or none of them. All vectors are
// checked against the index dimension, or against the first vector when the
// index is empty, before anything is written.
func (ix *Index) InsertAll(keys []string, vecs [][]float32) error {
	if len(keys) != len(vecs) {
		return fmt.Errorf("insert: %d keys for %d vectors", len(keys), len(vecs))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	for i, vec := range vecs {
		if len(vec) == 0 {
			return fmt.Errorf("insert %q: %w", keys[i], ErrEmptyVector)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("insert %q: %w: got %d, index has %d", keys[i], ErrDimensionMismatch, len(vec), dim)
		}
	}

	ix.dim = dim
	for i, key := range keys {
		cp := make([]float32, len(vecs[i]))
		copy(cp, vecs[i])
		if j, ok := ix.pos[key]; ok {
			ix.vectors[j] = cp
			continue
		}
		ix.pos[key] = len(ix.keys)
		ix.keys = append(ix.keys, key)
		ix.vectors = append(ix.vectors, cp)
	}
	return nil
}

// Retrieve returns the vector stored under key and whether it exists.
func (ix *Index) Retrieve(key string) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.pos[key]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), ix.vectors[i]...), true
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keys)
}

// Dimension is 0 until the first insert.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Keys returns keys in insertion order.
func (ix *Index) Keys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.keys...)
}

// Search scores every stored vector against query and returns the best k,
// best first. Equal scores keep insertion order.
func (ix *Index) Search(query []float32, k int, metric Metric) ([]Result, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("search: %w: %s", ErrUnknownMetric, metric)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.keys) == 0 || k <= 0 {
		return []Result{}, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("search: %w: query has %d, index has %d", ErrDimensionMismatch, len(query), ix.dim)
	}

	start := time.Now()
	results := make([]Result, len(ix.keys))
	for i, key := range ix.keys {
		results[i] = Result{Key: key, Score: metric.Score(query, ix.vectors[i])}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return metric.Better(results[i].Score, results[j].Score)
	})
	if k < len(results) {
		results = results[:k]
	}

	ev := ix.logger.Debug().
		Str("metric", metric.String()).
		Int("k", k).
		Int("vectors", len(ix.keys)).
		Dur("elapsed", time.Since(start))
	if len(results) > 0 {
		ev = ev.Float64("top_score", results[0].Score).Float64("last_score", results[len(results)-1].Score)
	}
	ev.Msg("Search completed")
	return results, nil
}

// SearchByText embeds text with a single provider call and searches with the
// resulting vector.
func (ix *Index) SearchByText(ctx context.Context, text string, k int, metric Metric) ([]Result, error) {
	if ix.embedder == nil {
		return nil, ErrNoEmbedder
	}
	query, err := ix.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	return ix.Search(query, k, metric)
}

// AddTexts embeds texts as one batched call and inserts each text keyed by
// itself. Nothing is inserted if embedding or any insert fails.
func (ix *Index) AddTexts(ctx context.Context, texts []string) error {
	if ix.embedder == nil {
		return ErrNoEmbedder
	}
	start := time.Now()
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	if err := ix.InsertAll(texts, vecs); err != nil {
		return err
	}
	ix.logger.Info().
		Int("texts", len(texts)).
		Int("entries", ix.Len()).
		Int("dimension", ix.Dimension()).
		Dur("elapsed", time.Since(start)).
		Msg("Index built")
	return nil
}

// BuildFromTexts returns a new index populated with texts.
func BuildFromTexts(ctx context.Context, embedder Embedder, texts []string, opts ...Option) (*Index, error) {
	ix := New(embedder, opts...)
	if err := ix.AddTexts(ctx, texts); err != nil {
		return nil, err
	}
	return ix, nil
}
