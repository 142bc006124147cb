package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"policyrag/internal/config"
)

var (
	ErrEmptyText         = errors.New("empty text")
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// Provider creates one embedding per input text, in input order.
type Provider interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Batch is the half-open range [Start, End) of the input handled by one request.
type Batch struct {
	Index int
	Start int
	End   int
}

func (b Batch) Size() int { return b.End - b.Start }

// BatchError tags a provider failure with the batch that caused it.
type BatchError struct {
	Batch
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (texts %d-%d): %v", e.Index, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// TextError reports an input text that cannot be embedded.
type TextError struct {
	Index int
	Err   error
}

func (e *TextError) Error() string {
	return fmt.Sprintf("text %d: %v", e.Index, e.Err)
}

func (e *TextError) Unwrap() error { return e.Err }

// Partition splits n items into contiguous batches of at most size items.
func Partition(n, size int) []Batch {
	if n <= 0 || size <= 0 {
		return nil
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		batches = append(batches, Batch{Index: len(batches), Start: start, End: min(start+size, n)})
	}
	return batches
}

type Option func(*Batcher)

// WithProgress registers a callback invoked after every completed batch.
func WithProgress(fn func(done, total int)) Option {
	return func(b *Batcher) { b.progress = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

// Batcher turns lists of texts into embeddings with as few provider round
// trips as the batch size allows. Output order always matches input order.
type Batcher struct {
	provider    Provider
	model       string
	batchSize   int
	concurrency int
	sequential  bool
	progress    func(done, total int)
	logger      zerolog.Logger
}

func NewBatcher(provider Provider, cfg config.EmbeddingConfig, opts ...Option) (*Batcher, error) {
	if provider == nil {
		return nil, errors.New("embedding: provider is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding: model is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("embedding: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("embedding: concurrency must not be negative, got %d", cfg.Concurrency)
	}
	b := &Batcher{
		provider:    provider,
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		sequential:  cfg.Sequential,
		logger:      log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Batcher) Model() string { return b.model }

// EmbedBatch embeds all texts. Any failing batch fails the whole call; there
// are no partial results and no retries.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, &TextError{Index: i, Err: ErrEmptyText}
		}
	}

	start := time.Now()
	batches := Partition(len(texts), b.batchSize)
	b.logger.Info().
		Int("texts", len(texts)).
		Int("batches", len(batches)).
		Str("model", b.model).
		Msg("Creating embeddings")

	results := make([][][]float32, len(batches))
	var err error
	if b.sequential {
		err = b.runSequential(ctx, texts, batches, results)
	} else {
		err = b.runConcurrent(ctx, texts, batches, results)
	}
	if err != nil {
		b.logger.Error().Err(err).Msg("Embedding creation failed")
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	b.logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("vectors", len(out)).
		Msg("Embedding creation completed")
	return out, nil
}

func (b *Batcher) runSequential(ctx context.Context, texts []string, batches []Batch, results [][][]float32) error {
	for _, batch := range batches {
		vecs, err := b.embed(ctx, texts, batch)
		if err != nil {
			return err
		}
		results[batch.Index] = vecs
		b.report(batch.Index+1, len(batches))
	}
	return nil
}

// runConcurrent dispatches every batch through an errgroup. Each goroutine
// writes only its own results slot.
func (b *Batcher) runConcurrent(ctx context.Context, texts []string, batches []Batch, results [][][]float32) error {
	g, gctx := errgroup.WithContext(ctx)
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}

	var (
		mu   sync.Mutex
		done int
	)
	for _, batch := range batches {
		g.Go(func() error {
			vecs, err := b.embed(gctx, texts, batch)
			if err != nil {
				return err
			}
			results[batch.Index] = vecs
			mu.Lock()
			done++
			b.report(done, len(batches))
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (b *Batcher) embed(ctx context.Context, texts []string, batch Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BatchError{Batch: batch, Err: err}
	}
	start := time.Now()
	b.logger.Debug().Int("batch", batch.Index).Int("size", batch.Size()).Msg("Processing batch")

	vecs, err := b.provider.CreateEmbeddings(ctx, b.model, texts[batch.Start:batch.End])
	if err != nil {
		return nil, &BatchError{Batch: batch, Err: err}
	}
	if len(vecs) != batch.Size() {
		return nil, &BatchError{Batch: batch, Err: fmt.Errorf("%w: got %d vectors for %d texts", ErrMalformedResponse, len(vecs), batch.Size())}
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, &BatchError{Batch: batch, Err: fmt.Errorf("%w: empty vector at position %d", ErrMalformedResponse, i)}
		}
	}
	b.logger.Debug().Int("batch", batch.Index).Dur("elapsed", time.Since(start)).Msg("Batch completed")
	return vecs, nil
}

func (b *Batcher) report(done, total int) {
	if b.progress != nil {
		b.progress(done, total)
	}
}

// EmbedOne embeds a single text with one provider call.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &TextError{Index: 0, Err: ErrEmptyText}
	}
	vecs, err := b.provider.CreateEmbeddings(ctx, b.model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", ErrMalformedResponse, len(vecs))
	}
	return vecs[0], nil
}
