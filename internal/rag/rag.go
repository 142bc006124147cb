package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/models"
	"policyrag/internal/parser"
	"policyrag/internal/vectorindex"
)

const NoContextAnswer = "No relevant information was found in the document for this question."

var (
	ErrNoGenerator = errors.New("no llm configured")
	thinkTagRe     = regexp.MustCompile(models.ThinkTag)
)

// Embedder is satisfied by *embedding.Batcher.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is satisfied by *llmservice.Client.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type IngestReport struct {
	Namespace string        `json:"namespace"`
	Document  string        `json:"document"`
	Pages     int           `json:"pages"`
	Chunks    int           `json:"chunks"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithGenerator enables Answer.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.llm = g }
}

type Service struct {
	search   config.SearchConfig
	metric   vectorindex.Metric
	chunker  *chunker.Chunker
	embedder Embedder
	store    Store
	llm      Generator
	logger   zerolog.Logger
}

func NewService(cfg config.SearchConfig, ch *chunker.Chunker, embedder Embedder, store Store, opts ...Option) (*Service, error) {
	metric, err := vectorindex.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	s := &Service{
		search:   cfg,
		metric:   metric,
		chunker:  ch,
		embedder: embedder,
		store:    store,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Metric() vectorindex.Metric { return s.metric }

// IngestDocument parses the file at path and replaces the namespace content
// with its chunks.
func (s *Service) IngestDocument(ctx context.Context, namespace, path string) (*IngestReport, error) {
	pages, err := parser.ExtractPages(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s.IngestPages(ctx, namespace, filepath.Base(path), pages)
}

func (s *Service) IngestPages(ctx context.Context, namespace, documentName string, pages []models.Page) (*IngestReport, error) {
	start := time.Now()
	chunks, err := s.chunker.Chunk(documentName, pages)
	if err != nil {
		return nil, err
	}
	if err := s.IngestChunks(ctx, namespace, chunks); err != nil {
		return nil, err
	}
	report := &IngestReport{
		Namespace: namespace,
		Document:  documentName,
		Pages:     len(pages),
		Chunks:    len(chunks),
		Elapsed:   time.Since(start),
	}
	s.logger.Info().
		Str("namespace", namespace).
		Str("document", documentName).
		Int("pages", report.Pages).
		Int("chunks", report.Chunks).
		Dur("elapsed", report.Elapsed).
		Msg("Document ingested")
	return report, nil
}

// IngestChunks embeds every chunk and swaps them in for the namespace. The
// namespace is only dropped once all embeddings succeeded.
func (s *Service) IngestChunks(ctx context.Context, namespace string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return chunker.ErrEmptyDocument
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	items := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		items[i] = models.ChunkEmbedding{Chunk: c, Embedding: vecs[i]}
	}

	if err := s.store.DropNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("failed to reset namespace %s: %w", namespace, err)
	}
	if err := s.store.Upsert(ctx, namespace, items); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// Retrieve returns up to k chunks that pass the relevance threshold of the
// configured metric, best first. k <= 0 uses the configured default.
func (s *Service) Retrieve(ctx context.Context, namespace, query string, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		k = s.search.DefaultK
	}
	threshold, _ := s.search.Threshold(s.metric.String())
	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, namespace, vec, k, threshold)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("namespace", namespace).
		Str("metric", s.metric.String()).
		Float64("threshold", threshold).
		Int("hits", len(hits)).
		Msg("Retrieved chunks")
	return hits, nil
}

// Answer retrieves context for question and asks the llm. Without relevant
// chunks the llm is not called.
func (s *Service) Answer(ctx context.Context, namespace, question string) (*models.Answer, error) {
	if s.llm == nil {
		return nil, ErrNoGenerator
	}
	hits, err := s.Retrieve(ctx, namespace, question, 0)
	if err != nil {
		return nil, err
	}
	answer := &models.Answer{Question: question, Sources: hits}
	if len(hits) == 0 {
		answer.Content = NoContextAnswer
		return answer, nil
	}

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, BuildContext(hits), question)
	content, err := s.llm.Generate(ctx, models.AnswerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	answer.Content = StripThinking(content)
	return answer, nil
}

func (s *Service) DeleteNamespace(ctx context.Context, namespace string) error {
	return s.store.DropNamespace(ctx, namespace)
}

// BuildContext renders hits for the answer prompt, each prefixed with its page.
func BuildContext(hits []models.SearchHit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[Page %d]\n%s", h.Page, h.Text)
	}
	return strings.Join(parts, models.ContextSeparator)
}

// StripThinking removes <think> blocks some reasoning models emit.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(s, ""))
}
