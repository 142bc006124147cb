package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/models"
	"policyrag/internal/tokenizer"
	"policyrag/internal/vectorindex"
)

// keywordEmbedder counts topic words, so similarity follows topic overlap.
type keywordEmbedder struct {
	err   error
	calls int
}

func (e *keywordEmbedder) vec(text string) []float32 {
	text = strings.ToLower(text)
	return []float32{
		float32(strings.Count(text, "fire")),
		float32(strings.Count(text, "flood")),
		float32(strings.Count(text, "theft")),
	}
}

func (e *keywordEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

type fakeLLM struct {
	reply  string
	prompt string
	calls  int
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, nil
}

var policyPages = []models.Page{
	{Number: 1, Text: "fire fire fire covered here"},
	{Number: 2, Text: "flood flood flood excluded here"},
	{Number: 3, Text: "theft theft theft covered here"},
}

func newService(t *testing.T, emb Embedder, store Store, opts ...Option) *Service {
	t.Helper()
	ch, err := chunker.New(tokenizer.NewWordTokenizer(), config.ChunkingConfig{ChunkSize: 5, OverlapSize: 0, Encoding: "words"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.SearchConfig{DefaultK: 5, Metric: "cosine", Thresholds: map[string]float64{"cosine": 0.4}}
	s, err := NewService(cfg, ch, emb, store, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine))

	report, err := s.IngestPages(ctx, "p1", "policy.pdf", policyPages)
	if err != nil {
		t.Fatalf("IngestPages error: %v", err)
	}
	if report.Chunks != 3 || report.Pages != 3 || report.Document != "policy.pdf" {
		t.Fatalf("report: %+v", report)
	}

	hits, err := s.Retrieve(ctx, "p1", "is flood damage covered?", 0)
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "policy.pdf_1" || hits[0].Page != 2 {
		t.Fatalf("hits: %+v", hits)
	}
	if hits[0].Score < 0.99 {
		t.Fatalf("score %v", hits[0].Score)
	}
}

func TestReingestReplacesNamespace(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine))
	if _, err := s.IngestPages(ctx, "p1", "old.pdf", policyPages); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IngestPages(ctx, "p1", "new.pdf", policyPages[:1]); err != nil {
		t.Fatal(err)
	}
	hits, _ := s.Retrieve(ctx, "p1", "theft", 5)
	if len(hits) != 0 {
		t.Fatalf("old chunks survived: %+v", hits)
	}
	hits, _ = s.Retrieve(ctx, "p1", "fire", 5)
	if len(hits) != 1 || hits[0].DocumentName != "new.pdf" {
		t.Fatalf("hits: %+v", hits)
	}
}

func TestFailedEmbeddingKeepsNamespace(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	s := newService(t, emb, NewMemoryStore(vectorindex.Cosine))
	if _, err := s.IngestPages(ctx, "p1", "policy.pdf", policyPages); err != nil {
		t.Fatal(err)
	}

	emb.err = errors.New("quota exceeded")
	if _, err := s.IngestPages(ctx, "p1", "other.pdf", policyPages); err == nil {
		t.Fatal("expected embedding error")
	}
	emb.err = nil
	hits, _ := s.Retrieve(ctx, "p1", "fire", 5)
	if len(hits) != 1 || hits[0].DocumentName != "policy.pdf" {
		t.Fatalf("namespace changed after failed ingest: %+v", hits)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	emb := &keywordEmbedder{}
	s := newService(t, emb, NewMemoryStore(vectorindex.Cosine))
	_, err := s.IngestPages(context.Background(), "p1", "blank.pdf", []models.Page{{Number: 1, Text: "  "}})
	if !errors.Is(err, chunker.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder called for empty document")
	}
}

func TestIngestDocumentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	if err := os.WriteFile(path, []byte("fire cover\fflood cover"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine))
	report, err := s.IngestDocument(context.Background(), "p1", path)
	if err != nil {
		t.Fatalf("IngestDocument error: %v", err)
	}
	if report.Document != "policy.txt" || report.Pages != 2 {
		t.Fatalf("report: %+v", report)
	}
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "<think>checking pages</think>\nYes, fire is covered."}
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine), WithGenerator(llm))
	if _, err := s.IngestPages(ctx, "p1", "policy.pdf", policyPages); err != nil {
		t.Fatal(err)
	}

	ans, err := s.Answer(ctx, "p1", "is fire covered?")
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if ans.Content != "Yes, fire is covered." {
		t.Fatalf("content %q", ans.Content)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Page != 1 {
		t.Fatalf("sources: %+v", ans.Sources)
	}
	if !strings.Contains(llm.prompt, "[Page 1]") || !strings.Contains(llm.prompt, "is fire covered?") {
		t.Fatalf("prompt: %q", llm.prompt)
	}

	ans, err = s.Answer(ctx, "p1", "what about earthquakes?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Content != NoContextAnswer || llm.calls != 1 {
		t.Fatalf("expected no llm call without context: %q, calls %d", ans.Content, llm.calls)
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine))
	if _, err := s.Answer(context.Background(), "p1", "q"); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("got %v", err)
	}
}

func TestDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &keywordEmbedder{}, NewMemoryStore(vectorindex.Cosine))
	_, _ = s.IngestPages(ctx, "p1", "policy.pdf", policyPages)
	if err := s.DeleteNamespace(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if hits, _ := s.Retrieve(ctx, "p1", "fire", 5); len(hits) != 0 {
		t.Fatalf("hits after delete: %+v", hits)
	}
}

func TestMemoryStoreDistanceThreshold(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(vectorindex.Euclidean)
	_ = store.Upsert(ctx, "p1", []models.ChunkEmbedding{
		{Chunk: models.Chunk{ChunkID: "near"}, Embedding: []float32{0, 0}},
		{Chunk: models.Chunk{ChunkID: "far"}, Embedding: []float32{3, 4}},
	})
	hits, err := store.Search(ctx, "p1", []float32{0, 1}, 5, 1.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "near" || hits[0].Score != 1 {
		t.Fatalf("hits: %+v", hits)
	}
}

func TestStripThinking(t *testing.T) {
	if got := StripThinking("<think>a\nb</think> answer "); got != "answer" {
		t.Fatalf("got %q", got)
	}
}

func TestMemoryStoreUpsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(vectorindex.Cosine)
	err := store.Upsert(ctx, "p1", []models.ChunkEmbedding{
		{Chunk: models.Chunk{ChunkID: "a"}, Embedding: []float32{1, 0}},
		{Chunk: models.Chunk{ChunkID: "b"}, Embedding: []float32{1, 0, 0}},
	})
	if !errors.Is(err, vectorindex.ErrDimensionMismatch) {
		t.Fatalf("expected dimension error, got %v", err)
	}
	hits, err := store.Search(ctx, "p1", []float32{1, 0}, 5, 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("partial upsert visible: %+v %v", hits, err)
	}
}
