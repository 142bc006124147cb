package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"policyrag/internal/config"
	"policyrag/internal/models"
	"policyrag/internal/tokenizer"
)

// words returns n distinct words with the given prefix.
func words(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func newChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(tokenizer.NewWordTokenizer(), config.ChunkingConfig{ChunkSize: size, OverlapSize: overlap})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestNewRejectsInvalidBudget(t *testing.T) {
	tok := tokenizer.NewWordTokenizer()
	for _, cfg := range []config.ChunkingConfig{
		{ChunkSize: 100, OverlapSize: 100},
		{ChunkSize: 100, OverlapSize: 150},
		{ChunkSize: 0, OverlapSize: 0},
		{ChunkSize: 10, OverlapSize: -1},
	} {
		if _, err := New(tok, cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	if _, err := New(nil, config.ChunkingConfig{ChunkSize: 10}); err == nil {
		t.Fatalf("expected error for nil tokenizer")
	}
}

func TestOversizedMiddlePage(t *testing.T) {
	c := newChunker(t, 500, 50)
	p1, p2, p3 := words("a", 10), words("b", 600), words("c", 10)
	pages := []models.Page{
		{Number: 1, Text: strings.Join(p1, " ")},
		{Number: 2, Text: strings.Join(p2, " ")},
		{Number: 3, Text: strings.Join(p3, " ")},
	}

	chunks, err := c.Chunk("policy.pdf", pages)
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	want := []models.Chunk{
		{ChunkID: "policy.pdf_0", Text: strings.Join(p2[0:500], " "), Page: 2, TokenCount: 500, DocumentName: "policy.pdf"},
		{ChunkID: "policy.pdf_1", Text: strings.Join(p2[450:600], " "), Page: 2, TokenCount: 150, DocumentName: "policy.pdf"},
		{ChunkID: "policy.pdf_2", Text: strings.Join(append(append([]string{}, p1...), p3...), " "), Page: 1, TokenCount: 20, DocumentName: "policy.pdf"},
	}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("chunks mismatch:\n got %+v\nwant %+v", chunks, want)
	}
}

func TestOverflowSeedsOverlap(t *testing.T) {
	c := newChunker(t, 500, 50)
	p1, p2, p3 := words("a", 300), words("b", 300), words("c", 100)
	pages := []models.Page{
		{Number: 1, Text: strings.Join(p1, " ")},
		{Number: 2, Text: strings.Join(p2, " ")},
		{Number: 3, Text: strings.Join(p3, " ")},
	}
	chunks, err := c.Chunk("doc", pages)
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[0].TokenCount != 300 {
		t.Fatalf("first chunk: page %d tokens %d", chunks[0].Page, chunks[0].TokenCount)
	}
	second := strings.Fields(chunks[1].Text)
	if !reflect.DeepEqual(second[:50], p1[250:]) {
		t.Fatalf("second chunk does not start with the overlap tail: %v", second[:3])
	}
	if chunks[1].Page != 2 || chunks[1].TokenCount != 450 {
		t.Fatalf("second chunk: page %d tokens %d", chunks[1].Page, chunks[1].TokenCount)
	}
}

func TestCoverageAndOverlapBound(t *testing.T) {
	const size, overlap = 300, 30
	c := newChunker(t, size, overlap)
	src := words("w", 1000)
	chunks, err := c.Chunk("big", []models.Page{{Number: 7, Text: strings.Join(src, " ")}})
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	// starts at 0, 270, 540, 810
	if len(chunks) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(chunks))
	}

	var rebuilt []string
	for i, ch := range chunks {
		if ch.Page != 7 {
			t.Fatalf("chunk %d page %d", i, ch.Page)
		}
		if ch.TokenCount > size {
			t.Fatalf("chunk %d has %d tokens", i, ch.TokenCount)
		}
		toks := strings.Fields(ch.Text)
		if i == 0 {
			rebuilt = append(rebuilt, toks...)
			continue
		}
		prev := strings.Fields(chunks[i-1].Text)
		shared := sharedSpan(prev, toks)
		if shared > overlap {
			t.Fatalf("chunks %d/%d share %d tokens", i-1, i, shared)
		}
		rebuilt = append(rebuilt, toks[shared:]...)
	}
	if !reflect.DeepEqual(rebuilt, src) {
		t.Fatalf("rebuilt stream differs from source (%d vs %d tokens)", len(rebuilt), len(src))
	}
}

// sharedSpan is the length of the longest suffix of a that is a prefix of b.
func sharedSpan(a, b []string) int {
	for n := min(len(a), len(b)); n > 0; n-- {
		if reflect.DeepEqual(a[len(a)-n:], b[:n]) {
			return n
		}
	}
	return 0
}

func TestOversizedWindowCount(t *testing.T) {
	tests := []struct {
		name          string
		n, size, over int
		want          [][2]int
	}{
		{"fits twice", 600, 500, 50, [][2]int{{0, 500}, {450, 600}}},
		{"tail inside overlap", 950, 500, 50, [][2]int{{0, 500}, {450, 950}, {900, 950}}},
		{"exact multiple", 18, 10, 2, [][2]int{{0, 10}, {8, 18}, {16, 18}}},
		{"no overlap", 20, 10, 0, [][2]int{{0, 10}, {10, 20}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChunker(t, tt.size, tt.over)
			src := words("x", tt.n)
			chunks, err := c.Chunk("d", []models.Page{{Number: 1, Text: strings.Join(src, " ")}})
			if err != nil {
				t.Fatalf("Chunk error: %v", err)
			}
			if len(chunks) != len(tt.want) {
				t.Fatalf("expected %d chunks, got %d", len(tt.want), len(chunks))
			}
			for i, w := range tt.want {
				if got := chunks[i].Text; got != strings.Join(src[w[0]:w[1]], " ") {
					t.Fatalf("chunk %d: got %d tokens, want range %v", i, chunks[i].TokenCount, w)
				}
			}
		})
	}
}

func TestMinimumPageRecorded(t *testing.T) {
	c := newChunker(t, 100, 10)
	chunks, err := c.Chunk("d", []models.Page{
		{Number: 3, Text: "alpha beta"},
		{Number: 4, Text: "gamma delta"},
	})
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Page != 3 || chunks[0].Text != "alpha beta gamma delta" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestEmptyDocument(t *testing.T) {
	c := newChunker(t, 100, 10)
	for _, pages := range [][]models.Page{nil, {{Number: 1, Text: "   \n\t"}}} {
		chunks, err := c.Chunk("blank.pdf", pages)
		if !errors.Is(err, ErrEmptyDocument) {
			t.Fatalf("expected ErrEmptyDocument, got %v", err)
		}
		if chunks != nil {
			t.Fatalf("expected nil chunks, got %v", chunks)
		}
	}
}

func TestUniqueSequentialIDs(t *testing.T) {
	c := newChunker(t, 20, 5)
	var pages []models.Page
	for i := 1; i <= 6; i++ {
		pages = append(pages, models.Page{Number: i, Text: strings.Join(words(fmt.Sprintf("p%d-", i), 12), " ")})
	}
	chunks, err := c.Chunk("doc", pages)
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	for i, ch := range chunks {
		if want := fmt.Sprintf("doc_%d", i); ch.ChunkID != want {
			t.Fatalf("chunk %d id %q want %q", i, ch.ChunkID, want)
		}
		if ch.Text == "" || ch.TokenCount < 1 {
			t.Fatalf("chunk %d is empty", i)
		}
	}
}
