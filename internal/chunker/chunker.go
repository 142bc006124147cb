package chunker

import (
	"errors"
	"fmt"
	"strings"

	"policyrag/internal/config"
	"policyrag/internal/models"
	"policyrag/internal/tokenizer"
)

// ErrEmptyDocument is returned when a document yields no chunks, which
// usually means text extraction failed upstream.
var ErrEmptyDocument = errors.New("no text chunks produced from document")

// Chunker splits page text into token-bounded chunks. Consecutive chunks share
// up to OverlapSize tokens.
type Chunker struct {
	tok         tokenizer.Tokenizer
	chunkSize   int
	overlapSize int
}

func New(tok tokenizer.Tokenizer, cfg config.ChunkingConfig) (*Chunker, error) {
	if tok == nil {
		return nil, errors.New("chunker: tokenizer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{tok: tok, chunkSize: cfg.ChunkSize, overlapSize: cfg.OverlapSize}, nil
}

// accumulator is the cross-page state: text gathered so far, the pages it
// came from and its token count.
type accumulator struct {
	text   string
	pages  []int
	tokens int
}

func (a *accumulator) add(text string, page, tokens int) {
	if a.text == "" {
		a.text = text
	} else {
		a.text += " " + text
	}
	a.pages = append(a.pages, page)
	a.tokens += tokens
}

func (a *accumulator) minPage() int {
	if len(a.pages) == 0 {
		return 1
	}
	m := a.pages[0]
	for _, p := range a.pages[1:] {
		if p < m {
			m = p
		}
	}
	return m
}

// Chunk processes pages in the given order. Pages that alone exceed the chunk
// budget are windowed on their own; the rest are merged until the budget would
// overflow.
func (c *Chunker) Chunk(documentName string, pages []models.Page) ([]models.Chunk, error) {
	var (
		chunks []models.Chunk
		acc    accumulator
		seq    int
	)
	emit := func(text string, page int) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, models.Chunk{
			ChunkID:      fmt.Sprintf(models.ChunkIDFormat, documentName, seq),
			Text:         text,
			Page:         page,
			TokenCount:   len(c.tok.Encode(text)),
			DocumentName: documentName,
		})
		seq++
	}

	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		tokens := c.tok.Encode(text)

		if len(tokens) > c.chunkSize {
			for _, w := range c.windows(len(tokens)) {
				emit(c.decode(tokens[w[0]:w[1]]), page.Number)
			}
			continue
		}

		if acc.tokens+len(tokens) > c.chunkSize {
			if strings.TrimSpace(acc.text) != "" {
				emit(acc.text, acc.minPage())
			}
			seed := c.tail(acc.text)
			acc = accumulator{}
			if seed != "" {
				text = seed + " " + text
			}
			acc.add(text, page.Number, len(c.tok.Encode(text)))
			continue
		}
		acc.add(text, page.Number, len(tokens))
	}

	if strings.TrimSpace(acc.text) != "" {
		emit(acc.text, acc.minPage())
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", documentName, ErrEmptyDocument)
	}
	return chunks, nil
}

// windows returns [start, end) token ranges of at most chunkSize tokens for
// every start below n, advancing by chunkSize-overlapSize. The last range can
// lie entirely within the overlap of the one before it.
func (c *Chunker) windows(n int) [][2]int {
	step := c.chunkSize - c.overlapSize
	var out [][2]int
	for start := 0; start < n; start += step {
		out = append(out, [2]int{start, min(start+c.chunkSize, n)})
	}
	return out
}

// tail decodes the last overlapSize tokens of text.
func (c *Chunker) tail(text string) string {
	if c.overlapSize == 0 || text == "" {
		return ""
	}
	tokens := c.tok.Encode(text)
	if len(tokens) > c.overlapSize {
		tokens = tokens[len(tokens)-c.overlapSize:]
	}
	return strings.TrimSpace(c.decode(tokens))
}

// BPE token boundaries can split multi-byte runes.
func (c *Chunker) decode(tokens []int) string {
	return strings.ToValidUTF8(c.tok.Decode(tokens), "")
}
