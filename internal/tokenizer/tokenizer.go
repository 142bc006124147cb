package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Words selects the whitespace tokenizer, which needs no BPE download.
const Words = "words"

// Tokenizer turns text into token ids and back. Decode(Encode(x)) may differ
// from x in whitespace.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// New returns the tokenizer for an encoding name: "words" or any encoding
// known to tiktoken (cl100k_base, o200k_base, ...).
func New(encoding string) (Tokenizer, error) {
	if encoding == Words {
		return NewWordTokenizer(), nil
	}
	return NewTiktoken(encoding)
}

type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// WordTokenizer treats every whitespace-separated word as one token. Ids are
// assigned on first sight and stay stable for the tokenizer's lifetime.
type WordTokenizer struct {
	mu    sync.RWMutex
	ids   map[string]int
	words []string
}

func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{ids: make(map[string]int)}
}

func (w *WordTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	tokens := make([]int, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		tokens[i] = id
	}
	return tokens
}

func (w *WordTokenizer) Decode(tokens []int) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(w.words) {
			parts = append(parts, w.words[id])
		}
	}
	return strings.Join(parts, " ")
}
