package models

// Page is the text of one page of a source document. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Chunk represents a token-bounded span of a document with its page attribution
type Chunk struct {
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	Page         int    `json:"page"`
	TokenCount   int    `json:"token_count"`
	DocumentName string `json:"document_name"`
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// SearchHit is a chunk returned by a storage backend together with its score
type SearchHit struct {
	Chunk
	Score float64 `json:"score"`
}

type Answer struct {
	Question string      `json:"question"`
	Content  string      `json:"content"`
	Sources  []SearchHit `json:"sources"`
}
