package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"policyrag/internal/config"
	"policyrag/internal/models"
)

const exportFile = "collections.chromem"

// Store keeps one chromem collection per namespace. chromem ranks by cosine
// similarity only.
type Store struct {
	db     *chromem.DB
	cfg    config.ChromemConfig
	prefix string
}

// New opens a persistent database under cfg.Path, or an in-memory one that
// is imported from and exported to cfg.Path when InMemory is set.
func New(cfg config.ChromemConfig, prefix string) (*Store, error) {
	s := &Store{cfg: cfg, prefix: prefix}
	if cfg.InMemory {
		s.db = chromem.NewDB()
		if cfg.Path != "" {
			if _, err := os.Stat(s.exportPath()); err == nil {
				if err := s.db.ImportFromFile(s.exportPath(), cfg.EncryptionKey); err != nil {
					return nil, fmt.Errorf("failed to import database: %w", err)
				}
			}
		}
		return s, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database folder: %w", err)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	s.db = db
	return s, nil
}

// chromem decides on decompression by the .gz suffix.
func (s *Store) exportPath() string {
	name := exportFile
	if s.cfg.Compress {
		name += ".gz"
	}
	return filepath.Join(s.cfg.Path, name)
}

func (s *Store) collectionName(namespace string) string {
	return s.prefix + namespace
}

func (s *Store) collection(namespace string) (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(s.collectionName(namespace), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return c, nil
}

// Upsert adds chunks; documents with an existing chunk id are replaced.
func (s *Store) Upsert(ctx context.Context, namespace string, items []models.ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		docs[i] = chromem.Document{
			ID:        it.ChunkID,
			Content:   it.Text,
			Metadata:  chunkMetadata(it.Chunk),
			Embedding: it.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", c.Name).Int("documents", len(docs)).Msg("Stored chunks")
	return nil
}

// Search returns at most k chunks with cosine similarity of at least threshold.
func (s *Store) Search(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]models.SearchHit, error) {
	c := s.db.GetCollection(s.collectionName(namespace), nil)
	if c == nil || c.Count() == 0 || k <= 0 {
		return nil, nil
	}
	k = min(k, c.Count())
	results, err := c.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		ch := chunkFromMetadata(r.Metadata)
		ch.ChunkID = r.ID
		ch.Text = r.Content
		hits = append(hits, models.SearchHit{Chunk: ch, Score: float64(r.Similarity)})
	}
	return hits, nil
}

func (s *Store) DropNamespace(ctx context.Context, namespace string) error {
	if err := s.db.DeleteCollection(s.collectionName(namespace)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Export writes every collection to cfg.Path. Only meaningful for in-memory
// databases; persistent ones write through.
func (s *Store) Export() error {
	if s.cfg.Path == "" {
		return errors.New("db path is required")
	}
	if err := os.MkdirAll(s.cfg.Path, 0o755); err != nil {
		return err
	}
	log.Debug().Str("file", s.exportPath()).Bool("compress", s.cfg.Compress).Msg("Exporting collections")
	if err := s.db.ExportToFile(s.exportPath(), s.cfg.Compress, s.cfg.EncryptionKey); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Close exports in-memory databases that have a path configured.
func (s *Store) Close() error {
	if s.cfg.InMemory && s.cfg.Path != "" {
		return s.Export()
	}
	return nil
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		"document_name": c.DocumentName,
		"page":          strconv.Itoa(c.Page),
		"token_count":   strconv.Itoa(c.TokenCount),
	}
}

func chunkFromMetadata(meta map[string]string) models.Chunk {
	page, _ := strconv.Atoi(meta["page"])
	tokens, _ := strconv.Atoi(meta["token_count"])
	return models.Chunk{DocumentName: meta["document_name"], Page: page, TokenCount: tokens}
}
