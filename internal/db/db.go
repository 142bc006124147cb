package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"policyrag/internal/config"
	"policyrag/internal/models"
	"policyrag/internal/vectorindex"
)

// Chunk is one embedded chunk row. Namespaces share the table.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Namespace     string          `bun:"namespace,notnull,unique:namespace_chunk"`
	ChunkID       string          `bun:"chunk_id,notnull,unique:namespace_chunk"`
	Text          string          `bun:"text,notnull"`
	Page          int             `bun:"page,notnull"`
	TokenCount    int             `bun:"token_count,notnull"`
	DocumentName  string          `bun:"document_name,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Score         float64         `bun:"score,scanonly"`
}

// ConnectDB opens a *sql.DB with the configured driver: bun's pgdriver or
// lib/pq.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq", "postgres":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Store keeps chunks in Postgres and ranks them with pgvector operators.
type Store struct {
	db     *bun.DB
	metric vectorindex.Metric
	dims   int
	prefix string
}

func NewStore(db *bun.DB, cfg config.DatabaseConfig, metric vectorindex.Metric, prefix string) *Store {
	return &Store{db: db, metric: metric, dims: cfg.Dimensions, prefix: prefix}
}

// InitDB enables the vector extension and creates the chunks table.
func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*Chunk)(nil)).
		Index("chunks_namespace_idx").
		Column("namespace").
		IfNotExists().
		Exec(ctx)
	return err
}

func (s *Store) Upsert(ctx context.Context, namespace string, items []models.ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]Chunk, len(items))
	for i, it := range items {
		if s.dims > 0 && len(it.Embedding) != s.dims {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, table expects %d", it.ChunkID, len(it.Embedding), s.dims)
		}
		rows[i] = toRow(s.prefix+namespace, it)
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (namespace, chunk_id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("page = EXCLUDED.page").
		Set("token_count = EXCLUDED.token_count").
		Set("document_name = EXCLUDED.document_name").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	log.Debug().Str("namespace", namespace).Int("rows", len(rows)).Msg("Stored chunks")
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	var rows []Chunk
	err := s.searchQuery(namespace, pgvector.NewVector(query), k, threshold).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	hits := make([]models.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = r.hit()
	}
	return hits, nil
}

func (s *Store) searchQuery(namespace string, vec pgvector.Vector, k int, threshold float64) *bun.SelectQuery {
	expr := operatorFor(s.metric)
	cmp := ">="
	if !s.metric.HigherIsBetter() {
		cmp = "<="
	}
	return s.db.NewSelect().
		Model((*Chunk)(nil)).
		Column("chunk_id", "text", "page", "token_count", "document_name").
		ColumnExpr(expr.score+" AS score", vec).
		Where("namespace = ?", s.prefix+namespace).
		Where(expr.score+" "+cmp+" ?", vec, threshold).
		OrderExpr(expr.distance+" ASC", vec).
		Limit(k)
}

func (s *Store) DropNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.NewDelete().
		Model((*Chunk)(nil)).
		Where("namespace = ?", s.prefix+namespace).
		Exec(ctx)
	return err
}

// DropTable removes every namespace.
func (s *Store) DropTable(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*Chunk)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type sqlExpr struct {
	// distance orders ascending, best match first.
	distance string
	score    string
}

// pgvector's <#> returns the negated inner product.
func operatorFor(m vectorindex.Metric) sqlExpr {
	switch m {
	case vectorindex.Euclidean:
		return sqlExpr{distance: "embedding <-> ?", score: "(embedding <-> ?)"}
	case vectorindex.Manhattan:
		return sqlExpr{distance: "embedding <+> ?", score: "(embedding <+> ?)"}
	case vectorindex.DotProduct:
		return sqlExpr{distance: "embedding <#> ?", score: "((embedding <#> ?) * -1)"}
	default:
		return sqlExpr{distance: "embedding <=> ?", score: "(1 - (embedding <=> ?))"}
	}
}

func toRow(namespace string, it models.ChunkEmbedding) Chunk {
	return Chunk{
		Namespace:    namespace,
		ChunkID:      it.ChunkID,
		Text:         it.Text,
		Page:         it.Page,
		TokenCount:   it.TokenCount,
		DocumentName: it.DocumentName,
		Embedding:    pgvector.NewVector(it.Embedding),
	}
}

func (c Chunk) hit() models.SearchHit {
	return models.SearchHit{
		Chunk: models.Chunk{
			ChunkID:      c.ChunkID,
			Text:         c.Text,
			Page:         c.Page,
			TokenCount:   c.TokenCount,
			DocumentName: c.DocumentName,
		},
		Score: c.Score,
	}
}
