package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"policyrag/internal/chromemdb"
	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/db"
	"policyrag/internal/embedding"
	"policyrag/internal/helper"
	"policyrag/internal/llmservice"
	"policyrag/internal/logger"
	"policyrag/internal/models"
	"policyrag/internal/parser"
	"policyrag/internal/qdrantdb"
	"policyrag/internal/rag"
	"policyrag/internal/tokenizer"
	"policyrag/internal/vectorindex"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the YAML config")
	filePath := flag.String("file", "", "Path to the document file to ingest")
	namespace := flag.String("namespace", "", "Namespace (policy id); defaults to the file name")
	query := flag.String("query", "", "Question to answer")
	searchOnly := flag.Bool("search-only", false, "Print retrieved chunks without calling the LLM")
	compare := flag.Bool("compare", false, "Compare all metrics for -query over the chunks of -file")
	k := flag.Int("k", 0, "Number of chunks to retrieve (0 uses search.default_k)")
	drop := flag.Bool("drop", false, "Delete the namespace")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk -file without embedding or storing")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if err := logger.Setup(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("Error setting up logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ns := *namespace
	if ns == "" && *filePath != "" {
		ns = strings.TrimSuffix(filepath.Base(*filePath), filepath.Ext(*filePath))
	}

	switch {
	case *dryRun:
		requireFlag(*filePath, "-file")
		err = dryRunChunks(cfg, *filePath)
	case *compare:
		requireFlag(*filePath, "-file")
		requireFlag(*query, "-query")
		err = compareMetrics(ctx, cfg, *filePath, *query, *k)
	case *drop:
		requireFlag(ns, "-namespace")
		err = withService(ctx, cfg, func(svc *rag.Service) error {
			return svc.DeleteNamespace(ctx, ns)
		})
	case *filePath != "" || *query != "":
		requireFlag(ns, "-namespace")
		err = withService(ctx, cfg, func(svc *rag.Service) error {
			if *filePath != "" {
				report, err := svc.IngestDocument(ctx, ns, *filePath)
				if err != nil {
					return err
				}
				helper.PrettyPrint(report)
			}
			if *query == "" {
				return nil
			}
			if *searchOnly {
				return printHits(ctx, svc, ns, *query, *k)
			}
			return printAnswer(ctx, svc, ns, *query)
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func requireFlag(v, name string) {
	if v == "" {
		log.Fatal().Msgf("Please provide %s", name)
	}
}

func newChunker(cfg *config.Config) (*chunker.Chunker, error) {
	tok, err := tokenizer.New(cfg.Chunking.Encoding)
	if err != nil {
		return nil, err
	}
	return chunker.New(tok, cfg.Chunking)
}

func newBatcher(cfg *config.Config) (*embedding.Batcher, error) {
	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	return embedding.NewBatcher(provider, cfg.Embedding, embedding.WithProgress(func(done, total int) {
		log.Info().Int("done", done).Int("total", total).Msg("Embedding progress")
	}))
}

// openStore returns the configured store and its closer.
func openStore(ctx context.Context, cfg *config.Config, metric vectorindex.Metric) (rag.Store, io.Closer, error) {
	prefix := cfg.Store.NamespacePrefix
	switch cfg.Store.Type {
	case "chromem":
		s, err := chromemdb.New(cfg.Store.Chromem, prefix)
		return s, s, err
	case "pgvector":
		sqldb, err := db.ConnectDB(cfg.Store.Database)
		if err != nil {
			return nil, nil, err
		}
		s := db.NewStore(db.NewDB(sqldb, cfg.Store.Database.Debug), cfg.Store.Database, metric, prefix)
		if err := s.InitDB(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s, nil
	case "qdrant":
		s, err := qdrantdb.New(cfg.Store.Qdrant, metric, prefix)
		return s, s, err
	default:
		return rag.NewMemoryStore(metric), closerFunc(func() error { return nil }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func withService(ctx context.Context, cfg *config.Config, fn func(*rag.Service) error) error {
	metric, err := vectorindex.ParseMetric(cfg.Search.Metric)
	if err != nil {
		return err
	}
	ch, err := newChunker(cfg)
	if err != nil {
		return err
	}
	batcher, err := newBatcher(cfg)
	if err != nil {
		return err
	}
	store, closer, err := openStore(ctx, cfg, metric)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}()

	opts := []rag.Option{}
	if cfg.LLM.Model != "" {
		llm, err := llmservice.New(cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create llm client: %w", err)
		}
		opts = append(opts, rag.WithGenerator(llm))
	}
	svc, err := rag.NewService(cfg.Search, ch, batcher, store, opts...)
	if err != nil {
		return err
	}
	return fn(svc)
}

func printHits(ctx context.Context, svc *rag.Service, ns, query string, k int) error {
	hits, err := svc.Retrieve(ctx, ns, query, k)
	if err != nil {
		return err
	}
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)
	for i, h := range hits {
		fmt.Printf("%d. [%s] page %d score %.4f (%s)\n%s\n\n",
			i+1, h.ChunkID, h.Page, h.Score, vectorindex.Quality(svc.Metric(), h.Score), h.Text)
	}
	if len(hits) == 0 {
		fmt.Println("No relevant chunks found.")
	}
	return nil
}

func printAnswer(ctx context.Context, svc *rag.Service, ns, query string) error {
	answer, err := svc.Answer(ctx, ns, query)
	if err != nil {
		return err
	}
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range answer.Sources {
		fmt.Printf("- %s page %d (%.4f)\n", s.DocumentName, s.Page, s.Score)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Content)
	return nil
}

func parseAndChunk(cfg *config.Config, filePath string) ([]models.Chunk, error) {
	pages, err := parser.ExtractPages(filePath)
	if err != nil {
		return nil, err
	}
	ch, err := newChunker(cfg)
	if err != nil {
		return nil, err
	}
	return ch.Chunk(filepath.Base(filePath), pages)
}

func dryRunChunks(cfg *config.Config, filePath string) error {
	chunks, err := parseAndChunk(cfg, filePath)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
	return nil
}

// compareMetrics builds a throwaway index over the document and ranks the
// query under every metric.
func compareMetrics(ctx context.Context, cfg *config.Config, filePath, query string, k int) error {
	chunks, err := parseAndChunk(cfg, filePath)
	if err != nil {
		return err
	}
	batcher, err := newBatcher(cfg)
	if err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	ix, err := vectorindex.BuildFromTexts(ctx, batcher, texts)
	if err != nil {
		return err
	}
	if k <= 0 {
		k = cfg.Search.DefaultK
	}
	comparisons, err := ix.CompareMetrics(ctx, query, k)
	if err != nil {
		return err
	}

	// the index is keyed by chunk text
	byText := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byText[c.Text] = c
	}
	for _, c := range comparisons {
		fmt.Printf("%-12s range %-14s top %.4f %-10s %s\n", c.Metric, c.Metric.Range(), c.TopScore, c.Quality, c.Elapsed)
		for _, r := range c.Results {
			ch := byText[r.Key]
			fmt.Printf("    %.4f  page %d  %s\n", r.Score, ch.Page, ch.ChunkID)
		}
	}
	return nil
}
