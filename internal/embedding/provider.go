package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"policyrag/internal/config"
)

// NewProvider builds the embedding provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating embedding provider")

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg)
	case "openai-compatible":
		if cfg.APIKey == "" {
			return nil, errors.New("embedding: api key is required for openai-compatible provider")
		}
		return NewLangChainProvider(cfg.Timeout, func(model string) (embeddings.EmbedderClient, error) {
			opts := []openai.Option{
				openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
				openai.WithEmbeddingModel(model),
			}
			if cfg.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
			}
			return openai.New(opts...)
		}), nil
	case "ollama":
		return NewLangChainProvider(cfg.Timeout, func(model string) (embeddings.EmbedderClient, error) {
			opts := []ollama.Option{ollama.WithModel(model)}
			if cfg.BaseURL != "" {
				opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
			}
			return ollama.New(opts...)
		}), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// OpenAIProvider calls the OpenAI embeddings endpoint.
type OpenAIProvider struct {
	client  *goopenai.Client
	timeout time.Duration
}

func NewOpenAIProvider(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding: OPENAI_API_KEY is not set")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: goopenai.NewClientWithConfig(clientCfg), timeout: cfg.Timeout}, nil
}

func (p *OpenAIProvider) CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	// the API documents data in input order, but Index is authoritative
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i := range data {
		out[i] = data[i].Embedding
	}
	return out, nil
}

// LangChainProvider adapts langchaingo embedder clients. langchaingo binds
// the model at construction, so one client is kept per model.
type LangChainProvider struct {
	mu        sync.Mutex
	clients   map[string]embeddings.EmbedderClient
	newClient func(model string) (embeddings.EmbedderClient, error)
	timeout   time.Duration
}

func NewLangChainProvider(timeout time.Duration, newClient func(model string) (embeddings.EmbedderClient, error)) *LangChainProvider {
	return &LangChainProvider{
		clients:   make(map[string]embeddings.EmbedderClient),
		newClient: newClient,
		timeout:   timeout,
	}
}

func (p *LangChainProvider) client(model string) (embeddings.EmbedderClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[model]; ok {
		return c, nil
	}
	c, err := p.newClient(model)
	if err != nil {
		return nil, fmt.Errorf("init embedder for %s: %w", model, err)
	}
	p.clients[model] = c
	return c, nil
}

func (p *LangChainProvider) CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error) {
	c, err := p.client(model)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	return c.CreateEmbedding(ctx, texts)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
