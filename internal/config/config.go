package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBatchSize   = 1024
	DefaultConcurrency = 8
	DefaultChunkSize   = 500
	DefaultOverlapSize = 50
	DefaultEncoding    = "cl100k_base"
	DefaultK           = 5
	DefaultModel       = "text-embedding-3-small"
	DefaultDimensions  = 1536
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EmbeddingConfig configures the embedding provider and the batcher in front of it.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Sequential  bool          `yaml:"sequential"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ChunkingConfig struct {
	ChunkSize   int    `yaml:"chunk_size"`
	OverlapSize int    `yaml:"overlap_size"`
	Encoding    string `yaml:"encoding"`
}

// SearchConfig holds retrieval defaults. Thresholds are keyed by metric name
// (cosine, euclidean, manhattan, dot_product).
type SearchConfig struct {
	DefaultK   int                `yaml:"default_k"`
	Metric     string             `yaml:"metric"`
	Thresholds map[string]float64 `yaml:"thresholds"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Driver     string `yaml:"driver"`
	Dimensions int    `yaml:"dimensions"`
	Debug      bool   `yaml:"debug"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Dimensions int    `yaml:"dimensions"`
}

type StoreConfig struct {
	Type            string         `yaml:"type"`
	NamespacePrefix string         `yaml:"namespace_prefix"`
	Chromem         ChromemConfig  `yaml:"chromem"`
	Database        DatabaseConfig `yaml:"database"`
	Qdrant          QdrantConfig   `yaml:"qdrant"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Store     StoreConfig     `yaml:"store"`
	LLM       LLMConfig       `yaml:"llm"`
}

var (
	validProviders = map[string]bool{"openai": true, "openai-compatible": true, "ollama": true}
	validStores    = map[string]bool{"memory": true, "chromem": true, "pgvector": true, "qdrant": true}
	validMetrics   = map[string]bool{"cosine": true, "euclidean": true, "manhattan": true, "dot_product": true}
)

// LoadConfig reads the YAML file at path, overlays secrets from .env and the
// environment, fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Store.Qdrant.APIKey == "" {
		cfg.Store.Qdrant.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	if cfg.Store.Database.Password == "" {
		cfg.Store.Database.Password = os.Getenv("DATABASE_PASSWORD")
	}
	if cfg.LLM.Key == "" {
		cfg.LLM.Key = os.Getenv("LLM_API_KEY")
	}
}

// ApplyDefaults fills zero values, so a YAML 0 behaves like an absent key.
// Explicitly invalid values are left alone so that Validate can report them.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultModel
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = DefaultBatchSize
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = DefaultConcurrency
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = DefaultChunkSize
	}
	if cfg.Chunking.OverlapSize == 0 {
		cfg.Chunking.OverlapSize = DefaultOverlapSize
	}
	if cfg.Chunking.Encoding == "" {
		cfg.Chunking.Encoding = DefaultEncoding
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = DefaultK
	}
	if cfg.Search.Metric == "" {
		cfg.Search.Metric = "cosine"
	}
	if cfg.Search.Thresholds == nil {
		cfg.Search.Thresholds = map[string]float64{}
	}
	for name, v := range map[string]float64{"cosine": 0.4, "dot_product": 0.4, "euclidean": 1.1, "manhattan": 40} {
		if _, ok := cfg.Search.Thresholds[name]; !ok {
			cfg.Search.Thresholds[name] = v
		}
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Store.Chromem.Path == "" {
		cfg.Store.Chromem.Path = "./chromemdb"
	}
	if cfg.Store.Database.Driver == "" {
		cfg.Store.Database.Driver = "pgdriver"
	}
	if cfg.Store.Database.Dimensions == 0 {
		cfg.Store.Database.Dimensions = DefaultDimensions
	}
	if cfg.Store.Qdrant.Host == "" {
		cfg.Store.Qdrant.Host = "localhost"
	}
	if cfg.Store.Qdrant.Port == 0 {
		cfg.Store.Qdrant.Port = 6334
	}
	if cfg.Store.Qdrant.Dimensions == 0 {
		cfg.Store.Qdrant.Dimensions = DefaultDimensions
	}
}

// Validate reports configuration errors. None of them are defaulted away.
func (c *Config) Validate() error {
	var errs []error
	if !validProviders[c.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("embedding.api_key is required (or set OPENAI_API_KEY)"))
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("embedding.concurrency must not be negative, got %d", c.Embedding.Concurrency))
	}
	if err := c.Chunking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Search.DefaultK < 1 {
		errs = append(errs, fmt.Errorf("search.default_k must be positive, got %d", c.Search.DefaultK))
	}
	if !validMetrics[c.Search.Metric] {
		errs = append(errs, fmt.Errorf("search.metric %q is not supported", c.Search.Metric))
	}
	for name := range c.Search.Thresholds {
		if !validMetrics[name] {
			errs = append(errs, fmt.Errorf("search.thresholds: unknown metric %q", name))
		}
	}
	if !validStores[c.Store.Type] {
		errs = append(errs, fmt.Errorf("store.type %q is not supported", c.Store.Type))
	}
	if c.Store.Type == "pgvector" && c.Store.Database.DSN == "" {
		errs = append(errs, errors.New("store.database.dsn is required for pgvector"))
	}
	if c.Store.Type == "chromem" && c.Search.Metric != "cosine" {
		errs = append(errs, fmt.Errorf("store chromem only ranks by cosine, search.metric is %q", c.Search.Metric))
	}
	return errors.Join(errs...)
}

// Validate checks the chunk budget.
func (c ChunkingConfig) Validate() error {
	switch {
	case c.ChunkSize < 1:
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.ChunkSize)
	case c.OverlapSize < 0:
		return fmt.Errorf("chunking.overlap_size must not be negative, got %d", c.OverlapSize)
	case c.OverlapSize >= c.ChunkSize:
		return fmt.Errorf("chunking.overlap_size (%d) must be smaller than chunk_size (%d)", c.OverlapSize, c.ChunkSize)
	}
	return nil
}

// Threshold returns the relevance threshold for a metric name.
func (s SearchConfig) Threshold(metric string) (float64, bool) {
	v, ok := s.Thresholds[strings.ToLower(metric)]
	return v, ok
}
