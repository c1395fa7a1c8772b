package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the image search tool.
type Config struct {
	Catalog   CatalogConfig   `yaml:"catalog"`
	Index     IndexConfig     `yaml:"index"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CatalogConfig holds Shopify catalog fetch configuration.
type CatalogConfig struct {
	Shop             string   `yaml:"shop"` // e.g. "my-store.myshopify.com"
	TokenEnv         string   `yaml:"token_env"`
	AdminTokenEnv    string   `yaml:"admin_token_env"`
	UseAdmin         bool     `yaml:"use_admin"` // Only honored when an admin token is present
	APIVersion       string   `yaml:"api_version"`
	PageSize         int      `yaml:"page_size"`
	ImagesPerProduct int      `yaml:"images_per_product"`
	MaxPages         int      `yaml:"max_pages"`
	IncludePaths     []string `yaml:"include_paths"` // doublestar patterns matched against the image URL path
	Output           string   `yaml:"output"`
	Mock             bool     `yaml:"mock"`
}

// IndexConfig holds indexing configuration.
type IndexConfig struct {
	ProductsFile         string `yaml:"products_file"`
	FallbackProductsFile string `yaml:"fallback_products_file"`
	StoreDomain          string `yaml:"store_domain"` // Public storefront domain used for CDN rewrites
	MaxItems             int    `yaml:"max_items"`    // 0 = no limit
	CheckpointEvery      int    `yaml:"checkpoint_every"`
	ProgressEvery        int    `yaml:"progress_every"`
	PseudoFallback       bool   `yaml:"pseudo_fallback"`
}

// FetchConfig holds image download configuration.
type FetchConfig struct {
	Attempts          int           `yaml:"attempts"`
	Timeout           time.Duration `yaml:"timeout"`
	Backoff           time.Duration `yaml:"backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	UserAgent         string        `yaml:"user_agent"`
}

// EmbeddingConfig holds embedding extractor configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "http", "mock"
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Pooling   string        `yaml:"pooling"`
	Normalize bool          `yaml:"normalize"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	Backend  string      `yaml:"backend"` // "file", "bolt", "minio"
	Path     string      `yaml:"path"`
	BoltPath string      `yaml:"bolt_path"`
	Codec    string      `yaml:"codec"` // "json", "msgpack"
	Compress bool        `yaml:"compress"`
	Minio    MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3-compatible object storage configuration.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// RetrieveConfig holds query-time configuration.
type RetrieveConfig struct {
	TopK      int           `yaml:"top_k"`
	Metric    string        `yaml:"metric"` // "cosine" (default) or "dot" for pre-normalized stores
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// MMR diversification; a zero lambda disables it.
	MMRLambda       float64 `yaml:"mmr_lambda"`
	DedupSimilarity float64 `yaml:"dedup_similarity"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
	AllowedOrigin string `yaml:"allowed_origin"`

	// AllowURLQueries lets clients send {"url": ...}; the extractor then
	// fetches that URL on their behalf.
	AllowURLQueries bool `yaml:"allow_url_queries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			TokenEnv:         "TOKEN",
			AdminTokenEnv:    "ADMIN_TOKEN",
			UseAdmin:         true,
			APIVersion:       "2024-01",
			PageSize:         250,
			ImagesPerProduct: 5,
			MaxPages:         200,
			IncludePaths:     []string{"**/products/**"},
			Output:           "products.fetched.json",
		},
		Index: IndexConfig{
			ProductsFile:         "products.fetched.json",
			FallbackProductsFile: "products.json",
			StoreDomain:          "thesverve.com",
			CheckpointEvery:      500,
			ProgressEvery:        10,
			PseudoFallback:       true,
		},
		Fetch: FetchConfig{
			Attempts:  3,
			Timeout:   15 * time.Second,
			Backoff:   time.Second,
			UserAgent: "Mozilla/5.0 (Shopify Image Indexer)",
		},
		Embedding: EmbeddingConfig{
			Provider:  "http",
			BaseURL:   "http://localhost:8000",
			Model:     "clip-vit-base-patch32",
			Dimension: 512,
			Pooling:   "mean",
			Normalize: true,
			Timeout:   60 * time.Second,
		},
		Store: StoreConfig{
			Backend:  "file",
			Path:     "vectors.json",
			BoltPath: filepath.Join(".imgsearch", "vectors.db"),
			Codec:    "json",
			Minio: MinioConfig{
				Key:          "vectors.json",
				AccessKeyEnv: "MINIO_ACCESS_KEY",
				SecretKeyEnv: "MINIO_SECRET_KEY",
				UseSSL:       true,
			},
		},
		Retrieve: RetrieveConfig{
			TopK:            12,
			Metric:          "cosine",
			CacheSize:       100,
			CacheTTL:        5 * time.Minute,
			DedupSimilarity: 0.98,
		},
		Server: ServerConfig{
			Addr:          ":3000",
			MaxBodyBytes:  10 << 20,
			AllowedOrigin: "*",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for imgsearch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "imgsearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".imgsearch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides configuration from the environment variables the
// indexing scripts have always honored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WRITE_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WRITE_EVERY %q: %w", v, err)
		}
		c.Index.CheckpointEvery = n
	}
	if v := os.Getenv("MAX_ITEMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_ITEMS %q: %w", v, err)
		}
		c.Index.MaxItems = n
	}
	if v := os.Getenv("MAX_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_PAGES %q: %w", v, err)
		}
		c.Catalog.MaxPages = n
	}
	if v := os.Getenv("EMBED_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EMBED_DIM %q: %w", v, err)
		}
		c.Embedding.Dimension = n
	}
	if os.Getenv("MOCK") == "1" {
		c.Embedding.Provider = "mock"
		c.Catalog.Mock = true
	}
	if v := os.Getenv("SHOP"); v != "" {
		c.Catalog.Shop = v
	}
	if os.Getenv("USE_ADMIN") == "0" {
		c.Catalog.UseAdmin = false
	}
	return nil
}

// Validate checks configuration values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Fetch.Attempts <= 0 {
		return fmt.Errorf("fetch.attempts must be positive, got %d", c.Fetch.Attempts)
	}
	switch c.Store.Backend {
	case "file", "bolt", "minio":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	switch c.Store.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported store codec: %s", c.Store.Codec)
	}
	if c.Retrieve.MMRLambda < 0 || c.Retrieve.MMRLambda > 1 {
		return fmt.Errorf("retrieve.mmr_lambda must be within [0, 1], got %g", c.Retrieve.MMRLambda)
	}
	switch c.Retrieve.Metric {
	case "cosine", "dot":
	default:
		return fmt.Errorf("unsupported retrieve metric: %s", c.Retrieve.Metric)
	}
	return nil
}

// StateDir returns the path to the tool's state directory.
func StateDir(dir string) string {
	return filepath.Join(dir, ".imgsearch")
}

// EnsureStateDir ensures the .imgsearch directory exists.
func EnsureStateDir(dir string) error {
	return os.MkdirAll(StateDir(dir), 0755)
}

// Resolve returns path unchanged if absolute, otherwise joined to dir.
func Resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
