package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the maomao server configuration.
type Config struct {
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Search      SearchConfig      `yaml:"search"`
	Project     ProjectConfig     `yaml:"project"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
	Env   string `yaml:"env"`   // local, dev, docker, prod
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Transport       string `yaml:"transport"` // stdio, http
	HTTPPort        int    `yaml:"http_port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	// APIKeys enables bearer auth on the HTTP transport. Empty disables it.
	APIKeys []string `yaml:"api_keys"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Driver           string         `yaml:"driver"` // qdrant, redis, valkey, pgvector
	Collection       string         `yaml:"collection"`
	TimeoutSec       int            `yaml:"timeout_sec"`
	ContextScanLimit int            `yaml:"context_scan_limit"`
	Qdrant           QdrantConfig   `yaml:"qdrant"`
	Redis            RedisConfig    `yaml:"redis"`
	Pgvector         PgvectorConfig `yaml:"pgvector"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// PgvectorConfig holds Postgres connection settings.
type PgvectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider         string      `yaml:"provider"` // ollama, openai
	BaseURL          string      `yaml:"base_url"`
	Model            string      `yaml:"model"`
	Dimension        int         `yaml:"dimension"`
	APIKey           string      `yaml:"api_key"`
	TimeoutSec       int         `yaml:"timeout_sec"`
	BatchConcurrency int         `yaml:"batch_concurrency"`
	Cache            CacheConfig `yaml:"cache"`
	// RequestDimensions sends the dimension upstream (OpenAI text-embedding-3 models).
	RequestDimensions bool `yaml:"request_dimensions"`
	// QueryInstruction is prepended to every query, e.g. "search_query: ".
	QueryInstruction string `yaml:"query_instruction"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Driver   string `yaml:"driver"` // "", none, memory, redis, bolt
	Path     string `yaml:"path"`
	TTLHours int    `yaml:"ttl_hours"`
	Size     int    `yaml:"size"` // memory driver capacity
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	DefaultLimit int      `yaml:"default_limit"`
	MaxLimit     int      `yaml:"max_limit"`
	MinScore     *float64 `yaml:"min_score"` // nil means default; 0 disables the threshold
	ContextLines int      `yaml:"context_lines"`
}

// ProjectConfig holds project resolution settings.
type ProjectConfig struct {
	DefaultProjectID string `yaml:"default_project_id"`
}

// Load resolves configuration: YAML file, then MAOMAO_* environment overrides,
// then defaults. An empty path triggers the standard lookup; no file found
// means defaults only.
func Load(path string) (Config, error) {
	// .env is optional; existing environment wins.
	_ = godotenv.Load()

	var cfg Config

	configPath, err := findConfigPath(path)
	if err != nil {
		return Config{}, err
	}
	if configPath != "" {
		data, err := os.ReadFile(filepath.Clean(configPath))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}

		// Substitute env variables of the form ${VAR}
		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// applyEnv overlays MAOMAO_* variables onto values read from the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.VectorStore.Driver, "MAOMAO_VECTOR_DRIVER")
	setString(&c.VectorStore.Qdrant.Host, "MAOMAO_QDRANT_HOST")
	setString(&c.VectorStore.Collection, "MAOMAO_QDRANT_COLLECTION")
	setString(&c.Embedding.Provider, "MAOMAO_EMBEDDING_PROVIDER")
	setString(&c.Embedding.BaseURL, "MAOMAO_OLLAMA_BASE_URL")
	setString(&c.Embedding.Model, "MAOMAO_OLLAMA_MODEL")
	setString(&c.Embedding.APIKey, "MAOMAO_EMBEDDING_API_KEY")
	setString(&c.Project.DefaultProjectID, "MAOMAO_PROJECT_ID")
	setString(&c.Logging.Level, "MAOMAO_LOG_LEVEL")
	setString(&c.Logging.Env, "ENV")

	if v := getenv("MAOMAO_API_KEYS"); v != "" {
		c.Server.APIKeys = strings.Split(v, ",")
	}

	if v := getenv("MAOMAO_QDRANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAOMAO_QDRANT_PORT: %w", err)
		}
		c.VectorStore.Qdrant.Port = port
	}
	return nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = "qdrant"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "maomao_knowledge"
	}
	if c.VectorStore.TimeoutSec <= 0 {
		c.VectorStore.TimeoutSec = 10
	}
	if c.VectorStore.ContextScanLimit <= 0 {
		c.VectorStore.ContextScanLimit = 256
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "127.0.0.1"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if len(c.VectorStore.Redis.Addrs) == 0 {
		c.VectorStore.Redis.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.VectorStore.Redis.KeyPrefix == "" {
		c.VectorStore.Redis.KeyPrefix = "maomao:"
	}
	if c.VectorStore.Pgvector.Table == "" {
		c.VectorStore.Pgvector.Table = "knowledge_chunks"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = "http://127.0.0.1:11434"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "bge-m3"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1024
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 60
	}
	if c.Embedding.BatchConcurrency == 0 {
		c.Embedding.BatchConcurrency = 10
	}
	if c.Embedding.Cache.Path == "" {
		c.Embedding.Cache.Path = filepath.Join(homeDir(), ".maomao", "embeddings.db")
	}
	if c.Embedding.Cache.TTLHours <= 0 {
		c.Embedding.Cache.TTLHours = 168
	}
	if c.Embedding.Cache.Size <= 0 {
		c.Embedding.Cache.Size = 10000
	}

	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 100
	}
	if c.Search.MinScore == nil {
		minScore := 0.5
		c.Search.MinScore = &minScore
	}

	if c.Project.DefaultProjectID == "" {
		c.Project.DefaultProjectID = cwdBase()
	}

	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8765
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 10
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 90
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = 10
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.VectorStore.Driver {
	case "qdrant", "redis", "valkey":
	case "pgvector":
		if c.VectorStore.Pgvector.DSN == "" {
			return errors.New("vector_store.pgvector.dsn is required for the pgvector driver")
		}
	default:
		return fmt.Errorf("vector_store.driver must be qdrant, redis, valkey or pgvector, got %q", c.VectorStore.Driver)
	}
	if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
		return fmt.Errorf("vector_store.qdrant.port must be between 1 and 65535, got %d", c.VectorStore.Qdrant.Port)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("embedding.provider must be ollama or openai, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchConcurrency <= 0 {
		return fmt.Errorf("embedding.batch_concurrency must be positive, got %d", c.Embedding.BatchConcurrency)
	}
	switch c.Embedding.Cache.Driver {
	case "", "none", "memory", "redis", "bolt":
	default:
		return fmt.Errorf("embedding.cache.driver must be none, memory, redis or bolt, got %q", c.Embedding.Cache.Driver)
	}

	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MinScore == nil {
		return errors.New("search.min_score is not set")
	}
	if *c.Search.MinScore < 0 || *c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be within [0, 1], got %g", *c.Search.MinScore)
	}
	if c.Search.ContextLines < 0 {
		return fmt.Errorf("search.context_lines must not be negative, got %d", c.Search.ContextLines)
	}

	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.transport must be stdio or http, got %q", c.Server.Transport)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.HTTPPort)
	}
	return nil
}

// findConfigPath locates the config file. An explicit path must exist;
// otherwise MAOMAO_CONFIG and the well-known locations are tried in order.
func findConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("config file %s: %w", explicit, fs.ErrNotExist)
		}
		return explicit, nil
	}
	if env := os.Getenv("MAOMAO_CONFIG"); env != "" {
		if !fileExists(env) {
			return "", fmt.Errorf("MAOMAO_CONFIG %s: %w", env, fs.ErrNotExist)
		}
		return env, nil
	}

	candidates := []string{"maomao.yaml", ".maomao.yaml"}
	if home := homeDir(); home != "" {
		candidates = append(candidates, filepath.Join(home, ".maomao.yaml"))
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func cwdBase() string {
	wd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	return filepath.Base(wd)
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
