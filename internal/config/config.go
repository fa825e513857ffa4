package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Collection backends.
const (
	BackendFlat   = "flat"
	BackendRemote = "remote"
)

// Embedding cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds the vecfuse configuration.
type Config struct {
	HTTP        HTTPConfig         `yaml:"http"`
	Database    DatabaseConfig     `yaml:"database"`
	Storage     StorageConfig      `yaml:"storage"`
	Embedding   EmbeddingConfig    `yaml:"embedding"`
	Rerank      RerankConfig       `yaml:"rerank"`
	Index       IndexConfig        `yaml:"index"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Collections []CollectionConfig `yaml:"collections"`
	Evaluation  EvaluationConfig   `yaml:"evaluation"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// CORSOrigins enables CORS for these origins; empty disables it.
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds remote vector store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds key layout and flat file settings.
type StorageConfig struct {
	KeyPrefix     string `yaml:"key_prefix"`
	FlatDir       string `yaml:"flat_dir"`
	FlatCacheSize int    `yaml:"flat_cache_size"` // parsed collections kept in memory
}

// EmbeddingConfig holds query embedding settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	TimeoutSec       int    `yaml:"timeout_sec"`
	CacheBackend     string `yaml:"cache_backend"` // memory, redis, none
	CacheSize        int    `yaml:"cache_size"`
	CacheTTLSec      int    `yaml:"cache_ttl_sec"`
}

// RerankConfig holds relevance model settings.
type RerankConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Workers    int    `yaml:"workers"`
	Batch      bool   `yaml:"batch"` // one request for all candidates
}

// IndexConfig holds remote vector index settings.
type IndexConfig struct {
	Algorithm       string `yaml:"algorithm"` // hnsw, flat
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// PipelineConfig holds query defaults.
type PipelineConfig struct {
	Fuse            bool     `yaml:"fuse"`
	FuseTopK        int      `yaml:"fuse_top_k"`
	Threshold       *float64 `yaml:"threshold"`
	DisplayCount    int      `yaml:"display_count"`
	BranchTimeoutMS int      `yaml:"branch_timeout_ms"`
}

// CollectionConfig describes one searchable collection.
type CollectionConfig struct {
	Name        string `yaml:"name"`
	Backend     string `yaml:"backend"` // flat, remote
	Source      string `yaml:"source"`  // fusion label, defaults to name
	EntityField string `yaml:"entity_field"`
	Dimensions  int    `yaml:"dimensions"`
	Limit       int    `yaml:"limit"`
}

// EvaluationConfig holds batch evaluation settings.
type EvaluationConfig struct {
	Queries    []string `yaml:"queries"`
	PrintCount int      `yaml:"print_count"`
	SearchEach int      `yaml:"search_each"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
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

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "vecfuse:"
	}
	if c.Storage.FlatDir == "" {
		c.Storage.FlatDir = "data"
	}
	if c.Storage.FlatCacheSize <= 0 {
		c.Storage.FlatCacheSize = 8
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.CacheBackend == "" {
		c.Embedding.CacheBackend = CacheMemory
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 1024
	}
	if c.Rerank.TimeoutSec <= 0 {
		c.Rerank.TimeoutSec = 30
	}
	if c.Rerank.Workers <= 0 {
		c.Rerank.Workers = 4
	}
	if c.Index.Algorithm == "" {
		c.Index.Algorithm = "hnsw"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Pipeline.FuseTopK <= 0 {
		c.Pipeline.FuseTopK = 60
	}
	if c.Pipeline.Threshold == nil {
		t := 0.40
		c.Pipeline.Threshold = &t
	}
	if c.Pipeline.DisplayCount <= 0 {
		c.Pipeline.DisplayCount = 10
	}
	if c.Pipeline.BranchTimeoutMS <= 0 {
		c.Pipeline.BranchTimeoutMS = 5000
	}
	for i := range c.Collections {
		col := &c.Collections[i]
		if col.Backend == "" {
			col.Backend = BackendFlat
		}
		if col.Source == "" {
			col.Source = col.Name
		}
		if col.EntityField == "" {
			col.EntityField = "vendor_id"
		}
		if col.Dimensions <= 0 {
			col.Dimensions = c.Embedding.Dimensions
		}
		if col.Limit <= 0 {
			col.Limit = 60
		}
	}
	if c.Evaluation.PrintCount <= 0 {
		c.Evaluation.PrintCount = 5
	}
	if c.Evaluation.SearchEach <= 0 {
		c.Evaluation.SearchEach = max(10, c.Evaluation.PrintCount)
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collections: name is required")
		}
		if seen[col.Name] {
			return fmt.Errorf("collections: duplicate name %q", col.Name)
		}
		seen[col.Name] = true
		switch col.Backend {
		case BackendFlat:
		case BackendRemote:
			if len(c.Database.Addrs) == 0 {
				return fmt.Errorf("collections.%s: remote backend requires database.addrs", col.Name)
			}
		default:
			return fmt.Errorf("collections.%s.backend must be %q or %q, got %q",
				col.Name, BackendFlat, BackendRemote, col.Backend)
		}
	}
	switch c.Embedding.CacheBackend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("embedding.cache_backend %q requires database.addrs", CacheRedis)
		}
	default:
		return fmt.Errorf("embedding.cache_backend must be memory, redis or none, got %q", c.Embedding.CacheBackend)
	}
	switch c.Index.Algorithm {
	case "hnsw", "flat":
	default:
		return fmt.Errorf("index.algorithm must be \"hnsw\" or \"flat\", got %q", c.Index.Algorithm)
	}
	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return fmt.Errorf("rerank.base_url is required when rerank is enabled")
	}
	return nil
}

// Collection returns the named collection config.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// CollectionNames returns configured collection names in declaration order.
func (c *Config) CollectionNames() []string {
	names := make([]string, len(c.Collections))
	for i, col := range c.Collections {
		names[i] = col.Name
	}
	return names
}

// UsesRemote reports whether anything needs the remote database.
func (c *Config) UsesRemote() bool {
	if c.Embedding.CacheBackend == CacheRedis {
		return true
	}
	for _, col := range c.Collections {
		if col.Backend == BackendRemote {
			return true
		}
	}
	return false
}

// BranchTimeout returns the per-collection search timeout.
func (c *PipelineConfig) BranchTimeout() time.Duration {
	return time.Duration(c.BranchTimeoutMS) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
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
