// Package config loads the matchengine YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the matchengine service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Storage   StorageConfig   `yaml:"storage"`
	Workers   WorkersConfig   `yaml:"workers"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CacheConfig holds the Redis cache backend settings.
// The cache is optional: with no addrs the service runs uncached.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	EmbeddingTTLSec  int      `yaml:"embedding_ttl_sec"`
	ResultTTLSec     int      `yaml:"result_ttl_sec"`
	OpTimeoutMs      int      `yaml:"op_timeout_ms"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// IndexConfig selects and tunes the similarity index strategy.
type IndexConfig struct {
	Type            string `yaml:"type"` // flat, ivf, hnsw (default: flat)
	NList           int    `yaml:"nlist"`
	NProbe          int    `yaml:"nprobe"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
	HNSWEFSearch    int    `yaml:"hnsw_ef_search"`
}

// SearchConfig holds hybrid search policy values.
type SearchConfig struct {
	MinOverlap       float64 `yaml:"min_overlap"`       // keep a doc as an exact-match candidate
	StrongMatch      float64 `yaml:"strong_match"`      // short-circuit before embedding
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// StorageConfig holds on-disk persistence settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// WorkersConfig bounds CPU-heavy work (embedding calls, index rebuilds).
type WorkersConfig struct {
	Max int `yaml:"max"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Cache.EmbeddingTTLSec <= 0 {
		c.Cache.EmbeddingTTLSec = 24 * 3600
	}
	if c.Cache.ResultTTLSec <= 0 {
		c.Cache.ResultTTLSec = 3600
	}
	if c.Cache.OpTimeoutMs <= 0 {
		c.Cache.OpTimeoutMs = 250
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Index.Type == "" {
		c.Index.Type = "flat"
	}
	if c.Index.NList <= 0 {
		c.Index.NList = 100
	}
	if c.Index.NProbe <= 0 {
		c.Index.NProbe = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.HNSWEFSearch <= 0 {
		c.Index.HNSWEFSearch = 100
	}
	if c.Search.MinOverlap <= 0 {
		c.Search.MinOverlap = 0.3
	}
	if c.Search.StrongMatch <= 0 {
		c.Search.StrongMatch = 0.5
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 5
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 100
	}
	if c.Search.DefaultThreshold <= 0 {
		c.Search.DefaultThreshold = 0.3
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Workers.Max <= 0 {
		c.Workers.Max = runtime.NumCPU()
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Index.Type {
	case "flat", "ivf", "hnsw":
		// ok
	default:
		return fmt.Errorf("index.type must be flat, ivf or hnsw, got %q", c.Index.Type)
	}
	if c.Index.NProbe > c.Index.NList {
		return fmt.Errorf("index.nprobe (%d) must not exceed index.nlist (%d)", c.Index.NProbe, c.Index.NList)
	}
	if c.Search.MinOverlap > 1 || c.Search.StrongMatch > 1 {
		return fmt.Errorf("search.min_overlap and search.strong_match must be in (0, 1]")
	}
	if c.Search.StrongMatch < c.Search.MinOverlap {
		return fmt.Errorf("search.strong_match (%v) must not be below search.min_overlap (%v)",
			c.Search.StrongMatch, c.Search.MinOverlap)
	}
	if c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search.default_threshold must be in (0, 1], got %v", c.Search.DefaultThreshold)
	}
	if c.Embedding.Provider != "" && c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required when embedding.provider is set")
	}
	return nil
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
