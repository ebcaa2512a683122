// Package config holds application configuration loaded from the environment
// with an optional YAML file overlay.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an external model provider.
type Provider string

const (
	ProviderOllama     Provider = "ollama"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderBedrock    Provider = "bedrock"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint for OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds all configuration values.
type Config struct {
	// Server
	Host string
	Port int

	// Data storage
	DataDir string

	// SurrealDB connection (agent/document/conversation records)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// API keys
	OpenRouterAPIKey string
	OpenAIAPIKey     string

	// Embedding
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string

	// LLM
	LLMProvider  Provider
	DefaultModel string

	// RAG tuning
	ChunkSize       int
	ChunkOverlap    int
	TopKResults     int
	MaxContextChars int

	// External call bounds
	EmbedTimeout time.Duration
	LLMTimeout   time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables, then applies the YAML
// file named by RAGSERVE_CONFIG if set.
func Load() (Config, error) {
	cfg := Config{
		Host:    getEnv("RAGSERVE_HOST", "0.0.0.0"),
		Port:    getEnvInt("RAGSERVE_PORT", 8000),
		DataDir: getEnv("RAGSERVE_DATA_DIR", "./data"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "ragserve"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "agents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),

		EmbedProvider:  Provider(getEnv("RAGSERVE_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("RAGSERVE_EMBED_MODEL", "nomic-embed-text"),
		EmbedDimension: getEnvInt("RAGSERVE_EMBED_DIMENSION", 768),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),

		LLMProvider:  Provider(getEnv("RAGSERVE_LLM_PROVIDER", string(ProviderOpenRouter))),
		DefaultModel: getEnv("RAGSERVE_DEFAULT_MODEL", "openai/gpt-4o-mini"),

		ChunkSize:       getEnvInt("RAGSERVE_CHUNK_SIZE", 512),
		ChunkOverlap:    getEnvInt("RAGSERVE_CHUNK_OVERLAP", 50),
		TopKResults:     getEnvInt("RAGSERVE_TOP_K", 5),
		MaxContextChars: getEnvInt("RAGSERVE_MAX_CONTEXT_CHARS", 12000),

		EmbedTimeout: getEnvDuration("RAGSERVE_EMBED_TIMEOUT", 30*time.Second),
		LLMTimeout:   getEnvDuration("RAGSERVE_LLM_TIMEOUT", 2*time.Minute),

		LogFile:  getEnv("RAGSERVE_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("RAGSERVE_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("RAGSERVE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise fail deep inside the
// pipeline.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopKResults < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopKResults)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedDimension)
	}
	return nil
}

// IndexDir is the root directory for per-agent vector index files.
func (c Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// AgentsDir is the root directory for uploaded files, one subdirectory per agent.
func (c Config) AgentsDir() string {
	return filepath.Join(c.DataDir, "agents")
}

// EnsureDirectories creates the data directories if they do not exist.
func (c Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.IndexDir(), c.AgentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	return nil
}

// fileConfig is the YAML overlay shape. Pointer fields distinguish "absent"
// from zero values.
type fileConfig struct {
	Host             *string `yaml:"host"`
	Port             *int    `yaml:"port"`
	DataDir          *string `yaml:"data_dir"`
	OpenRouterAPIKey *string `yaml:"openrouter_api_key"`
	OpenAIAPIKey     *string `yaml:"openai_api_key"`
	EmbedProvider    *string `yaml:"embed_provider"`
	EmbedModel       *string `yaml:"embed_model"`
	EmbedDimension   *int    `yaml:"embed_dimension"`
	OllamaHost       *string `yaml:"ollama_host"`
	LLMProvider      *string `yaml:"llm_provider"`
	DefaultModel     *string `yaml:"default_model"`
	ChunkSize        *int    `yaml:"chunk_size"`
	ChunkOverlap     *int    `yaml:"chunk_overlap"`
	TopKResults      *int    `yaml:"top_k_results"`
	MaxContextChars  *int    `yaml:"max_context_chars"`
	LogFile          *string `yaml:"log_file"`
	LogLevel         *string `yaml:"log_level"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	setString(&c.Host, fc.Host)
	setInt(&c.Port, fc.Port)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.OpenRouterAPIKey, fc.OpenRouterAPIKey)
	setString(&c.OpenAIAPIKey, fc.OpenAIAPIKey)
	setString(&c.EmbedModel, fc.EmbedModel)
	setInt(&c.EmbedDimension, fc.EmbedDimension)
	setString(&c.OllamaHost, fc.OllamaHost)
	setString(&c.DefaultModel, fc.DefaultModel)
	setInt(&c.ChunkSize, fc.ChunkSize)
	setInt(&c.ChunkOverlap, fc.ChunkOverlap)
	setInt(&c.TopKResults, fc.TopKResults)
	setInt(&c.MaxContextChars, fc.MaxContextChars)
	setString(&c.LogFile, fc.LogFile)
	if fc.EmbedProvider != nil {
		c.EmbedProvider = Provider(*fc.EmbedProvider)
	}
	if fc.LLMProvider != nil {
		c.LLMProvider = Provider(*fc.LLMProvider)
	}
	if fc.LogLevel != nil {
		c.LogLevel = parseLogLevel(*fc.LogLevel)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
