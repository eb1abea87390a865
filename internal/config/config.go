// Package config loads labtree configuration from environment and file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted for LLM backends.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`

	// LLM providers
	PrimaryProvider  string `yaml:"primary_provider"`
	FallbackProvider string `yaml:"fallback_provider"`
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	OpenAIModel      string `yaml:"openai_model"`
	AnthropicModel   string `yaml:"anthropic_model"`
	OllamaHost       string `yaml:"ollama_host"`
	OllamaModel      string `yaml:"ollama_model"`
	BedrockModel     string `yaml:"bedrock_model"`

	// Embeddings
	EmbedModel     string `yaml:"embed_model"`
	EmbedDimension int    `yaml:"embed_dimension"`

	// Pipeline tuning
	BatchSize            int           `yaml:"batch_size"`
	BatchDelay           time.Duration `yaml:"batch_delay"`
	ExtractionTimeout    time.Duration `yaml:"extraction_timeout"`
	HierarchicalEnabled  bool          `yaml:"hierarchical_enabled"`
	TargetBlockCount     int           `yaml:"target_block_count"`
	NestedScoreThreshold int           `yaml:"nested_score_threshold"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration: defaults, then an optional YAML file at
// LABTREE_CONFIG, then environment variables (env wins).
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("LABTREE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "labtree",
		SurrealDBDatabase:  "workflows",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",

		PrimaryProvider:  ProviderOpenAI,
		FallbackProvider: ProviderAnthropic,
		OpenAIModel:      "gpt-4o",
		AnthropicModel:   "claude-sonnet-4-20250514",
		OllamaHost:       "http://localhost:11434",
		OllamaModel:      "llama3.1",
		BedrockModel:     "anthropic.claude-3-5-sonnet-20240620-v1:0",

		EmbedModel:     "text-embedding-3-small",
		EmbedDimension: 1536,

		BatchSize:            5,
		BatchDelay:           2 * time.Second,
		ExtractionTimeout:    4 * time.Minute,
		TargetBlockCount:     5,
		NestedScoreThreshold: 8,

		LogFile:  "/tmp/labtree.log",
		LogLevel: slog.LevelInfo,
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.SurrealDBURL, "SURREALDB_URL")
	setString(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	setString(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE")
	setString(&cfg.SurrealDBUser, "SURREALDB_USER")
	setString(&cfg.SurrealDBPass, "SURREALDB_PASS")

	setString(&cfg.PrimaryProvider, "LABTREE_PRIMARY_PROVIDER")
	setString(&cfg.FallbackProvider, "LABTREE_FALLBACK_PROVIDER")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.OpenAIModel, "LABTREE_OPENAI_MODEL")
	setString(&cfg.AnthropicModel, "LABTREE_ANTHROPIC_MODEL")
	setString(&cfg.OllamaHost, "OLLAMA_HOST")
	setString(&cfg.OllamaModel, "LABTREE_OLLAMA_MODEL")
	setString(&cfg.BedrockModel, "LABTREE_BEDROCK_MODEL")

	setString(&cfg.EmbedModel, "LABTREE_EMBED_MODEL")
	setInt(&cfg.EmbedDimension, "LABTREE_EMBED_DIMENSION")

	setInt(&cfg.BatchSize, "LABTREE_BATCH_SIZE")
	setDuration(&cfg.BatchDelay, "LABTREE_BATCH_DELAY")
	setDuration(&cfg.ExtractionTimeout, "LABTREE_EXTRACTION_TIMEOUT")
	setInt(&cfg.TargetBlockCount, "LABTREE_TARGET_BLOCKS")
	setInt(&cfg.NestedScoreThreshold, "LABTREE_NESTED_THRESHOLD")

	if v := os.Getenv("LABTREE_HIERARCHICAL"); v != "" {
		cfg.HierarchicalEnabled = v == "true" || v == "1"
	}

	setString(&cfg.LogFile, "LABTREE_LOG_FILE")
	if v := os.Getenv("LABTREE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
}

// ErrNoCredentials is returned when no LLM API key is configured.
var ErrNoCredentials = fmt.Errorf("no LLM credentials: set OPENAI_API_KEY or ANTHROPIC_API_KEY")

// Validate checks that the configuration can drive an extraction run.
// Credential absence is fatal before any document is touched.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" && c.AnthropicAPIKey == "" {
		return ErrNoCredentials
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive, got %s", c.ExtractionTimeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
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
