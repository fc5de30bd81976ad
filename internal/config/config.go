package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int                 `json:"port" validate:"required,min=1,max=65535"`
	Database      DatabaseConfig      `json:"database"`
	LogConfig     logger.LogConfig    `json:"log_config"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Reranker      RerankerConfig      `json:"reranker"`
	LLM           LLMConfig           `json:"llm"`
	Chat          ChatConfig          `json:"chat"`
	DocumentStore DocumentStoreConfig `json:"document_store"`
	Jobs          JobsConfig          `json:"jobs"`
	CORSAllowlist []string            `json:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

const (
	RerankFallbackEmpty  = "empty"
	RerankFallbackRecall = "recall"
)

type RetrievalConfig struct {
	KRaw             int    `json:"k_raw"`
	KFinal           int    `json:"k_final"`
	RerankTimeoutSec int    `json:"rerank_timeout_sec"`
	RerankFallback   string `json:"rerank_fallback" validate:"omitempty,oneof=empty recall"`
}

type EmbeddingConfig struct {
	Provider        string      `json:"provider" validate:"required"`
	Model           string      `json:"model" validate:"required"`
	TimeoutSec      int         `json:"timeout_sec"`
	CacheSize       int         `json:"cache_size"`
	CacheTTLMinutes int         `json:"cache_ttl_minutes"`
	DBCache         bool        `json:"db_cache"`
	Data            interface{} `json:"data"`
}

type RerankerConfig struct {
	Providers []RerankerProviderConfig `json:"providers" validate:"required,min=1,dive"`
}

type RerankerProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider" validate:"required"`
	Model    string      `json:"model" validate:"required"`
	Data     interface{} `json:"data"`
}

type LLMConfig struct {
	Provider    string      `json:"provider" validate:"required"`
	Model       string      `json:"model" validate:"required"`
	Temperature float32     `json:"temperature" validate:"min=0,max=2"`
	TimeoutSec  int         `json:"timeout_sec"`
	Data        interface{} `json:"data"`
}

type ChatConfig struct {
	PromptFile        string `json:"prompt_file"`
	SerializeSessions bool   `json:"serialize_sessions"`
	RateLimitMs       int    `json:"rate_limit_ms"`
}

type DocumentStoreConfig struct {
	Type    string      `json:"type"`
	BaseDir string      `json:"base_dir"`
	Workers int         `json:"workers"`
	Data    interface{} `json:"data"`
}

type JobsConfig struct {
	EmbeddingCacheCleanup    string               `json:"embedding_cache_cleanup"`
	EmbeddingCacheMaxAgeDays int                  `json:"embedding_cache_max_age_days"`
	IngestSync               string               `json:"ingest_sync"`
	SyntheticProbe           SyntheticProbeConfig `json:"synthetic_probe"`
}

type SyntheticProbeConfig struct {
	Spec      string   `json:"spec"`
	Questions []string `json:"questions"`
}

// Load reads the JSON config at path. A .env file next to the working directory
// is loaded first so the file may reference ${VARS} such as API keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return Parse(raw)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references only. Any other '$' is kept as is.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func Parse(raw []byte) (*Config, error) {
	expanded := expandEnv(string(raw))
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(expanded))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Retrieval.KRaw <= 0 {
		cfg.Retrieval.KRaw = 20
	}
	if cfg.Retrieval.KFinal <= 0 {
		cfg.Retrieval.KFinal = 3
	}
	if cfg.Retrieval.RerankTimeoutSec <= 0 {
		cfg.Retrieval.RerankTimeoutSec = 30
	}
	if cfg.Retrieval.RerankFallback == "" {
		cfg.Retrieval.RerankFallback = RerankFallbackEmpty
	}
	if cfg.Embedding.TimeoutSec <= 0 {
		cfg.Embedding.TimeoutSec = 30
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 60
	}
	for i := range cfg.Reranker.Providers {
		if cfg.Reranker.Providers[i].Name == "" {
			cfg.Reranker.Providers[i].Name = cfg.Reranker.Providers[i].Provider
		}
	}
	if cfg.DocumentStore.Type == "" {
		cfg.DocumentStore.Type = "local"
	}
	if cfg.DocumentStore.Workers <= 0 {
		cfg.DocumentStore.Workers = 4
	}
	if cfg.Jobs.EmbeddingCacheCleanup == "" {
		cfg.Jobs.EmbeddingCacheCleanup = "0 3 * * *"
	}
	if cfg.Jobs.EmbeddingCacheMaxAgeDays <= 0 {
		cfg.Jobs.EmbeddingCacheMaxAgeDays = 30
	}
}
