package configs

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	HTTPPort int `env:"RECALL_PORT" envDefault:"8080"`

	// Database (required, no default)
	DBPostgresqlWriteDSN string `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`

	EmbeddingServiceURL     string        `env:"EMBEDDING_SERVICE_URL" envDefault:"http://localhost:8091"`
	EmbeddingCacheType      string        `env:"EMBEDDING_CACHE_TYPE" envDefault:"memory"`
	EmbeddingCacheTTL       time.Duration `env:"EMBEDDING_CACHE_TTL" envDefault:"1h"`
	EmbeddingCacheMaxSize   int           `env:"EMBEDDING_CACHE_MAX_SIZE" envDefault:"10000"`
	EmbeddingCacheRedisURL  string        `env:"EMBEDDING_CACHE_REDIS_URL" envDefault:"redis://redis:6379/3"`
	EmbeddingCacheKeyPrefix string        `env:"EMBEDDING_CACHE_KEY_PREFIX" envDefault:"emb:"`

	ValidateEmbedding        bool          `env:"VALIDATE_EMBEDDING_ON_START" envDefault:"true"`
	ValidateEmbeddingTimeout time.Duration `env:"VALIDATE_EMBEDDING_TIMEOUT" envDefault:"10s"`

	EmbeddingBatchSize   int           `env:"EMBEDDING_BATCH_SIZE" envDefault:"16"`
	EmbeddingBatchWindow time.Duration `env:"EMBEDDING_BATCH_WINDOW" envDefault:"25ms"`

	// Distributed write locks. Empty URL falls back to in-process locking.
	LockRedisURL string        `env:"LOCK_REDIS_URL"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"10s"`

	// Model fallback for low-confidence classification. Empty base URL
	// disables the fallback and the rule floor category applies.
	FallbackLLMBaseURL string `env:"FALLBACK_LLM_BASE_URL"`
	FallbackLLMAPIKey  string `env:"FALLBACK_LLM_API_KEY"`
	FallbackLLMModel   string `env:"FALLBACK_LLM_MODEL" envDefault:"gpt-4o-mini"`

	RetrievalTopK           int           `env:"RETRIEVAL_TOP_K" envDefault:"10"`
	RetrievalCandidateLimit int           `env:"RETRIEVAL_CANDIDATE_LIMIT" envDefault:"50"`
	RetrievalEmbedTimeout   time.Duration `env:"RETRIEVAL_EMBED_TIMEOUT" envDefault:"2s"`

	TierPromotionWindow   time.Duration `env:"TIER_PROMOTION_WINDOW" envDefault:"72h"`
	TierWorkingCapacity   int           `env:"TIER_WORKING_CAPACITY" envDefault:"200"`
	TierShortTermCapacity int           `env:"TIER_SHORT_TERM_CAPACITY" envDefault:"1000"`
	TierWorkingMaxAge     time.Duration `env:"TIER_WORKING_MAX_AGE" envDefault:"336h"`

	SweepEnabled         bool `env:"SWEEP_ENABLED" envDefault:"true"`
	SweepIntervalMinutes int  `env:"SWEEP_INTERVAL_MINUTES" envDefault:"5"`
	BackfillEnabled      bool `env:"BACKFILL_ENABLED" envDefault:"true"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`

	APIKey string `env:"RECALL_API_KEY"`

	// PII handling for log output: none, hashed, or full.
	PIILevel      string `env:"PII_LEVEL" envDefault:"hashed"`
	TelemetrySalt string `env:"TELEMETRY_SALT"`

	ServiceName   string `env:"SERVICE_NAME" envDefault:"recall-server"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	OTLPEndpoint  string `env:"OTLP_ENDPOINT"`
	OTLPHeaders   string `env:"OTLP_HEADERS"`
	EnableTracing bool   `env:"ENABLE_TRACING" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.PIILevel = strings.ToLower(strings.TrimSpace(cfg.PIILevel))

	return cfg, nil
}

// GetDatabaseWriteDSN returns the write database connection string.
func (c *Config) GetDatabaseWriteDSN() string {
	return c.DBPostgresqlWriteDSN
}
