package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	ChunkStorePostgres = "postgres"
	ChunkStoreWeaviate = "weaviate"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"finsight"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"finsight"`

	ChunkStore     string `envconfig:"CHUNK_STORE" default:"postgres"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker  bool   `envconfig:"ENABLE_WORKER" default:"true"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Providers
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	SimpleModel    string `envconfig:"SIMPLE_MODEL" default:"gemini-1.5-flash"`
	ComplexModel   string `envconfig:"COMPLEX_MODEL" default:"gemini-1.5-pro"`

	// Chunking and retrieval
	ChunkMaxWords       int     `envconfig:"CHUNK_MAX_WORDS" default:"500"`
	ChunkOverlapLines   int     `envconfig:"CHUNK_OVERLAP_LINES" default:"3"`
	SimilarityThreshold float32 `envconfig:"SIMILARITY_THRESHOLD" default:"0.6"`
	SearchTopK          int     `envconfig:"SEARCH_TOP_K" default:"15"`
	FocusedTopK         int     `envconfig:"FOCUSED_TOP_K" default:"5"`
	ContextCharBudget   int     `envconfig:"CONTEXT_CHAR_BUDGET" default:"600"`

	// Ingestion
	EmbedConcurrency   int     `envconfig:"EMBED_CONCURRENCY" default:"1"`
	EmbedRatePerSecond float64 `envconfig:"EMBED_RATE_PER_SECOND" default:"5"`
	// A processing claim not refreshed for this long is taken over by the
	// next worker. Running workers refresh it at a third of this interval.
	SnapshotStaleAfterSeconds int `envconfig:"SNAPSHOT_STALE_AFTER_SECONDS" default:"900"`

	// Chat
	HistoryLimit        int    `envconfig:"HISTORY_LIMIT" default:"20"`
	QueryTimeoutSeconds int    `envconfig:"QUERY_TIMEOUT_SECONDS" default:"20"`
	RecorderQueueSize   int    `envconfig:"RECORDER_QUEUE_SIZE" default:"256"`
	RecorderWorkers     int    `envconfig:"RECORDER_WORKERS" default:"4"`
	CurrencySymbol      string `envconfig:"CURRENCY_SYMBOL" default:"₹"`
	NumberLocale        string `envconfig:"NUMBER_LOCALE" default:"en-IN"`
	AssistantName       string `envconfig:"ASSISTANT_NAME" default:"Finsight"`
	DeveloperCredit     string `envconfig:"DEVELOPER_CREDIT" default:"the committee's volunteer engineering team"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkStore != ChunkStorePostgres && c.ChunkStore != ChunkStoreWeaviate {
		return fmt.Errorf("%w: CHUNK_STORE=%q", ErrInvalidValue, c.ChunkStore)
	}
	if c.ChunkMaxWords <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_WORDS must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlapLines < 0 || c.ChunkOverlapLines >= c.ChunkMaxWords {
		return fmt.Errorf("%w: CHUNK_OVERLAP_LINES", ErrInvalidValue)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be within [-1, 1]", ErrInvalidValue)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: HISTORY_LIMIT must be positive", ErrInvalidValue)
	}
	return nil
}

// QueryTimeout is the overall budget for one chat answer.
func (c *Config) QueryTimeout() time.Duration {
	if c.QueryTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// StaleAfter is how long a processing claim may go unrefreshed.
func (c *Config) StaleAfter() time.Duration {
	if c.SnapshotStaleAfterSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SnapshotStaleAfterSeconds) * time.Second
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
