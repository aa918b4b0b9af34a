// Package config loads the chat search service configuration from a YAML file
// with CS_* environment-variable overrides. Every subsystem (server, Postgres
// history source, Kafka sync events, Redis query cache, search limits, rate
// limiting, CORS, analytics, logging, tracing, metrics) has its own typed
// section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CS_"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Search    SearchConfig    `yaml:"search"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	CORS      CORSConfig      `yaml:"cors"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// PostgresConfig holds the connection parameters of the chat history
// database. The history source is only used when Enabled is set.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`

	// HandlerAttempts bounds retries of a chat-sync message that fails to
	// apply. Zero retries forever.
	HandlerAttempts int `yaml:"handlerAttempts"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ChatSync        string `yaml:"chatSync"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls query limits. A DefaultLimit of 0 returns every
// match, capped by MaxResults when that is positive.
type SearchConfig struct {
	MaxResults     int           `yaml:"maxResults"`
	DefaultLimit   int           `yaml:"defaultLimit"`
	SnippetContext int           `yaml:"snippetContext"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
}

// Ingestion modes.
const (
	IngestDirect = "direct"
	IngestKafka  = "kafka"
)

// IngestionConfig selects how the document endpoints apply writes. In direct
// mode they index synchronously; in kafka mode they publish chat-sync events
// and the consumer indexes them.
type IngestionConfig struct {
	Mode         string `yaml:"mode"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

// SyncConfig controls rebuilding the index from the history source.
type SyncConfig struct {
	ResyncOnStart    bool          `yaml:"resyncOnStart"`
	LoadTimeout      time.Duration `yaml:"loadTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay    time.Duration `yaml:"retryMaxDelay"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
}

// AnalyticsConfig controls search analytics. Events are always aggregated
// in memory; Publish forwards them to Kafka in batches and SnapshotInterval,
// when positive and Postgres is enabled, persists aggregates periodically.
type AnalyticsConfig struct {
	Publish          bool          `yaml:"publish"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	LatencyWindow    int           `yaml:"latencyWindow"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles request span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("search.defaultLimit must not be negative")
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.maxResults must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	switch c.Ingestion.Mode {
	case IngestDirect:
	case IngestKafka:
		if !c.Kafka.Enabled {
			return fmt.Errorf("ingestion.mode kafka requires kafka to be enabled")
		}
	default:
		return fmt.Errorf("ingestion.mode %q must be %q or %q", c.Ingestion.Mode, IngestDirect, IngestKafka)
	}
	if c.Analytics.Publish && !c.Kafka.Enabled {
		return fmt.Errorf("analytics.publish requires kafka to be enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rateLimit.requests and rateLimit.window must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "chats",
			User:            "chatsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "chat-search",
			Topics: KafkaTopics{
				ChatSync:        "chat-sync",
				AnalyticsEvents: "search-analytics",
			},
			HandlerAttempts: 5,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:     500,
			DefaultLimit:   0,
			SnippetContext: 50,
			QueryTimeout:   5 * time.Second,
		},
		Sync: SyncConfig{
			ResyncOnStart:    true,
			LoadTimeout:      time.Minute,
			MaxRetries:       3,
			RetryBaseDelay:   200 * time.Millisecond,
			RetryMaxDelay:    5 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
		Ingestion: IngestionConfig{
			Mode:         IngestDirect,
			MaxBodyBytes: 16 << 20,
		},
		Analytics: AnalyticsConfig{
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: 5 * time.Minute,
			LatencyWindow:    10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CS_* environment variables and overrides the
// corresponding config fields. Malformed numeric, boolean or duration values
// are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}
	e.int("SERVER_PORT", &cfg.Server.Port)
	e.duration("SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	e.bool("POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	e.string("POSTGRES_HOST", &cfg.Postgres.Host)
	e.int("POSTGRES_PORT", &cfg.Postgres.Port)
	e.string("POSTGRES_DATABASE", &cfg.Postgres.Database)
	e.string("POSTGRES_USER", &cfg.Postgres.User)
	e.string("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	e.string("POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	e.bool("KAFKA_ENABLED", &cfg.Kafka.Enabled)
	e.list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.string("KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)
	e.string("KAFKA_TOPIC_CHAT_SYNC", &cfg.Kafka.Topics.ChatSync)
	e.string("KAFKA_TOPIC_ANALYTICS", &cfg.Kafka.Topics.AnalyticsEvents)
	e.int("KAFKA_HANDLER_ATTEMPTS", &cfg.Kafka.HandlerAttempts)

	e.bool("REDIS_ENABLED", &cfg.Redis.Enabled)
	e.string("REDIS_ADDR", &cfg.Redis.Addr)
	e.string("REDIS_PASSWORD", &cfg.Redis.Password)
	e.duration("REDIS_CACHE_TTL", &cfg.Redis.CacheTTL)

	e.int("SEARCH_MAX_RESULTS", &cfg.Search.MaxResults)
	e.int("SEARCH_DEFAULT_LIMIT", &cfg.Search.DefaultLimit)
	e.int("SEARCH_SNIPPET_CONTEXT", &cfg.Search.SnippetContext)

	e.bool("SYNC_RESYNC_ON_START", &cfg.Sync.ResyncOnStart)
	e.duration("SYNC_LOAD_TIMEOUT", &cfg.Sync.LoadTimeout)

	e.bool("RATELIMIT_ENABLED", &cfg.RateLimit.Enabled)
	e.int("RATELIMIT_REQUESTS", &cfg.RateLimit.Requests)
	e.duration("RATELIMIT_WINDOW", &cfg.RateLimit.Window)

	e.list("CORS_ALLOW_ORIGINS", &cfg.CORS.AllowOrigins)

	e.string("INGESTION_MODE", &cfg.Ingestion.Mode)
	e.bool("ANALYTICS_PUBLISH", &cfg.Analytics.Publish)
	e.duration("ANALYTICS_SNAPSHOT_INTERVAL", &cfg.Analytics.SnapshotInterval)

	e.string("LOGGING_LEVEL", &cfg.Logging.Level)
	e.string("LOGGING_FORMAT", &cfg.Logging.Format)
	e.bool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	e.bool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.int("METRICS_PORT", &cfg.Metrics.Port)
	return e.err
}

// envReader applies CS_-prefixed variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(name, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, v, err)
	}
}

func (e *envReader) string(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
