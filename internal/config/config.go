package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string        `env:"PORT" envDefault:"8787"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"addelivery"`
	Environment  string        `env:"ENV" envDefault:"production"`
	LogLevel     string        `env:"LOG_LEVEL"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	ClickHouseDSN string `env:"CLICKHOUSE_DSN" envDefault:"clickhouse://default:@localhost:9000/default"`
	PostgresDSN   string `env:"POSTGRES_DSN" envDefault:"postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable"`
	GeoIPDB       string `env:"GEOIP_DB"`

	// Bearer identity tokens. An empty secret disables identity and every
	// event is recorded as anonymous.
	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"720h"`

	// Delivery engine
	FrequencyCap       int           `env:"FREQUENCY_CAP" envDefault:"3"`
	DedupWindow        time.Duration `env:"DEDUP_WINDOW" envDefault:"30s"`
	FallbackTolerance  time.Duration `env:"FALLBACK_TOLERANCE" envDefault:"5m"`
	DefaultSelectLimit int           `env:"DEFAULT_SELECT_LIMIT" envDefault:"5"`
	MaxSelectLimit     int           `env:"MAX_SELECT_LIMIT" envDefault:"50"`
	MaxCandidates      int           `env:"MAX_CANDIDATES" envDefault:"200"`
	CounterRetries     int           `env:"COUNTER_RETRIES" envDefault:"3"`
	// DebugTrace attaches the selection trace to every /ads response.
	DebugTrace bool `env:"DEBUG_TRACE" envDefault:"false"`

	// Analytics
	EventRetentionDays int `env:"EVENT_RETENTION_DAYS" envDefault:"90"`
	TopPerformers      int `env:"TOP_PERFORMERS" envDefault:"5"`

	// Per-client limits on the event recording endpoints
	RateLimitEnabled    bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitCapacity   int  `env:"RATE_LIMIT_CAPACITY" envDefault:"50"`
	RateLimitRefillRate int  `env:"RATE_LIMIT_REFILL_RATE" envDefault:"10"`
	// Addresses or CIDRs of load balancers whose X-Forwarded-For is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Database connection pooling configuration
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`

	// ClickHouse connection pooling configuration
	// Higher than PostgreSQL since every event is an insert
	CHMaxOpenConns    int           `env:"CH_MAX_OPEN_CONNS" envDefault:"100"`
	CHMaxIdleConns    int           `env:"CH_MAX_IDLE_CONNS" envDefault:"25"`
	CHConnMaxLifetime time.Duration `env:"CH_CONN_MAX_LIFETIME" envDefault:"5m"`
	CHConnMaxIdleTime time.Duration `env:"CH_CONN_MAX_IDLE_TIME" envDefault:"1m"`

	// Tracing configuration
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TempoEndpoint     string  `env:"TEMPO_ENDPOINT" envDefault:"tempo:4317"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads an optional .env file and parses environment variables into a
// Config, applying defaults for anything unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.FrequencyCap <= 0:
		return fmt.Errorf("FREQUENCY_CAP must be positive, got %d", c.FrequencyCap)
	case c.DefaultSelectLimit <= 0:
		return fmt.Errorf("DEFAULT_SELECT_LIMIT must be positive, got %d", c.DefaultSelectLimit)
	case c.MaxSelectLimit < c.DefaultSelectLimit:
		return fmt.Errorf("MAX_SELECT_LIMIT (%d) below DEFAULT_SELECT_LIMIT (%d)", c.MaxSelectLimit, c.DefaultSelectLimit)
	case c.EventRetentionDays <= 0:
		return fmt.Errorf("EVENT_RETENTION_DAYS must be positive, got %d", c.EventRetentionDays)
	case c.DedupWindow < 0 || c.FallbackTolerance < 0:
		return fmt.Errorf("DEDUP_WINDOW and FALLBACK_TOLERANCE must not be negative")
	}
	return nil
}

// Default returns the configuration produced by an empty environment.
func Default() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}
