// Package config loads stockgrid settings from STOCKGRID_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const envPrefix = "STOCKGRID_"

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// RemoteURL is the base URL of the row store.
	RemoteURL   string
	Resources   []string
	MinInterval time.Duration
	Backoff     time.Duration
	MaxRetries  int

	PollInterval time.Duration

	// CacheBackend defaults to sqlite; memory keeps nothing across restarts.
	CacheBackend string
	SQLitePath   string
	RedisAddr    string
	SQLDSN       string
	CacheKey     string

	KafkaBrokers []string
	KafkaTopic   string

	AMQPURL      string
	AMQPExchange string

	Aisles  int
	Columns int
	Levels  int

	LogLevel  string
	LogFormat string
}

// Defaults returns a Config with every optional setting filled in.
func Defaults() Config {
	return Config{
		HTTPAddr:     ":8080",
		GRPCAddr:     ":50051",
		Resources:    []string{"inventory", "Inventory", "stock", "Sheet1"},
		MinInterval:  1000 * time.Millisecond,
		Backoff:      1000 * time.Millisecond,
		MaxRetries:   3,
		PollInterval: 5000 * time.Millisecond,
		CacheBackend: BackendSQLite,
		SQLitePath:   "stockgrid.db",
		RedisAddr:    "localhost:6379",
		CacheKey:     "stockgrid:items",
		KafkaTopic:   "stockgrid.items",
		AMQPExchange: "stockgrid",
		Aisles:       9,
		Columns:      7,
		Levels:       6,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := Defaults()
	l := loader{}

	l.str("HTTP_ADDR", &cfg.HTTPAddr)
	l.str("GRPC_ADDR", &cfg.GRPCAddr)
	l.str("REMOTE_URL", &cfg.RemoteURL)
	l.list("RESOURCES", &cfg.Resources)
	l.duration("MIN_INTERVAL", &cfg.MinInterval)
	l.duration("BACKOFF", &cfg.Backoff)
	l.integer("MAX_RETRIES", &cfg.MaxRetries)
	l.duration("POLL_INTERVAL", &cfg.PollInterval)
	l.str("CACHE_BACKEND", &cfg.CacheBackend)
	l.str("SQLITE_PATH", &cfg.SQLitePath)
	l.str("REDIS_ADDR", &cfg.RedisAddr)
	l.str("SQL_DSN", &cfg.SQLDSN)
	l.str("CACHE_KEY", &cfg.CacheKey)
	l.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	l.str("KAFKA_TOPIC", &cfg.KafkaTopic)
	l.str("AMQP_URL", &cfg.AMQPURL)
	l.str("AMQP_EXCHANGE", &cfg.AMQPExchange)
	l.integer("AISLES", &cfg.Aisles)
	l.integer("COLUMNS", &cfg.Columns)
	l.integer("LEVELS", &cfg.Levels)
	l.str("LOG_LEVEL", &cfg.LogLevel)
	l.str("LOG_FORMAT", &cfg.LogFormat)

	if l.err != nil {
		return nil, l.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("%sREMOTE_URL environment variable is required", envPrefix)
	}
	if len(c.Resources) == 0 {
		return fmt.Errorf("at least one resource candidate is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MinInterval < 0 || c.Backoff < 0 || c.PollInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	switch c.CacheBackend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%sSQLITE_PATH is required for the sqlite backend", envPrefix)
		}
	case BackendMySQL, BackendPostgres:
		if c.SQLDSN == "" {
			return fmt.Errorf("%sSQL_DSN is required for the %s backend", envPrefix, c.CacheBackend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.Aisles < 1 || c.Aisles > 26 || c.Columns < 1 || c.Levels < 1 {
		return fmt.Errorf("invalid grid geometry %dx%dx%d", c.Aisles, c.Columns, c.Levels)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// loader keeps the first parse error so LoadFromEnv reads linearly.
type loader struct {
	err error
}

func (l *loader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (l *loader) str(name string, dst *string) {
	if v, ok := l.lookup(name); ok {
		*dst = v
	}
}

func (l *loader) list(name string, dst *[]string) {
	v, ok := l.lookup(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (l *loader) integer(name string, dst *int) {
	v, ok := l.lookup(name)
	if !ok || l.err != nil {
		return
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		l.err = fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		return
	}
	*dst = n
}

// duration accepts Go duration strings ("250ms") or bare milliseconds.
func (l *loader) duration(name string, dst *time.Duration) {
	v, ok := l.lookup(name)
	if !ok || l.err != nil {
		return
	}
	if ms, err := cast.ToInt64E(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		l.err = fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		return
	}
	*dst = d
}
