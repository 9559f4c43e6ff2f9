// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/flagplane/flagplane/internal/database"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete process configuration shared by the API and worker.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Database  database.Config
	Mongo     database.MongoConfig
	Redis     database.RedisConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	PubSub    PubSubConfig
	Worker    WorkerConfig
}

// AppConfig holds HTTP and runtime settings.
type AppConfig struct {
	Port            string        `env:"APP_PORT" envDefault:"8080"`
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	RequireTLS      bool          `env:"REQUIRE_TLS" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// StoreConfig selects and tunes the flag store.
type StoreConfig struct {
	Backend string `env:"STORE_BACKEND" envDefault:"memory"`

	// Fallback wraps the backend with an in-memory secondary that serves
	// requests while the primary is unavailable.
	Fallback       bool `env:"STORE_FALLBACK" envDefault:"false"`
	FallbackSticky bool `env:"STORE_FALLBACK_STICKY" envDefault:"true"`

	Seed     bool   `env:"STORE_SEED" envDefault:"true"`
	SeedFile string `env:"STORE_SEED_FILE"`

	CacheTTL time.Duration `env:"FLAG_CACHE_TTL" envDefault:"30s"`
}

// EvaluationCacheTTL returns the TTL for the service evaluation cache.
// FLAG_CACHE_TTL=0 turns the cache off.
func (c StoreConfig) EvaluationCacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return -1
	}
	return c.CacheTTL
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool          `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure       bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio    float64       `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`
	ExportInterval time.Duration `env:"OTEL_METRIC_EXPORT_INTERVAL" envDefault:"15s"`
}

// AuthConfig holds bearer token settings. An empty signing key leaves write
// endpoints unauthenticated.
type AuthConfig struct {
	SigningKey string `env:"JWT_SIGNING_KEY"`
	Issuer     string `env:"JWT_ISSUER" envDefault:"flagplane"`
	Audience   string `env:"JWT_AUDIENCE" envDefault:"flagplane-api"`
}

// PubSubConfig holds change event transport settings. An empty project id
// disables Pub/Sub.
type PubSubConfig struct {
	ProjectID    string `env:"PUBSUB_PROJECT_ID"`
	Topic        string `env:"PUBSUB_TOPIC" envDefault:"feature-flag-changes"`
	Subscription string `env:"PUBSUB_SUBSCRIPTION" envDefault:"feature-flag-changes-worker"`
}

// WorkerConfig tunes the background worker.
type WorkerConfig struct {
	CheckInterval    time.Duration `env:"WORKER_CHECK_INTERVAL" envDefault:"5m"`
	CheckConcurrency int           `env:"WORKER_CHECK_CONCURRENCY" envDefault:"4"`
}

// Enabled reports whether change events go to Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != ""
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current environment into a Config without reading .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the env tags cannot express.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendMongo, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.Store.Backend)
	}

	if c.Store.Fallback && c.Store.Backend == BackendMemory {
		return fmt.Errorf("%w: STORE_FALLBACK requires a remote STORE_BACKEND", ErrInvalidConfig)
	}
	if c.Database.MaxOpenConns < 1 || c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("%w: DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS", ErrInvalidConfig)
	}
	if c.Worker.CheckInterval < 0 {
		return fmt.Errorf("%w: WORKER_CHECK_INTERVAL must not be negative", ErrInvalidConfig)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: OTEL_TRACES_SAMPLER_ARG must be between 0 and 1", ErrInvalidConfig)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
