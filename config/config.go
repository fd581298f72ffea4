package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/pkg/retry"
)

// Config is the complete configuration of an Edulure runtime process.
// Durations are written as Go duration strings ("5s", "1m30s").
type Config struct {
	Service   ServiceConfig            `yaml:"service" json:"service"`
	Log       LogConfig                `yaml:"log" json:"log"`
	Probe     ProbeConfig              `yaml:"probe" json:"probe"`
	HTTP      HTTPConfig               `yaml:"http" json:"http"`
	Database  DatabaseConfig           `yaml:"database" json:"database"`
	Retry     RetryConfig              `yaml:"retry" json:"retry"`
	NATS      NATSConfig               `yaml:"nats" json:"nats"`
	Redis     RedisConfig              `yaml:"redis" json:"redis"`
	GraphQL   GraphQLConfig            `yaml:"graphql" json:"graphql"`
	Worker    WorkerConfig             `yaml:"worker" json:"worker"`
	Realtime  RealtimeConfig           `yaml:"realtime" json:"realtime"`
	Processes map[string]ProcessConfig `yaml:"processes" json:"processes,omitempty"`
}

// ServiceConfig identifies the deployment
type ServiceConfig struct {
	Environment string `yaml:"environment" json:"environment" env:"EDULURE_ENV"`
	// MaxRSSMB fails the liveness check when resident memory exceeds it. Zero disables the check.
	MaxRSSMB uint64 `yaml:"max_rss_mb" json:"max_rss_mb" env:"EDULURE_MAX_RSS_MB"`
}

// LogConfig selects the log level and handler
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"EDULURE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"EDULURE_LOG_FORMAT"`
}

// ProbeConfig configures the liveness/readiness listener
type ProbeConfig struct {
	Host string `yaml:"host" json:"host" env:"EDULURE_PROBE_HOST"`
	Port int    `yaml:"port" json:"port" env:"EDULURE_PROBE_PORT"`
}

// Addr returns the probe listen address
func (p ProbeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HTTPConfig configures the public API listener of the web process
type HTTPConfig struct {
	Addr         string        `yaml:"addr" json:"addr" env:"EDULURE_HTTP_ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"EDULURE_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"EDULURE_HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"EDULURE_HTTP_IDLE_TIMEOUT"`
}

// DatabaseConfig configures the PostgreSQL pool
type DatabaseConfig struct {
	URL             string        `yaml:"url" json:"url" env:"EDULURE_DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"EDULURE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"EDULURE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"EDULURE_DATABASE_CONN_MAX_LIFETIME"`
	PingTimeout     time.Duration `yaml:"ping_timeout" json:"ping_timeout" env:"EDULURE_DATABASE_PING_TIMEOUT"`
	MigrationsTable string        `yaml:"migrations_table" json:"migrations_table" env:"EDULURE_DATABASE_MIGRATIONS_TABLE"`
}

// RetryConfig sets the linear retry defaults used by every startup
type RetryConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts" env:"EDULURE_RETRY_ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" json:"delay" env:"EDULURE_RETRY_DELAY"`
}

// NATSConfig configures the event bus. An empty URL disables it.
type NATSConfig struct {
	URL           string        `yaml:"url" json:"url" env:"EDULURE_NATS_URL"`
	Token         string        `yaml:"token" json:"token" env:"EDULURE_NATS_TOKEN"`
	User          string        `yaml:"user" json:"user" env:"EDULURE_NATS_USER"`
	Password      string        `yaml:"password" json:"password" env:"EDULURE_NATS_PASSWORD"`
	MaxReconnects int           `yaml:"max_reconnects" json:"max_reconnects" env:"EDULURE_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait" env:"EDULURE_NATS_RECONNECT_WAIT"`
	DrainTimeout  time.Duration `yaml:"drain_timeout" json:"drain_timeout" env:"EDULURE_NATS_DRAIN_TIMEOUT"`
}

// RedisConfig configures the cache. An empty URL disables it.
type RedisConfig struct {
	URL         string        `yaml:"url" json:"url" env:"EDULURE_REDIS_URL"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"EDULURE_REDIS_DIAL_TIMEOUT"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size" env:"EDULURE_REDIS_POOL_SIZE"`
}

// GraphQLConfig configures the persisted query cache. An empty schema path disables it.
type GraphQLConfig struct {
	SchemaPath string `yaml:"schema_path" json:"schema_path" env:"EDULURE_GRAPHQL_SCHEMA_PATH"`
	QueriesDir string `yaml:"queries_dir" json:"queries_dir" env:"EDULURE_GRAPHQL_QUERIES_DIR"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size" env:"EDULURE_GRAPHQL_CACHE_SIZE"`
}

// JobConfig configures one scheduled job
type JobConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// WorkerConfig configures the background worker jobs
type WorkerConfig struct {
	SessionCleanup   JobConfig `yaml:"session_cleanup" json:"session_cleanup"`
	Heartbeat        JobConfig `yaml:"heartbeat" json:"heartbeat"`
	HeartbeatSubject string    `yaml:"heartbeat_subject" json:"heartbeat_subject" env:"EDULURE_WORKER_HEARTBEAT_SUBJECT"`
}

// RealtimeConfig configures the websocket gateway
type RealtimeConfig struct {
	Addr              string        `yaml:"addr" json:"addr" env:"EDULURE_REALTIME_ADDR"`
	Subject           string        `yaml:"subject" json:"subject" env:"EDULURE_REALTIME_SUBJECT"`
	MessagesPerSecond float64       `yaml:"messages_per_second" json:"messages_per_second" env:"EDULURE_REALTIME_MESSAGES_PER_SECOND"`
	Burst             int           `yaml:"burst" json:"burst" env:"EDULURE_REALTIME_BURST"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes" json:"max_message_bytes" env:"EDULURE_REALTIME_MAX_MESSAGE_BYTES"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout" env:"EDULURE_REALTIME_WRITE_TIMEOUT"`
}

// ProcessConfig overrides what a runtime process starts
type ProcessConfig struct {
	Infra         []string `yaml:"infra" json:"infra"`
	ReadinessKeys []string `yaml:"readiness_keys" json:"readiness_keys,omitempty"`
}

// Defaults returns the configuration used before any layer is applied
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{Environment: "development"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Probe:   ProbeConfig{Port: 9090},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
			MigrationsTable: "schema_migrations",
		},
		Retry: RetryConfig{Attempts: 5, Delay: time.Second},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			DrainTimeout:  10 * time.Second,
		},
		Redis:   RedisConfig{DialTimeout: 5 * time.Second},
		GraphQL: GraphQLConfig{CacheSize: 256},
		Worker: WorkerConfig{
			SessionCleanup:   JobConfig{Enabled: true, Schedule: "@every 15m", Timeout: time.Minute},
			Heartbeat:        JobConfig{Enabled: true, Schedule: "@every 30s", Timeout: 5 * time.Second},
			HeartbeatSubject: "edulure.worker.heartbeat",
		},
		Realtime: RealtimeConfig{
			Addr:              ":8081",
			Subject:           "edulure.events.>",
			MessagesPerSecond: 5,
			Burst:             10,
			MaxMessageBytes:   64 << 10,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// InfraFor returns the infrastructure set configured for process, or nil when
// the process uses its default set.
func (c *Config) InfraFor(process string) []string {
	if p, ok := c.Processes[process]; ok && p.Infra != nil {
		return append([]string(nil), p.Infra...)
	}
	return nil
}

// ReadinessKeysFor returns extra readiness keys configured for process
func (c *Config) ReadinessKeysFor(process string) []string {
	if p, ok := c.Processes[process]; ok {
		return append([]string(nil), p.ReadinessKeys...)
	}
	return nil
}

// Validate checks values the schema cannot express
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, fmt.Errorf("database.url: %w", errors.ErrMissingConfig))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: %w", c.Log.Level, errors.ErrInvalidConfig))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: %w", c.Log.Format, errors.ErrInvalidConfig))
	}

	if c.Probe.Port < 0 || c.Probe.Port > 65535 {
		errs = append(errs, fmt.Errorf("probe.port %d: %w", c.Probe.Port, errors.ErrInvalidConfig))
	}
	if c.Retry.Attempts < 0 || c.Retry.Attempts > retry.MaxAttempts {
		errs = append(errs, fmt.Errorf("retry.attempts %d must be between 0 and %d: %w",
			c.Retry.Attempts, retry.MaxAttempts, errors.ErrInvalidConfig))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		errs = append(errs, fmt.Errorf("database.max_idle_conns exceeds max_open_conns: %w", errors.ErrInvalidConfig))
	}
	if c.Realtime.MessagesPerSecond < 0 || c.Realtime.Burst < 0 {
		errs = append(errs, fmt.Errorf("realtime rate limit cannot be negative: %w", errors.ErrInvalidConfig))
	}

	for name, p := range c.Processes {
		for _, component := range p.Infra {
			if component == "" {
				errs = append(errs, fmt.Errorf("processes.%s.infra: empty component name: %w",
					name, errors.ErrInvalidConfig))
			}
		}
	}

	return stderrors.Join(errs...)
}

// Redacted returns a copy with credentials masked, suitable for logging
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Database.URL = redactURL(c.Database.URL)
	out.Redis.URL = redactURL(c.Redis.URL)
	out.NATS.URL = redactURL(c.NATS.URL)
	out.NATS.Token = mask(c.NATS.Token)
	out.NATS.Password = mask(c.NATS.Password)
	return out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
