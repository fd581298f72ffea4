// Package infra declares the shared infrastructure components a runtime
// process can bring up through the bootstrap orchestrator: the NATS event bus,
// the Redis cache, the GraphQL document cache and the job scheduler. Components
// that are not configured report a disabled outcome instead of failing.
package infra

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/orbas1/edulure/bootstrap"
	"github.com/orbas1/edulure/graphqlcache"
	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/natsclient"
	"github.com/orbas1/edulure/readiness"
)

// Component names
const (
	NATS         = "nats"
	Redis        = "redis"
	GraphQLCache = "graphql-cache"
	Scheduler    = "scheduler"
)

// DefaultOrder is the start order of the registry
var DefaultOrder = []string{NATS, Redis, GraphQLCache, Scheduler}

var defaultSets = map[string][]string{
	"web":      {NATS, Redis, GraphQLCache},
	"worker":   {NATS, Redis, Scheduler},
	"realtime": {NATS, Redis},
}

// DefaultSet returns the components a process starts when its config names none
func DefaultSet(process string) []string {
	set, ok := defaultSets[process]
	if !ok {
		return nil
	}
	return append([]string(nil), set...)
}

// NATSConfig configures the event bus connection. An empty URL disables it.
type NATSConfig struct {
	URL           string
	Name          string
	Token         string
	User          string
	Password      string
	MaxReconnects int
	ReconnectWait time.Duration
	DrainTimeout  time.Duration
}

// RedisConfig configures the cache connection. An empty URL disables it.
type RedisConfig struct {
	URL         string
	DialTimeout time.Duration
	PoolSize    int
}

// GraphQLConfig configures the document cache. An empty SchemaPath disables it.
type GraphQLConfig struct {
	SchemaPath string
	QueriesDir string
	CacheSize  int
}

// Config configures every infrastructure component
type Config struct {
	NATS    NATSConfig
	Redis   RedisConfig
	GraphQL GraphQLConfig

	// Attempts and Delay override the retry defaults for every component
	Attempts int
	Delay    time.Duration
}

// Option configures a Set
type Option func(*Set)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Set) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracker mirrors NATS connection health into tracker after startup
func WithTracker(tracker *readiness.Tracker) Option {
	return func(s *Set) {
		s.tracker = tracker
	}
}

// WithMetrics passes metrics to the clients that record them
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Set) {
		s.metrics = m
	}
}

// WithJobs registers scheduled jobs. Without jobs the scheduler is disabled.
func WithJobs(jobs ...Job) Option {
	return func(s *Set) {
		s.jobs = append(s.jobs, jobs...)
	}
}

// Set owns the infrastructure clients of one process
type Set struct {
	cfg     Config
	logger  *slog.Logger
	tracker *readiness.Tracker
	metrics *metric.Metrics
	jobs    []Job

	mu      sync.RWMutex
	nats    *natsclient.Client
	redis   *redis.Client
	graphql *graphqlcache.Cache
	cron    *cron.Cron
}

// New creates a Set. Nothing connects until the descriptors are started.
func New(cfg Config, opts ...Option) *Set {
	s := &Set{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "infra")
	return s
}

// Descriptors returns the registry in DefaultOrder
func (s *Set) Descriptors() []bootstrap.Descriptor {
	descriptor := func(name string, start bootstrap.StartFunc) bootstrap.Descriptor {
		return bootstrap.Descriptor{
			Name:     name,
			Start:    start,
			Attempts: s.cfg.Attempts,
			Delay:    s.cfg.Delay,
		}
	}
	return []bootstrap.Descriptor{
		descriptor(NATS, s.startNATS),
		descriptor(Redis, s.startRedis),
		descriptor(GraphQLCache, s.startGraphQL),
		descriptor(Scheduler, s.startScheduler),
	}
}

// NATS returns the connected event bus client, or nil
func (s *Set) NATS() *natsclient.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nats
}

// Redis returns the connected cache client, or nil
func (s *Set) Redis() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redis
}

// BindTracker mirrors NATS connection health into tracker. Runtimes that build
// their tracker after the Set call it once the tracker exists.
func (s *Set) BindTracker(tracker *readiness.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = tracker
}

// Tracker returns the bound readiness tracker, or nil before BindTracker
func (s *Set) Tracker() *readiness.Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

// GraphQL returns the warmed document cache, or nil
func (s *Set) GraphQL() *graphqlcache.Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphql
}
