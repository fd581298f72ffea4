package infra

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

func (s *Set) startRedis(ctx context.Context) (readiness.Outcome, error) {
	cfg := s.cfg.Redis
	if cfg.URL == "" {
		return readiness.Disabled("Redis not configured"), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return readiness.Outcome{}, retry.NonRetryable(
			errors.WrapInvalid(err, "Set", "startRedis", "parse redis url"))
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return readiness.Outcome{}, errors.WrapTransient(err, "Set", "startRedis", "ping redis")
	}

	s.mu.Lock()
	s.redis = client
	s.mu.Unlock()

	return readiness.Ready("Redis connected").
		WithDetails(readiness.Details{"addr": opts.Addr, "db": opts.DB}).
		WithStop(func(context.Context) error {
			s.mu.Lock()
			s.redis = nil
			s.mu.Unlock()
			return client.Close()
		}), nil
}
