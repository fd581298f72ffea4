package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/graphqlcache"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

func (s *Set) startGraphQL(ctx context.Context) (readiness.Outcome, error) {
	cfg := s.cfg.GraphQL
	if cfg.SchemaPath == "" {
		return readiness.Disabled("GraphQL cache not configured"), nil
	}

	sdl, err := os.ReadFile(cfg.SchemaPath)
	if err != nil {
		return readiness.Outcome{}, retry.NonRetryable(
			errors.WrapFatal(err, "Set", "startGraphQL", "read schema"))
	}

	queries := map[string]string{}
	if cfg.QueriesDir != "" {
		if queries, err = graphqlcache.LoadDir(cfg.QueriesDir); err != nil {
			return readiness.Outcome{}, retry.NonRetryable(err)
		}
	}

	cache, err := graphqlcache.New(cfg.CacheSize, s.logger)
	if err != nil {
		return readiness.Outcome{}, retry.NonRetryable(err)
	}

	report, err := cache.Warm(ctx, filepath.Base(cfg.SchemaPath), string(sdl), queries)
	if err != nil {
		if errors.IsInvalid(err) {
			return readiness.Failed(retry.NonRetryable(err)), nil
		}
		return readiness.Outcome{}, err
	}

	s.mu.Lock()
	s.graphql = cache
	s.mu.Unlock()

	stop := func(context.Context) error {
		s.mu.Lock()
		s.graphql = nil
		s.mu.Unlock()
		cache.Reset()
		return nil
	}
	details := readiness.Details{"parsed": report.Parsed}

	if len(report.Invalid) > 0 {
		details["invalidQueries"] = report.InvalidNames()
		msg := fmt.Sprintf("GraphQL cache warmed with %d invalid queries", len(report.Invalid))
		return readiness.Degraded(msg).WithDetails(details).WithStop(stop), nil
	}
	return readiness.Ready("GraphQL cache warmed").WithDetails(details).WithStop(stop), nil
}
