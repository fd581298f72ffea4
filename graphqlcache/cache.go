// Package graphqlcache parses the GraphQL schema and the persisted queries at
// startup and keeps the parsed documents in a bounded LRU cache. Warm is the
// start routine of the graphql-cache infrastructure component.
package graphqlcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/orbas1/edulure/errors"
)

// DefaultSize is the number of parsed documents kept when no size is configured
const DefaultSize = 256

// ErrNoSchema is returned when a query is resolved before Warm succeeded
var ErrNoSchema = stderrors.New("graphql schema not loaded")

// Report summarises a warmup run
type Report struct {
	Parsed  int
	Invalid map[string]string
}

// InvalidNames returns the names of the queries that failed validation, sorted
func (r Report) InvalidNames() []string {
	names := make([]string, 0, len(r.Invalid))
	for name := range r.Invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cache holds the loaded schema and an LRU of parsed query documents
type Cache struct {
	mu     sync.RWMutex
	schema *ast.Schema
	docs   *lru.Cache[string, *ast.QueryDocument]
	logger *slog.Logger
}

// New creates an empty cache holding at most size documents
func New(size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	docs, err := lru.New[string, *ast.QueryDocument](size)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Cache", "New", "create lru")
	}
	return &Cache{docs: docs, logger: logger.With("component", "graphql-cache")}, nil
}

// Warm loads the schema and parses every persisted query against it. An
// invalid schema is returned as an invalid-class error; invalid queries are
// reported but do not fail the warmup.
func (c *Cache) Warm(ctx context.Context, schemaName, sdl string, queries map[string]string) (Report, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: schemaName, Input: sdl})
	if err != nil {
		return Report{}, errors.WrapInvalid(err, "Cache", "Warm", "load schema "+schemaName)
	}

	c.mu.Lock()
	c.schema = schema
	c.mu.Unlock()
	c.docs.Purge()

	report := Report{Invalid: make(map[string]string)}
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		doc, errs := gqlparser.LoadQuery(schema, queries[name])
		if len(errs) > 0 {
			report.Invalid[name] = errs.Error()
			c.logger.Warn("Persisted query failed validation", "query", name, "error", errs.Error())
			continue
		}
		c.docs.Add(name, doc)
		report.Parsed++
	}

	c.logger.Info("GraphQL cache warmed", "parsed", report.Parsed, "invalid", len(report.Invalid))
	return report, nil
}

// Persisted returns the parsed document of a named persisted query
func (c *Cache) Persisted(name string) (*ast.QueryDocument, bool) {
	return c.docs.Get(name)
}

// Resolve returns the parsed document for an ad-hoc query, parsing and caching
// it on first use.
func (c *Cache) Resolve(query string) (*ast.QueryDocument, error) {
	key := queryKey(query)
	if doc, ok := c.docs.Get(key); ok {
		return doc, nil
	}

	c.mu.RLock()
	schema := c.schema
	c.mu.RUnlock()
	if schema == nil {
		return nil, ErrNoSchema
	}

	doc, errs := gqlparser.LoadQuery(schema, query)
	if len(errs) > 0 {
		return nil, errors.WrapInvalid(errs, "Cache", "Resolve", "validate query")
	}
	c.docs.Add(key, doc)
	return doc, nil
}

// Len returns the number of cached documents
func (c *Cache) Len() int {
	return c.docs.Len()
}

// Reset drops the schema and every cached document
func (c *Cache) Reset() {
	c.mu.Lock()
	c.schema = nil
	c.mu.Unlock()
	c.docs.Purge()
}

func queryKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LoadDir reads every .graphql file in dir. The map key is the file name
// without its extension.
func LoadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "graphqlcache", "LoadDir", "read "+dir)
	}

	queries := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".graphql" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrap(err, "graphqlcache", "LoadDir", "read "+entry.Name())
		}
		queries[strings.TrimSuffix(entry.Name(), ".graphql")] = string(data)
	}
	return queries, nil
}
