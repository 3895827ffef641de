// Package cache is the read-through layer between the service facade and the
// storage backend. Records and query results are cached separately; a
// per-fingerprint reverse index lets a single record update evict exactly the
// query results it contributed to.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mediaindex/internal/domain"
	"mediaindex/internal/metrics"
	"mediaindex/internal/storage"
)

const (
	defaultMaxEntries = 1024
	defaultTTL        = 10 * time.Minute
)

type Config struct {
	MaxEntries int
	TTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	return c
}

// Cache wraps a storage backend with two expiring LRUs and an optional Redis
// layer for query results. A cache-layer failure is never surfaced to the
// caller; reads fall through to the backend.
type Cache struct {
	backend storage.Backend
	logger  *slog.Logger
	redis   *RedisBackend

	records *expirable.LRU[domain.Fingerprint, domain.MediaRecord]
	queries *expirable.LRU[string, domain.QueryResult]

	// reverse maps a fingerprint to the query keys whose cached results
	// include it, so invalidating one record evicts only those results.
	mu      sync.Mutex
	reverse map[domain.Fingerprint]map[string]struct{}

	// generation is folded into Redis keys; bumping it orphans every remote
	// query entry at once, which substitutes for a prefix scan on flush.
	generation int64
}

type Option func(*Cache)

func WithRedis(redis *RedisBackend) Option {
	return func(c *Cache) { c.redis = redis }
}

func New(backend storage.Backend, cfg Config, logger *slog.Logger, opts ...Option) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		backend: backend,
		logger:  logger,
		records: expirable.NewLRU[domain.Fingerprint, domain.MediaRecord](cfg.MaxEntries, nil, cfg.TTL),
		reverse: make(map[domain.Fingerprint]map[string]struct{}),
	}
	c.queries = expirable.NewLRU[string, domain.QueryResult](cfg.MaxEntries, c.onQueryEvict, cfg.TTL)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) onQueryEvict(key string, result domain.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range result.Items {
		if keys, ok := c.reverse[item.Record.Fingerprint]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.reverse, item.Record.Fingerprint)
			}
		}
	}
}

// GetRecord reads through to the backend on a miss.
func (c *Cache) GetRecord(ctx context.Context, fp domain.Fingerprint) (domain.MediaRecord, error) {
	if record, ok := c.records.Get(fp); ok {
		metrics.CacheHitsTotal.WithLabelValues("record").Inc()
		return record, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("record").Inc()

	record, err := c.backend.Get(ctx, fp)
	if err != nil {
		return domain.MediaRecord{}, err
	}
	c.records.Add(fp, record)
	return record, nil
}

// QueryKey derives the cache key for a search. Normalization happens before
// this point, so equal logical queries share a key.
func QueryKey(normalizedQuery string, page domain.Page) string {
	return strings.Join([]string{
		"q=" + normalizedQuery,
		"o=" + strconv.Itoa(page.Offset),
		"l=" + strconv.Itoa(page.Limit),
	}, "|")
}

// GetQuery checks the local LRU and then Redis.
func (c *Cache) GetQuery(ctx context.Context, key string) (domain.QueryResult, bool) {
	if result, ok := c.queries.Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues("query").Inc()
		return result, true
	}
	if c.redis != nil {
		result, found, err := c.redis.Get(ctx, c.redisKey(key))
		if err != nil {
			c.logger.Warn("redis query lookup failed", slog.String("error", err.Error()))
		} else if found {
			metrics.CacheHitsTotal.WithLabelValues("query").Inc()
			c.storeLocal(key, result)
			return result, true
		}
	}
	metrics.CacheMissesTotal.WithLabelValues("query").Inc()
	return domain.QueryResult{}, false
}

// SetQuery stores a computed result in both layers.
func (c *Cache) SetQuery(ctx context.Context, key string, result domain.QueryResult) {
	c.storeLocal(key, result)
	if c.redis != nil {
		if err := c.redis.Set(ctx, c.redisKey(key), result); err != nil {
			c.logger.Warn("redis query store failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Cache) storeLocal(key string, result domain.QueryResult) {
	c.queries.Add(key, result)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range result.Items {
		keys, ok := c.reverse[item.Record.Fingerprint]
		if !ok {
			keys = make(map[string]struct{})
			c.reverse[item.Record.Fingerprint] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateRecord evicts one record and every cached query result that
// contained it.
func (c *Cache) InvalidateRecord(fp domain.Fingerprint) {
	c.records.Remove(fp)

	c.mu.Lock()
	keys := make([]string, 0, len(c.reverse[fp]))
	for key := range c.reverse[fp] {
		keys = append(keys, key)
	}
	delete(c.reverse, fp)
	c.mu.Unlock()

	for _, key := range keys {
		c.queries.Remove(key)
		if c.redis != nil {
			if err := c.redis.Delete(context.Background(), c.redisKey(key)); err != nil {
				c.logger.Warn("redis query delete failed", slog.String("error", err.Error()))
			}
		}
	}
}

// InvalidateQueries drops every cached query result. Used after bulk deletes
// where per-record eviction would be slower than starting over.
func (c *Cache) InvalidateQueries() {
	c.queries.Purge()
	c.mu.Lock()
	c.reverse = make(map[domain.Fingerprint]map[string]struct{})
	c.generation++
	c.mu.Unlock()
}

func (c *Cache) redisKey(key string) string {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	return strconv.FormatInt(gen, 10) + ":" + key
}

// Ping reports the health of the cache layer itself. Absence of Redis is
// healthy; the local LRUs cannot fail.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx)
}
