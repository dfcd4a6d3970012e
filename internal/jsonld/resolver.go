package jsonld

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// LoadError reports a failed document load. StatusCode is zero for network
// level failures; delivery retry classification depends on it.
type LoadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *LoadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jsonld: load %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("jsonld: load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Cache is the key-value contract for fetched document bodies. The draw/image
// cache of the read side uses the same contract with its own typed store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// RedisCache caches raw response bodies in redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, "doc:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte) {
	if err := c.client.Set(ctx, "doc:"+key, val, c.ttl).Err(); err != nil {
		logger.Warn("document cache set failed", zap.String("url", key), zap.Error(err))
	}
}

// Options configures a Resolver.
type Options struct {
	UserAgent  string
	Accept     string
	Timeout    time.Duration
	Production bool // refuse to fetch non-public URLs
	Cache      Cache
}

// Resolver loads documents into a Graph. Inline documents are indexed as-is;
// URLs are fetched with a cache-aside redis cache. Concurrent redundant
// fetches of the same URL are harmless.
type Resolver struct {
	client     *resty.Client
	cache      Cache
	production bool
}

func NewResolver(opts Options) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", opts.Accept)
	return &Resolver{client: client, cache: opts.Cache, production: opts.Production}
}

// Load resolves input into the graph. Input is either an inline document
// (map) or a URL string. Loading an already-known subject is a no-op.
func (r *Resolver) Load(ctx context.Context, g *Graph, input any) error {
	switch v := input.(type) {
	case map[string]any:
		g.Add(v)
		return nil
	case string:
		return r.loadURL(ctx, g, v)
	default:
		return &LoadError{Err: fmt.Errorf("unsupported document input %T", input)}
	}
}

func (r *Resolver) loadURL(ctx context.Context, g *Graph, url string) error {
	if g.Has(url) {
		return nil
	}
	if r.production && !IsPublicURL(url) {
		return &LoadError{URL: url, Err: fmt.Errorf("not a public https URL")}
	}

	body, ok := r.cached(ctx, url)
	if !ok {
		resp, err := r.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return &LoadError{URL: url, Err: err}
		}
		if resp.IsError() {
			return &LoadError{URL: url, StatusCode: resp.StatusCode()}
		}
		body = resp.Body()
		if r.cache != nil {
			r.cache.Set(ctx, url, body)
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return &LoadError{URL: url, Err: fmt.Errorf("invalid JSON document: %w", err)}
	}
	g.Add(doc)
	// The fetch URL may differ from the document's own id.
	if !g.Has(url) {
		g.alias(url, doc)
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, url string) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(ctx, url)
}
