// Package search provides cache-aside web search protected by a circuit
// breaker. Cached hits bypass the breaker entirely, so a degraded provider
// never poisons the hit path.
package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/cache"
	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/resilience"
	"github.com/sells-group/enrichment-service/pkg/firecrawl"
)

// Config controls the search client.
type Config struct {
	// CacheTTL is how long successful search results are cached.
	// Default: 30 minutes.
	CacheTTL time.Duration

	// ResultLimit is the maximum number of results per query. Default: 5.
	ResultLimit int

	// ScrapeContent fetches page markdown for each result when the provider
	// did not include it. Scrapes are best-effort.
	ScrapeContent bool
}

// DefaultConfig returns the standard search configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      30 * time.Minute,
		ResultLimit:   5,
		ScrapeContent: false,
	}
}

// Client performs cached, breaker-protected searches.
type Client struct {
	cfg      Config
	provider firecrawl.Client
	store    cache.Store
	breaker  *resilience.CircuitBreaker
}

// NewClient creates a search client. The breaker is shared with other callers
// observing the same provider.
func NewClient(cfg Config, provider firecrawl.Client, store cache.Store, breaker *resilience.CircuitBreaker) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 5
	}
	return &Client{cfg: cfg, provider: provider, store: store, breaker: breaker}
}

// Search runs the query through the cache first, then the breaker-wrapped
// provider. Provider failures degrade to an empty result set instead of
// aborting the caller. Empty result sets are never cached.
func (c *Client) Search(ctx context.Context, query string) (*model.SearchResponse, error) {
	start := time.Now()
	key := cacheKey(query)

	if raw, ok := c.store.Get(ctx, key); ok {
		var results []model.SearchResult
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			zap.L().Debug("search cache hit",
				zap.String("query", query),
				zap.Int("results", len(results)))
			return &model.SearchResponse{
				Results:      results,
				CacheHit:     true,
				ResponseTime: time.Since(start),
			}, nil
		}
		// Corrupt entry: drop it and fall through to the provider.
		c.store.Delete(ctx, key)
	}

	results, err := resilience.Execute(ctx, c.breaker,
		func(ctx context.Context) ([]model.SearchResult, error) {
			return c.providerSearch(ctx, query)
		},
		func(ctx context.Context) ([]model.SearchResult, error) {
			return []model.SearchResult{}, nil
		},
	)
	if err != nil {
		return nil, eris.Wrapf(err, "search %q", query)
	}

	if len(results) > 0 {
		if buf, err := json.Marshal(results); err == nil {
			c.store.Set(ctx, key, string(buf), c.cfg.CacheTTL)
		}
	}

	return &model.SearchResponse{
		Results:      results,
		CacheHit:     false,
		ResponseTime: time.Since(start),
	}, nil
}

// ScrapeURL fetches a single page's markdown through the provider. Not
// breaker-wrapped: scrapes are already best-effort at every call site.
func (c *Client) ScrapeURL(ctx context.Context, url string) (string, error) {
	resp, err := c.provider.Scrape(ctx, firecrawl.ScrapeRequest{URL: url})
	if err != nil {
		return "", eris.Wrapf(err, "scrape %s", url)
	}
	return resp.Data.Markdown, nil
}

// BreakerStatus exposes the underlying breaker snapshot.
func (c *Client) BreakerStatus(ctx context.Context) resilience.BreakerStatus {
	return c.breaker.Status(ctx)
}

func (c *Client) providerSearch(ctx context.Context, query string) ([]model.SearchResult, error) {
	resp, err := c.provider.Search(ctx, firecrawl.SearchRequest{
		Query: query,
		Limit: c.cfg.ResultLimit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(resp.Data.Web))
	for _, web := range resp.Data.Web {
		r := model.SearchResult{
			Title:   web.Title,
			URL:     web.URL,
			Snippet: web.Description,
			Content: web.Markdown,
		}
		if r.Content == "" && c.cfg.ScrapeContent {
			if content, err := c.ScrapeURL(ctx, web.URL); err == nil {
				r.Content = content
			} else {
				zap.L().Debug("content scrape failed",
					zap.String("url", web.URL), zap.Error(err))
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// cacheKey hashes the normalized query so equivalent queries share an entry.
func cacheKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(query)))
	return "search_cache:" + hex.EncodeToString(sum[:])
}
