package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"parley/internal/domain"
	"parley/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 20
	defaultCacheTTL    = 15 * time.Minute
)

// cacheEntry holds a cached search result with its expiration time.
type cacheEntry struct {
	content   string
	citations []domain.Citation
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend. Requests
// are throttled with a token bucket so a runaway tool loop cannot hammer the
// search instance; cache hits bypass the throttle.
type WebSearchTool struct {
	backend  SearchBackend
	limiter  *rate.Limiter
	cacheTTL time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
// rateLimit is the allowed number of backend requests per window.
func NewWebSearchTool(backend SearchBackend, rateLimit int, window, cacheTTL time.Duration, logger *slog.Logger) *WebSearchTool {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if rateLimit <= 0 {
		rateLimit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WebSearchTool{
		backend:  backend,
		limiter:  rate.NewLimiter(rate.Every(window/time.Duration(rateLimit)), rateLimit),
		cacheTTL: cacheTTL,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web" }

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default: 5)"},
				"time_range": {"type": "string", "enum": ["day", "week", "month", "year"], "description": "Time range filter (optional)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query     string `json:"query"`
	Count     int    `json:"count,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}

			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			if p.Count <= 0 {
				p.Count = defaultSearchCount
			}
			if p.Count > maxSearchCount {
				p.Count = maxSearchCount
			}

			if err := ValidateEnum("time_range", p.TimeRange, "day", "week", "month", "year"); err != nil {
				return nil, err
			}

			cacheKey := fmt.Sprintf("%s|%d|%s", p.Query, p.Count, p.TimeRange)

			if cached, ok := t.getCached(cacheKey); ok {
				t.logger.Debug("web search cache hit", "query", p.Query)
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
				return &domain.ToolResult{Content: cached.content, Citations: cached.citations}, nil
			}

			if !t.limiter.Allow() {
				return nil, fmt.Errorf("%w: web search throttled", domain.ErrRateLimit)
			}

			results, err := t.backend.Search(ctx, p.Query, p.Count, p.TimeRange)
			if err != nil {
				return nil, err
			}

			if len(results) > p.Count {
				results = results[:p.Count]
			}

			content := formatSearchResults(p.Query, results)
			citations := searchCitations(results)

			t.putCache(cacheKey, content, citations)

			t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
			return &domain.ToolResult{Content: content, Citations: citations}, nil
		},
	)
}

// formatSearchResults converts search results to a compact text format for LLM consumption.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   %s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return sb.String()
}

// searchCitations extracts source references from results for overlay display.
func searchCitations(results []SearchResult) []domain.Citation {
	var cites []domain.Citation
	for _, r := range results {
		if r.URL != "" {
			cites = append(cites, domain.Citation{URL: r.URL, Title: r.Title})
		}
	}
	return cites
}

// getCached returns a cached result if it exists and has not expired.
func (t *WebSearchTool) getCached(key string) (cacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.cache, key)
		return cacheEntry{}, false
	}
	return entry, true
}

// putCache stores a result in the cache with the configured TTL.
func (t *WebSearchTool) putCache(key, content string, citations []domain.Citation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache[key] = cacheEntry{
		content:   content,
		citations: citations,
		expiresAt: time.Now().Add(t.cacheTTL),
	}

	// Lazy eviction: remove expired entries if cache grows large
	if len(t.cache) > 100 {
		now := time.Now()
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
