package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ian/internal/config"
)

const (
	searchTimeout       = 10 * time.Second
	minSearchGap        = 10 * time.Second
	maxSearchesPerBatch = 5
	searchBatchBreak    = 2 * time.Minute
	maxSearchResults    = 5
	descriptionMax      = 300
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	webSearchUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// searchProvider abstracts a web search backend.
type searchProvider interface {
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
	Name() string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebSearchTool searches the web, preferring Brave when an API key is set
// and falling back to DuckDuckGo. Rate limiting matches the configured
// etiquette: a minimum gap between searches, at most a handful per batch,
// then a cooldown.
type WebSearchTool struct {
	providers  []searchProvider
	limiter    *rate.Limiter
	maxResults int

	mu             sync.Mutex
	batchCount     int
	batchStartedAt time.Time
}

func NewWebSearchTool(cfg config.SearchToolConfig) *WebSearchTool {
	var providers []searchProvider
	if cfg.BraveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(cfg.BraveAPIKey))
	}
	providers = append(providers, newDuckDuckGoSearchProvider())

	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	return &WebSearchTool{
		providers:  providers,
		limiter:    rate.NewLimiter(rate.Every(minSearchGap), 1),
		maxResults: maxResults,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return fmt.Sprintf(
		"Search the web for current information. Returns up to %d results "+
			"with title, URL, and snippet. Rate-limited: %ds between searches, "+
			"max %d per batch then a %d-minute break.",
		t.maxResults, int(minSearchGap.Seconds()), maxSearchesPerBatch,
		int(searchBatchBreak.Minutes()))
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Max results to return (1-%d, default %d).", maxSearchResults, maxSearchResults),
				"default":     maxSearchResults,
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) RequiresApproval() bool { return false }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("Query cannot be empty")
	}

	count := t.maxResults
	if v, ok := args["max_results"].(float64); ok && int(v) >= 1 && int(v) < count {
		count = int(v)
	}

	if err := t.waitForBatchSlot(ctx); err != nil {
		return ErrorResult(fmt.Sprintf("search cancelled: %v", err))
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return ErrorResult(fmt.Sprintf("search cancelled: %v", err))
	}

	// Providers in priority order; first success wins.
	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, query, count)
		if err != nil {
			slog.Warn("web_search provider failed", "provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		return NewResult(formatSearchResults(results))
	}

	return ErrorResult(fmt.Sprintf("all search providers failed: %v", lastErr))
}

// waitForBatchSlot sleeps out the batch cooldown when the batch cap is hit.
func (t *WebSearchTool) waitForBatchSlot(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batchCount >= maxSearchesPerBatch {
		elapsed := time.Since(t.batchStartedAt)
		if elapsed < searchBatchBreak {
			wait := searchBatchBreak - elapsed
			slog.Info("web_search batch limit reached", "cooldown", wait.Round(time.Second))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		t.batchCount = 0
	}
	if t.batchCount == 0 {
		t.batchStartedAt = time.Now()
	}
	t.batchCount++
	return nil
}

func formatSearchResults(results []searchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	lines := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		desc := r.Description
		if len(desc) > descriptionMax {
			desc = desc[:descriptionMax]
		}
		lines = append(lines, fmt.Sprintf("%d. **%s**\n   %s\n   %s", i+1, title, r.URL, desc))
	}
	return strings.Join(lines, "\n\n")
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
