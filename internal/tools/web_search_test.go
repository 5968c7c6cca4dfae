package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/config"
)

func TestFormatSearchResults(t *testing.T) {
	out := formatSearchResults([]searchResult{
		{Title: "Go docs", URL: "https://go.dev", Description: "The Go programming language"},
		{Title: "", URL: "https://example.com", Description: ""},
	})

	parts := strings.Split(out, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "1. **Go docs**\n   https://go.dev\n   The Go programming language", parts[0])
	assert.Equal(t, "2. **No title**\n   https://example.com\n   ", parts[1])
}

func TestFormatSearchResultsEmpty(t *testing.T) {
	assert.Equal(t, "No results found.", formatSearchResults(nil))
}

func TestFormatSearchResultsCapsDescription(t *testing.T) {
	long := strings.Repeat("x", 400)
	out := formatSearchResults([]searchResult{{Title: "t", URL: "u", Description: long}})
	assert.LessOrEqual(t, len(out), 400)
}

func TestWebSearchEmptyQuery(t *testing.T) {
	tool := NewWebSearchTool(config.SearchToolConfig{Enabled: true, MaxResults: 5})
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "   "})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "Query cannot be empty")
}

func TestExtractDDGResults(t *testing.T) {
	html := `
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc&rut=abc">Go <b>Documentation</b></a>
  <a class="result__snippet" href="#">Official <b>Go</b> docs.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/page">Example Page</a>
  <a class="result__snippet" href="#">An example.</a>
</div>`

	results, err := extractDDGResults(html, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Go Documentation", results[0].Title)
	assert.Equal(t, "https://go.dev/doc", results[0].URL)
	assert.Equal(t, "Official Go docs.", results[0].Description)

	assert.Equal(t, "Example Page", results[1].Title)
	assert.Equal(t, "https://example.com/page", results[1].URL)
}

func TestExtractDDGResultsRespectsCount(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(`<a class="result__a" href="https://example.com">Hit</a>`)
	}
	results, err := extractDDGResults(sb.String(), 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestNewWebSearchToolProviderPriority(t *testing.T) {
	// With a Brave key: Brave first, DDG fallback.
	withKey := NewWebSearchTool(config.SearchToolConfig{BraveAPIKey: "key", MaxResults: 5})
	require.Len(t, withKey.providers, 2)
	assert.Equal(t, "brave", withKey.providers[0].Name())
	assert.Equal(t, "duckduckgo", withKey.providers[1].Name())

	// Without a key: DDG only.
	noKey := NewWebSearchTool(config.SearchToolConfig{MaxResults: 5})
	require.Len(t, noKey.providers, 1)
	assert.Equal(t, "duckduckgo", noKey.providers[0].Name())
}
