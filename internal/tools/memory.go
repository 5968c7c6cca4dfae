package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/ian/internal/store"
)

const noteSnippetMax = 200

// MemorySearchTool queries the persistent note store (keyword full-text
// search, never a model call).
type MemorySearchTool struct {
	notes *store.NoteStore
}

func NewMemorySearchTool(notes *store.NoteStore) *MemorySearchTool {
	return &MemorySearchTool{notes: notes}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory notes by keyword. Returns matching notes " +
		"ranked by relevance."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Keywords to search for.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max notes to return (default 5).",
				"default":     5,
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) RequiresApproval() bool { return false }

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := 5
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	notes, err := t.notes.Search(ctx, query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}
	if len(notes) == 0 {
		return NewResult(fmt.Sprintf("No notes found for: %s", query))
	}

	lines := make([]string, 0, len(notes))
	for i, n := range notes {
		snippet := n.Content
		if len(snippet) > noteSnippetMax {
			snippet = truncateStr(snippet, noteSnippetMax)
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, n.Key, snippet))
	}
	return NewResult(strings.Join(lines, "\n"))
}

// MemorySaveTool upserts a note into the persistent store.
type MemorySaveTool struct {
	notes *store.NoteStore
}

func NewMemorySaveTool(notes *store.NoteStore) *MemorySaveTool {
	return &MemorySaveTool{notes: notes}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a fact to long-term memory under a short key. Overwrites " +
		"any previous note with the same key."
}

func (t *MemorySaveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Short identifier for the note, e.g. 'client-acme-contact'.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact to remember.",
			},
			"tags": map[string]interface{}{
				"type":        "string",
				"description": "Optional comma-separated tags.",
			},
		},
		"required": []string{"key", "content"},
	}
}

func (t *MemorySaveTool) RequiresApproval() bool { return false }

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, _ := args["key"].(string)
	content, _ := args["content"].(string)
	tags, _ := args["tags"].(string)
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(content) == "" {
		return ErrorResult("key and content are required")
	}

	if err := t.notes.Save(ctx, key, content, tags); err != nil {
		return ErrorResult(fmt.Sprintf("memory save failed: %v", err))
	}
	return NewResult(fmt.Sprintf("Saved note '%s'", key))
}
