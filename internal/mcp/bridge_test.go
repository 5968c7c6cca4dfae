package mcp

import (
	"context"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/ian/internal/config"
)

func TestBridgeToolNameIsPrefixedAndSanitized(t *testing.T) {
	tool := mcpgo.Tool{
		Name:        "query.db",
		Description: "Run a read-only query.",
		InputSchema: mcpgo.ToolInputSchema{Type: "object"},
	}
	bt := newBridgeTool("corp tools", tool, nil, new(atomic.Bool))

	assert.Equal(t, "mcp_corp_tools_query_db", bt.Name())
	assert.Equal(t, "Run a read-only query.", bt.Description())
	assert.True(t, bt.RequiresApproval())
	assert.Equal(t, "object", bt.Parameters()["type"])
}

func TestBridgeToolDefaultsForEmptyMetadata(t *testing.T) {
	bt := newBridgeTool("notion", mcpgo.Tool{Name: "search"}, nil, new(atomic.Bool))

	assert.Contains(t, bt.Description(), "notion")
	assert.Contains(t, bt.Description(), "search")
	// An unparseable or empty schema falls back to a bare object schema.
	params := bt.Parameters()
	assert.Equal(t, "object", params["type"])
}

func TestBridgeToolExecuteWhileDisconnected(t *testing.T) {
	bt := newBridgeTool("notion", mcpgo.Tool{Name: "search"}, nil, new(atomic.Bool))

	res := bt.Execute(context.Background(), map[string]interface{}{"q": "roadmap"})

	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not connected")
}

func TestJoinTextContentSkipsNonText(t *testing.T) {
	content := []mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "first"},
		mcpgo.ImageContent{Type: "image"},
		mcpgo.TextContent{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", joinTextContent(content))
	assert.Equal(t, "", joinTextContent(nil))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "db_query", sanitizeName("db.query"))
	assert.Equal(t, "my-tool_v2", sanitizeName("my-tool v2"))
	assert.Equal(t, "plain", sanitizeName("plain"))
}

func TestManagerStartSkipsUnnamedServers(t *testing.T) {
	// An unnamed entry is dropped without attempting a connection, so Start
	// succeeds with no servers mounted.
	m := NewManager(nil, []config.McpServerConfig{{Command: "echo"}})
	assert.NoError(t, m.Start(context.Background()))
	assert.Empty(t, m.Statuses())
	assert.Empty(t, m.ToolNames())
}
