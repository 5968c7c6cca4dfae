package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/ian/internal/tools"
)

// bridgeTool adapts one remote MCP tool to the registry's Tool interface.
// Calls are forwarded over the server connection with a hard timeout.
type bridgeTool struct {
	server    string
	name      string // registry name: mcp_<server>_<original>
	original  string // name on the remote server
	desc      string
	params    map[string]interface{}
	client    *mcpclient.Client
	connected *atomic.Bool
}

func newBridgeTool(server string, t mcpgo.Tool, client *mcpclient.Client, connected *atomic.Bool) *bridgeTool {
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("Tool %q provided by MCP server %q.", t.Name, server)
	}
	return &bridgeTool{
		server:    server,
		name:      ToolPrefix + sanitizeName(server) + "_" + sanitizeName(t.Name),
		original:  t.Name,
		desc:      desc,
		params:    convertSchema(t.InputSchema),
		client:    client,
		connected: connected,
	}
}

func (b *bridgeTool) Name() string        { return b.name }
func (b *bridgeTool) Description() string { return b.desc }

func (b *bridgeTool) Parameters() map[string]interface{} {
	if b.params != nil {
		return b.params
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

// RequiresApproval is always true for bridged tools: the server process is
// external code and the owner vets every call.
func (b *bridgeTool) RequiresApproval() bool { return true }

func (b *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("Error: MCP server %q is not connected", b.server))
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original
	req.Params.Arguments = args

	resp, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error calling %s on %s: %v", b.original, b.server, err))
	}

	text := joinTextContent(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return tools.ErrorResult(fmt.Sprintf("Error from %s: %s", b.original, text))
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.NewResult(text)
}

// joinTextContent concatenates the text blocks of an MCP result. Non-text
// content (images, resources) is not bridged.
func joinTextContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// convertSchema flattens the typed MCP input schema into the plain map the
// provider API wants. Nil when the server sent no usable schema or on any
// marshalling hiccup; the caller substitutes an empty object schema.
func convertSchema(schema mcpgo.ToolInputSchema) map[string]interface{} {
	if schema.Type == "" {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// sanitizeName maps arbitrary server/tool names onto the provider's allowed
// tool-name alphabet.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
