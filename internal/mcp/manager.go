// Package mcp mounts external Model Context Protocol servers into the tool
// registry. Each configured server is connected at startup, its tools are
// bridged under an "mcp_<server>_" prefix, and a health loop pings the
// connection and reconnects with backoff. Bridged tools always require owner
// approval — the code behind them is not ours.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10

	// callTimeout bounds one bridged tool call; MCP servers we do not
	// control must never stall a channel worker indefinitely.
	callTimeout = 60 * time.Second
)

// ToolPrefix namespaces every bridged tool so registry names cannot collide
// with built-ins and the dispatcher can recognize mounted tools.
const ToolPrefix = "mcp_"

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string
	Transport string
	Connected bool
	ToolCount int
	Error     string
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns every configured MCP server connection and the bridged tools
// it registered.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  []config.McpServerConfig
}

// NewManager builds a manager over the shared tool registry. Call Start to
// connect the configured servers.
func NewManager(registry *tools.Registry, configs []config.McpServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects every configured server. Connection failures are collected,
// not fatal: the agent runs fine with a subset (or none) of its mounts.
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for _, cfg := range m.configs {
		if cfg.Name == "" {
			slog.Warn("mcp server without a name skipped")
			continue
		}
		if err := m.connectServer(ctx, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", cfg.Name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", cfg.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mcp servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Stop closes all server connections and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp server close failed", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// Statuses returns the status of every connected server.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return statuses
}

// ToolNames returns the registry names of every bridged tool.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}
