package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/store"
	"github.com/nextlevelbuilder/ian/internal/tools"
)

// registerBuiltinTools wires the built-in tool set into the registry.
// Shell and web search respect their config enable switches; filesystem and
// memory tools are always on.
func registerBuiltinTools(registry *tools.Registry, cfg *config.Config, st *store.Stores) {
	register := func(t tools.Tool) {
		if err := registry.Register(t); err != nil {
			slog.Error("tool registration failed", "tool", t.Name(), "error", err)
		}
	}

	register(tools.NewFilesystemReadTool(cfg.Tools.Filesystem))
	register(tools.NewFilesystemWriteTool(cfg.Tools.Filesystem))
	register(tools.NewFilesystemListTool(cfg.Tools.Filesystem))

	if cfg.Tools.Shell.Enabled {
		register(tools.NewShellTool(cfg.Tools.Shell))
	}
	if cfg.Tools.Search.Enabled {
		register(tools.NewWebSearchTool(cfg.Tools.Search))
	}

	register(tools.NewMemorySearchTool(st.Notes))
	register(tools.NewMemorySaveTool(st.Notes))

	slog.Info("built-in tools registered", "tools", registry.Names())
}
