package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/config"
)

func shellConfig() config.ShellToolConfig {
	return config.ShellToolConfig{
		Enabled:         true,
		RequireApproval: true,
		TimeoutSeconds:  5,
		BlockedCommands: []string{"rm -rf", "sudo rm", "pkill"},
	}
}

func TestShellRunCapturesOutput(t *testing.T) {
	tool := NewShellTool(shellConfig())
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo hello",
	})
	require.False(t, res.IsError, res.ForLLM)
	assert.Equal(t, "hello", res.ForLLM)
}

func TestShellRunStderrAndExitCode(t *testing.T) {
	tool := NewShellTool(shellConfig())
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo out; echo err >&2; exit 3",
	})
	require.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, "out")
	assert.Contains(t, res.ForLLM, "[stderr]\nerr")
	assert.Contains(t, res.ForLLM, "[exit code: 3]")
}

func TestShellRunNoOutput(t *testing.T) {
	tool := NewShellTool(shellConfig())
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "true",
	})
	require.False(t, res.IsError)
	assert.Equal(t, "(no output)", res.ForLLM)
}

func TestShellRunBlockedCommand(t *testing.T) {
	tool := NewShellTool(shellConfig())
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "git clean && RM -RF /tmp/x",
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "blocked pattern 'rm -rf'")
}

func TestShellRunTimeout(t *testing.T) {
	cfg := shellConfig()
	cfg.TimeoutSeconds = 1
	tool := NewShellTool(cfg)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5",
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "Command timed out after 1s")
}

func TestShellRunWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(shellConfig())
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command":     "pwd",
		"working_dir": dir,
	})
	require.False(t, res.IsError)
	// TempDir may sit behind a symlink; the basename survives resolution.
	assert.Contains(t, res.ForLLM, filepath.Base(dir))
}

func TestShellRunRequiresApprovalFromConfig(t *testing.T) {
	cfg := shellConfig()
	assert.True(t, NewShellTool(cfg).RequiresApproval())
	cfg.RequireApproval = false
	assert.False(t, NewShellTool(cfg).RequiresApproval())
}
