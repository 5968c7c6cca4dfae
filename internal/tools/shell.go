package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nextlevelbuilder/ian/internal/config"
)

// ShellTool runs a shell command and returns stdout + stderr. Always goes
// through the approval gate when the config demands it; blocked command
// substrings are rejected before execution regardless of approval.
type ShellTool struct {
	cfg config.ShellToolConfig
}

func NewShellTool(cfg config.ShellToolConfig) *ShellTool {
	return &ShellTool{cfg: cfg}
}

func (t *ShellTool) Name() string { return "shell_run" }

func (t *ShellTool) Description() string {
	return "Run a shell command and return stdout + stderr. " +
		"Always requires explicit approval before executing. " +
		"Use for git operations, npm/pip installs, file operations, etc."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run.",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the command. Defaults to the process working directory.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) RequiresApproval() bool { return t.cfg.RequireApproval }

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrorResult("command is required")
	}
	workingDir, _ := args["working_dir"].(string)

	lowered := strings.ToLower(command)
	for _, blocked := range t.cfg.BlockedCommands {
		if blocked != "" && strings.Contains(lowered, strings.ToLower(blocked)) {
			return ErrorResult(fmt.Sprintf(
				"Command contains blocked pattern '%s'. If you really need this, ask the owner to run it manually.",
				blocked))
		}
	}

	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ErrorResult(fmt.Sprintf("Command timed out after %ds: %s",
			int(timeout.Seconds()), command))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ErrorResult(fmt.Sprintf("Failed to run command: %v", err))
		}
	}

	var out strings.Builder
	out.WriteString(stdout.String())
	if stderr.Len() > 0 {
		out.WriteString("\n[stderr]\n")
		out.WriteString(stderr.String())
	}
	if exitCode != 0 {
		fmt.Fprintf(&out, "\n[exit code: %d]", exitCode)
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		result = "(no output)"
	}
	return NewResult(result)
}
