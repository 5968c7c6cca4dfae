package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/ian/internal/config"
)

const (
	readDefaultMaxLines = 500
	listMaxEntries      = 200
)

// checkPath enforces the filesystem safety rules: the resolved path must
// sit inside one of the configured safe roots and must not contain any
// deny pattern. Symlinks are resolved when the target exists.
func checkPath(path string, cfg config.FilesystemToolConfig) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("Invalid path: %s", path)
	}
	resolved := abs
	if target, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = target
	}

	inSafeRoot := false
	for _, root := range cfg.SafeRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if target, err := filepath.EvalSymlinks(rootAbs); err == nil {
			rootAbs = target
		}
		if resolved == rootAbs || strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
			inSafeRoot = true
			break
		}
	}
	if !inSafeRoot {
		return "", fmt.Errorf("Path outside safe roots: %s. Allowed roots: %v", resolved, cfg.SafeRoots)
	}

	for _, pattern := range cfg.DenyPatterns {
		if pattern != "" && strings.Contains(resolved, pattern) {
			return "", fmt.Errorf("Path matches deny pattern '%s': %s", pattern, resolved)
		}
	}
	return resolved, nil
}

// splitLines splits file content into lines, ignoring a single trailing
// newline the way text editors count lines.
func splitLines(content string) []string {
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// --- filesystem_read ---

// FilesystemReadTool reads a file inside the safe roots. No approval.
type FilesystemReadTool struct {
	cfg config.FilesystemToolConfig
}

func NewFilesystemReadTool(cfg config.FilesystemToolConfig) *FilesystemReadTool {
	return &FilesystemReadTool{cfg: cfg}
}

func (t *FilesystemReadTool) Name() string { return "filesystem_read" }

func (t *FilesystemReadTool) Description() string {
	return "Read the contents of a file. Path must be inside the allowed " +
		"safe roots and must not match any deny patterns."
}

func (t *FilesystemReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the file to read.",
			},
			"max_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum lines to return (default: 500). Use to avoid huge files.",
				"default":     readDefaultMaxLines,
			},
		},
		"required": []string{"path"},
	}
}

func (t *FilesystemReadTool) RequiresApproval() bool { return false }

func (t *FilesystemReadTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	maxLines := readDefaultMaxLines
	if v, ok := args["max_lines"].(float64); ok && int(v) > 0 {
		maxLines = int(v)
	}

	resolved, err := checkPath(path, t.cfg)
	if err != nil {
		return ErrorResult(err.Error())
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return ErrorResult(fmt.Sprintf("File not found: %s", resolved))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Cannot stat %s: %v", resolved, err))
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("Path is not a file: %s", resolved))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Cannot read %s: %v", resolved, err))
	}

	lines := splitLines(string(content))
	total := len(lines)
	if total > maxLines {
		out := strings.Join(lines[:maxLines], "\n")
		out += fmt.Sprintf("\n\n[Truncated: showing %d/%d lines]", maxLines, total)
		return NewResult(out)
	}
	return NewResult(strings.Join(lines, "\n"))
}

// --- filesystem_write ---

// FilesystemWriteTool writes a file inside the safe roots. Always requires
// owner approval.
type FilesystemWriteTool struct {
	cfg config.FilesystemToolConfig
}

func NewFilesystemWriteTool(cfg config.FilesystemToolConfig) *FilesystemWriteTool {
	return &FilesystemWriteTool{cfg: cfg}
}

func (t *FilesystemWriteTool) Name() string { return "filesystem_write" }

func (t *FilesystemWriteTool) Description() string {
	return "Write content to a file. Creates the file and any parent directories " +
		"if they don't exist. Requires approval before executing."
}

func (t *FilesystemWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the file to write.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write to the file.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *FilesystemWriteTool) RequiresApproval() bool { return true }

func (t *FilesystemWriteTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := checkPath(path, t.cfg)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("Cannot create parent dirs for %s: %v", resolved, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Cannot write %s: %v", resolved, err))
	}
	return NewResult(fmt.Sprintf("Written %d chars to %s", utf8.RuneCountInString(content), resolved))
}

// --- filesystem_list ---

// FilesystemListTool lists directory entries inside the safe roots.
type FilesystemListTool struct {
	cfg config.FilesystemToolConfig
}

func NewFilesystemListTool(cfg config.FilesystemToolConfig) *FilesystemListTool {
	return &FilesystemListTool{cfg: cfg}
}

func (t *FilesystemListTool) Name() string { return "filesystem_list" }

func (t *FilesystemListTool) Description() string {
	return "List files and directories at a given path."
}

func (t *FilesystemListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the directory to list.",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob pattern (e.g. '*.md'). Default: '*'.",
				"default":     "*",
			},
		},
		"required": []string{"path"},
	}
}

func (t *FilesystemListTool) RequiresApproval() bool { return false }

func (t *FilesystemListTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		pattern = "*"
	}

	resolved, err := checkPath(path, t.cfg)
	if err != nil {
		return ErrorResult(err.Error())
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return ErrorResult(fmt.Sprintf("Path not found: %s", resolved))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Cannot stat %s: %v", resolved, err))
	}
	if !info.IsDir() {
		return ErrorResult(fmt.Sprintf("Path is not a directory: %s", resolved))
	}

	entries, err := filepath.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return ErrorResult(fmt.Sprintf("Bad pattern '%s': %v", pattern, err))
	}

	var lines []string
	for i, entry := range entries {
		if i >= listMaxEntries {
			break
		}
		kind := "file"
		if st, err := os.Stat(entry); err == nil && st.IsDir() {
			kind = "dir"
		}
		lines = append(lines, fmt.Sprintf("%s  %s", kind, filepath.Base(entry)))
	}

	if len(lines) == 0 {
		return NewResult(fmt.Sprintf("No files matching '%s' in %s", pattern, resolved))
	}

	out := resolved + "\n" + strings.Join(lines, "\n")
	if len(entries) > listMaxEntries {
		out += fmt.Sprintf("\n[Truncated: showing %d/%d entries]", listMaxEntries, len(entries))
	}
	return NewResult(out)
}
