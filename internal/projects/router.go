// Package projects injects per-project context into the model's system
// prompt on demand. The startup context stays lean; when a message mentions
// a known project by keyword, the router loads that project's markdown file
// from projects/ and hands it to the dispatcher as a dynamic block.
//
// Project files are plain markdown: tech stack, current status, key file
// paths, recent decisions, open issues.
package projects

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// route maps one message keyword to a project context file. Keywords are
// matched as case-insensitive substrings, first hit wins, so the scan order
// below is load-bearing.
type route struct {
	keyword string
	file    string
}

var keywordRoutes = []route{
	{"card-pulse", "card_pulse.md"},
	{"card pulse", "card_pulse.md"},
	{"cardpulse", "card_pulse.md"},
	{"ai-clarity", "ai_clarity.md"},
	{"ai clarity", "ai_clarity.md"},
	{"aiclarity", "ai_clarity.md"},
	{"artisan", "the_artisan.md"},
	{"the-artisan", "the_artisan.md"},
	{"personal-agent", "personal_agent.md"},
	{"ian", "personal_agent.md"},
	{"lavpris", "lavprishjemmeside.md"},
	{"lavprishjemmeside", "lavprishjemmeside.md"},
}

// defaultFiles are written once so the owner always has a file to edit.
var defaultFiles = map[string]string{
	"card_pulse.md":     "# card-pulse\n\n_Add project context here._\n",
	"ai_clarity.md":     "# ai-clarity\n\n_Add project context here._\n",
	"the_artisan.md":    "# The Artisan\n\n_Add project context here._\n",
	"personal_agent.md": "# Personal Agent (IAN)\n\nThis is IAN — the personal AI agent being built.\nStack: Go, Slack Web API polling, Anthropic Messages API, SQLite (WAL) + FTS5.\n",
}

// Router resolves message text to project context. File contents are cached
// until the file changes on disk or Reload is called.
type Router struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRouter prepares the projects directory, seeds missing default files,
// and starts watching for edits. A failed watcher degrades to cache-on-read
// with manual Reload.
func NewRouter(dir string) (*Router, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	r := &Router{
		dir:   dir,
		cache: make(map[string]string),
		done:  make(chan struct{}),
	}
	r.seedDefaults()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("projects watcher unavailable, cache invalidation is manual", "error", err)
		return r, nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("projects watcher add failed", "dir", dir, "error", err)
		watcher.Close()
		return r, nil
	}
	r.watcher = watcher
	go r.watch()
	return r, nil
}

func (r *Router) seedDefaults() {
	for name, content := range defaultFiles {
		path := filepath.Join(r.dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			slog.Warn("seed project file failed", "file", name, "error", err)
		}
	}
}

// watch drops cache entries when their file changes on disk.
func (r *Router) watch() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".md") {
				continue
			}
			name := filepath.Base(ev.Name)
			r.mu.Lock()
			_, cached := r.cache[name]
			delete(r.cache, name)
			r.mu.Unlock()
			if cached {
				slog.Info("project context invalidated", "file", name, "op", ev.Op.String())
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("projects watcher error", "error", err)
		}
	}
}

// Close stops the background watcher.
func (r *Router) Close() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// DetectProject returns the context filename for the first project keyword
// found in the text.
func (r *Router) DetectProject(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, rt := range keywordRoutes {
		if strings.Contains(lower, rt.keyword) {
			slog.Debug("project detected", "keyword", rt.keyword, "file", rt.file)
			return rt.file, true
		}
	}
	return "", false
}

// Context returns the formatted project context block for the message, or
// "" when no known project is mentioned or its file is missing.
func (r *Router) Context(text string) string {
	file, ok := r.DetectProject(text)
	if !ok {
		return ""
	}
	content, err := r.load(file)
	if err != nil {
		return ""
	}
	slog.Info("project context injected", "file", file, "chars", len(content))
	return fmt.Sprintf("[Project Context — %s]\n%s", file, content)
}

// FileContent returns the raw markdown of one project file, bypassing
// keyword detection. Used for pinned channel→project bindings.
func (r *Router) FileContent(file string) (string, bool) {
	content, err := r.load(file)
	if err != nil {
		return "", false
	}
	return content, true
}

func (r *Router) load(file string) (string, error) {
	r.mu.RLock()
	content, ok := r.cache[file]
	r.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := os.ReadFile(filepath.Join(r.dir, file))
	if err != nil {
		return "", err
	}
	content = string(data)
	r.mu.Lock()
	r.cache[file] = content
	r.mu.Unlock()
	return content, nil
}

// UpdateProject writes or overwrites a project context file.
func (r *Router) UpdateProject(file, content string) error {
	if err := os.WriteFile(filepath.Join(r.dir, file), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	r.mu.Lock()
	r.cache[file] = content
	r.mu.Unlock()
	slog.Info("project file updated", "file", file)
	return nil
}

// Reload drops every cached file; the next access re-reads from disk.
func (r *Router) Reload() {
	r.mu.Lock()
	n := len(r.cache)
	r.cache = make(map[string]string)
	r.mu.Unlock()
	slog.Info("project cache cleared", "entries", n)
}
