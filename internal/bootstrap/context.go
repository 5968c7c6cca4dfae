package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/nextlevelbuilder/ian/internal/providers"
)

// Startup-context size guards. A runaway USER.md must not eat the whole
// context window; the caps keep the cached prefix predictable.
const (
	maxCharsPerFile  = 24_000
	maxCharsTotal    = 60_000
	fallbackPersona  = "You are a personal AI assistant. Be helpful and concise."
	truncationNotice = "\n\n[Truncated: file exceeds startup context budget]"
)

// LoadStartupContext reads the configured workspace files and returns them
// as system blocks, one per file, in config order. Files are marked
// cacheable when prompt caching is on; dynamic context appended later by
// the dispatcher never is. Missing files are skipped; if nothing loads, a
// minimal fallback persona block is returned so the model always has a
// system prompt.
func LoadStartupContext(root string, files []string, cache bool) []providers.SystemBlock {
	var blocks []providers.SystemBlock
	total := 0

	for _, name := range files {
		content, ok := readStartupFile(root, name)
		if !ok {
			continue
		}

		budget := maxCharsPerFile
		if remaining := maxCharsTotal - total; remaining < budget {
			budget = remaining
		}
		if budget <= 0 {
			slog.Warn("startup context budget exhausted, skipping", "file", name)
			continue
		}
		if truncated, cut := truncateRunes(content, budget); cut {
			slog.Warn("startup file truncated", "file", name, "limit", budget)
			content = truncated + truncationNotice
		}

		total += utf8.RuneCountInString(content)
		blocks = append(blocks, providers.SystemBlock{Text: content, Cache: cache})
	}

	if len(blocks) == 0 {
		slog.Warn("no startup context files found, using fallback persona", "root", root)
		blocks = append(blocks, providers.SystemBlock{Text: fallbackPersona, Cache: cache})
	}
	return blocks
}

func readStartupFile(root, name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("startup file unreadable", "file", name, "error", err)
		}
		return "", false
	}
	return string(data), true
}

// truncateRunes cuts s to at most max runes, reporting whether it cut.
func truncateRunes(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
