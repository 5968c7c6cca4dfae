package persona

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const brandVisionStub = "=== BRAND VISION ===\n" +
	"No BRAND_VISION.md found. Suggest client completes this via Brainstormer " +
	"before the Planner can fully tailor the plan to the brand.\n"

// ContextLoader reads the project documentation the Planner needs before it
// can design anything: brand vision, project context, and every markdown file
// under the two docs directories.
type ContextLoader struct {
	root string
}

func NewContextLoader(root string) *ContextLoader {
	return &ContextLoader{root: root}
}

// LoadAll returns the combined Planner context. Load order:
//
//  1. BRAND_VISION.md (repo root, stub text when missing)
//  2. PROJECT_CONTEXT.md (repo root)
//  3. docs/*.md sorted
//  4. ian/docs/*.md sorted (agent operating docs)
//
// Missing files degrade gracefully; an empty repo yields just the stub.
func (l *ContextLoader) LoadAll() string {
	var parts []string

	if brand, err := os.ReadFile(filepath.Join(l.root, "BRAND_VISION.md")); err == nil {
		parts = append(parts, section("BRAND VISION", string(brand)))
	} else {
		slog.Info("planner context: BRAND_VISION.md not found, using stub")
		parts = append(parts, brandVisionStub)
	}

	if proj, err := os.ReadFile(filepath.Join(l.root, "PROJECT_CONTEXT.md")); err == nil {
		parts = append(parts, section("PROJECT CONTEXT", string(proj)))
	} else {
		slog.Warn("planner context: PROJECT_CONTEXT.md not found")
	}

	parts = append(parts, l.docSections("docs", "DOC")...)
	parts = append(parts, l.docSections(filepath.Join("ian", "docs"), "IAN DOC")...)

	combined := strings.Join(parts, "\n\n")
	slog.Info("planner context loaded",
		"sections", len(parts),
		"chars", len(combined),
		"tokens_approx", len(combined)/4)
	return combined
}

func (l *ContextLoader) docSections(rel, titlePrefix string) []string {
	files, err := filepath.Glob(filepath.Join(l.root, rel, "*.md"))
	if err != nil || len(files) == 0 {
		return nil
	}
	sort.Strings(files)

	var parts []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			slog.Warn("planner context: read failed", "file", f, "error", err)
			continue
		}
		parts = append(parts, section(fmt.Sprintf("%s: %s", titlePrefix, filepath.Base(f)), string(data)))
	}
	return parts
}

// ProductSummary returns a compact product brief for the Brainstormer so it
// never has to ask the user what the product is. Truncated to maxChars.
func (l *ContextLoader) ProductSummary(maxChars int) string {
	data, err := os.ReadFile(filepath.Join(l.root, "PROJECT_CONTEXT.md"))
	if err != nil {
		return ""
	}
	return truncateChars(strings.TrimSpace(string(data)), maxChars)
}

// WorkflowDoc returns the Brainstormer workflow document, empty when the
// deployment repo doesn't carry one.
func (l *ContextLoader) WorkflowDoc() string {
	data, err := os.ReadFile(filepath.Join(l.root, "ian", "docs", "BRAINSTORMER_WORKFLOW.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

func section(title, content string) string {
	bar := strings.Repeat("=", 60)
	return fmt.Sprintf("%s\n=== %s ===\n%s\n%s", bar, title, bar, content)
}

// truncateChars cuts at a byte boundary without splitting a UTF-8 rune.
func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && (s[max]&0xC0) == 0x80 {
		max--
	}
	return s[:max]
}
