package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, root string, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestLoadAllEmptyRoot(t *testing.T) {
	loader := NewContextLoader(t.TempDir())
	got := loader.LoadAll()
	assert.Equal(t, brandVisionStub, got, "empty repo degrades to the brand-vision stub")
}

func TestLoadAllOrderingAndBanners(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "BRAND_VISION.md", "Our brand is calm software.")
	writeDoc(t, root, "PROJECT_CONTEXT.md", "A CMS for affordable websites.")
	writeDoc(t, root, filepath.Join("docs", "beta.md"), "Beta doc body.")
	writeDoc(t, root, filepath.Join("docs", "alpha.md"), "Alpha doc body.")
	writeDoc(t, root, filepath.Join("ian", "docs", "BRAINSTORMER_WORKFLOW.md"), "Workflow body.")

	got := NewContextLoader(root).LoadAll()

	bar := strings.Repeat("=", 60)
	assert.Contains(t, got, bar+"\n=== BRAND VISION ===\n"+bar+"\nOur brand is calm software.")
	assert.Contains(t, got, "=== PROJECT CONTEXT ===")
	assert.Contains(t, got, "=== DOC: alpha.md ===")
	assert.Contains(t, got, "=== DOC: beta.md ===")
	assert.Contains(t, got, "=== IAN DOC: BRAINSTORMER_WORKFLOW.md ===")
	assert.NotContains(t, got, "No BRAND_VISION.md found")

	order := []string{
		"=== BRAND VISION ===",
		"=== PROJECT CONTEXT ===",
		"=== DOC: alpha.md ===",
		"=== DOC: beta.md ===",
		"=== IAN DOC: BRAINSTORMER_WORKFLOW.md ===",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(got, marker)
		require.GreaterOrEqual(t, idx, 0, "missing %q", marker)
		assert.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}
}

func TestProductSummary(t *testing.T) {
	root := t.TempDir()
	loader := NewContextLoader(root)
	assert.Empty(t, loader.ProductSummary(100), "missing context file yields empty summary")

	writeDoc(t, root, "PROJECT_CONTEXT.md", "  A CMS for affordable websites.\n")
	assert.Equal(t, "A CMS for affordable websites.", loader.ProductSummary(100))
	assert.Equal(t, "A CMS", loader.ProductSummary(5))
}

func TestWorkflowDoc(t *testing.T) {
	root := t.TempDir()
	loader := NewContextLoader(root)
	assert.Empty(t, loader.WorkflowDoc())

	writeDoc(t, root, filepath.Join("ian", "docs", "BRAINSTORMER_WORKFLOW.md"), "Workflow body.")
	assert.Equal(t, "Workflow body.", loader.WorkflowDoc())
}

func TestTruncateCharsKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "héll", truncateChars("héllo", 5))
	assert.Equal(t, "h", truncateChars("héllo", 2), "must not split the é rune")
	assert.Equal(t, "héllo", truncateChars("héllo", 50))
}
