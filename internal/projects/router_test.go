package projects

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "projects")
	r, err := NewRouter(dir)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, dir
}

func TestNewRouterSeedsDefaults(t *testing.T) {
	_, dir := newTestRouter(t)
	for name := range defaultFiles {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "default %s must exist", name)
	}
}

func TestNewRouterKeepsExistingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "projects")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_pulse.md"), []byte("hand-written"), 0o644))

	r, err := NewRouter(dir)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	data, err := os.ReadFile(filepath.Join(dir, "card_pulse.md"))
	require.NoError(t, err)
	assert.Equal(t, "hand-written", string(data), "seeding must never overwrite")
}

func TestDetectProject(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		text string
		want string
	}{
		{"how is card-pulse doing?", "card_pulse.md"},
		{"Card Pulse status please", "card_pulse.md"},
		{"the AI Clarity launch", "ai_clarity.md"},
		{"anything on artisan?", "the_artisan.md"},
		{"what can IAN do", "personal_agent.md"},
		{"lavpris pricing page", "lavprishjemmeside.md"},
	}
	for _, tc := range cases {
		file, ok := r.DetectProject(tc.text)
		require.True(t, ok, "text %q", tc.text)
		assert.Equal(t, tc.want, file, "text %q", tc.text)
	}

	_, ok := r.DetectProject("totally unrelated message")
	assert.False(t, ok)
}

func TestDetectProjectFirstMatchWins(t *testing.T) {
	r, _ := newTestRouter(t)
	// "ian" appears before "lavpris" in the route table.
	file, ok := r.DetectProject("should ian update lavpris today?")
	require.True(t, ok)
	assert.Equal(t, "personal_agent.md", file)
}

func TestContextFormatsBlock(t *testing.T) {
	r, dir := newTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_pulse.md"), []byte("# card-pulse\nStack: Go\n"), 0o644))
	r.Reload()

	got := r.Context("card-pulse deploy?")
	assert.Equal(t, "[Project Context — card_pulse.md]\n# card-pulse\nStack: Go\n", got)

	assert.Empty(t, r.Context("no project here"))
}

func TestContextMissingFile(t *testing.T) {
	r, dir := newTestRouter(t)
	// lavprishjemmeside.md is not a seeded default.
	_, err := os.Stat(filepath.Join(dir, "lavprishjemmeside.md"))
	require.True(t, os.IsNotExist(err))

	assert.Empty(t, r.Context("lavpris status"), "missing file degrades to no context")
}

func TestUpdateProjectAndCache(t *testing.T) {
	r, _ := newTestRouter(t)

	require.NoError(t, r.UpdateProject("lavprishjemmeside.md", "# lavpris\nCMS notes\n"))
	got := r.Context("lavpris status")
	assert.Contains(t, got, "CMS notes")

	content, ok := r.FileContent("lavprishjemmeside.md")
	require.True(t, ok)
	assert.Equal(t, "# lavpris\nCMS notes\n", content)
}

func TestReloadPicksUpDiskEdits(t *testing.T) {
	r, dir := newTestRouter(t)

	// Prime the cache, then edit behind the router's back.
	first := r.Context("artisan plans")
	assert.Contains(t, first, "_Add project context here._")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "the_artisan.md"), []byte("# The Artisan\nnew notes\n"), 0o644))
	r.Reload()

	second := r.Context("artisan plans")
	assert.Contains(t, second, "new notes")
}
