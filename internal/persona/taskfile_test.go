package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSynthesis = `Here is the complete brief:

**TASK DEFINITION**
- **Title**: Weekly Retrospective App
- **The Problem**: Teams lose track of  what   went wrong each sprint
- **The Solution**: A lightweight app collecting weekly retro notes
- **Who Benefits**: Small product teams (3-8 people)
- **What Success Looks Like**: 80% of team members submit notes weekly
- **Estimated Effort**: medium
- **Key Risks**: Adoption drop-off after week two

Shall I create a Kanban task for this idea? Reply **yes** to approve.`

func TestExtractTicketFields(t *testing.T) {
	f := ExtractTicketFields("raw idea", "refined idea", sampleSynthesis)

	assert.Equal(t, "Weekly Retrospective App", f.Title)
	assert.Equal(t, "Teams lose track of what went wrong each sprint", f.Problem)
	assert.Equal(t, "A lightweight app collecting weekly retro notes", f.Solution)
	assert.Equal(t, "Small product teams (3-8 people)", f.Benefits)
	assert.Equal(t, "80% of team members submit notes weekly", f.Success)
	assert.Equal(t, "Medium", f.Effort)
	assert.Equal(t, "Adoption drop-off after week two", f.Risks)
}

func TestExtractTicketFieldsFallbacks(t *testing.T) {
	f := ExtractTicketFields("build a thing to track plants", "refined plants idea", "no structure at all")

	assert.Equal(t, "build a thing to track plants", f.Title)
	assert.Equal(t, "refined plants idea", f.Problem)
	assert.Equal(t, "(see brainstorm transcript)", f.Solution)
	assert.Equal(t, "(not specified)", f.Benefits)
	assert.Equal(t, "(not specified)", f.Success)
	assert.Equal(t, "Medium", f.Effort)
	assert.Equal(t, "(none captured)", f.Risks)
}

func TestExtractTicketFieldsRejectsPlaceholders(t *testing.T) {
	synthesis := "**Title**: (concise, action-oriented)\n" +
		"**The Problem**: TBD\n" +
		"**Estimated Effort**: enormous\n"

	f := ExtractTicketFields("raw", "refined", synthesis)

	assert.Equal(t, "raw", f.Title, "template parenthetical must fall back")
	assert.Equal(t, "refined", f.Problem, "TBD must fall back")
	assert.Equal(t, "Medium", f.Effort, "unknown effort normalizes to Medium")
}

func TestExtractTicketFieldsCapsLength(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	f := ExtractTicketFields("raw", "refined", "**Title**: "+string(long))
	assert.Len(t, f.Title, maxTitleLen)
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Weekly Retrospective App", "WEEKLY_RETROSPECTIVE_APP"},
		{"api: login-fix!", "API_LOGIN_FIX"},
		{"  seo  ", "SEO"},
		{"---", "UNTITLED"},
		{"", "UNTITLED"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}

	long := Slugify("a very very very long title that keeps going and going and going forever")
	assert.LessOrEqual(t, len(long), maxSlugLen)
	assert.NotEqual(t, byte('_'), long[len(long)-1])
}

func TestBuildTaskFileHasRequiredSections(t *testing.T) {
	f := ExtractTicketFields("raw", "refined", sampleSynthesis)
	content := BuildTaskFile(f, "sess-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	ok, missing := ValidateTaskFile(content)
	assert.True(t, ok)
	assert.Empty(t, missing)
	assert.Contains(t, content, "# TASK: Weekly Retrospective App")
	assert.Contains(t, content, "2025-06-01T12:00:00Z")
	assert.Contains(t, content, "session sess-1")
}

func TestValidateTaskFileReportsMissing(t *testing.T) {
	ok, missing := ValidateTaskFile("# TASK: X\n\n## The Problem\nstuff\n")
	assert.False(t, ok)
	assert.Equal(t, []string{"## The Solution", "## What Success Looks Like"}, missing)
}

func TestWriteTaskFile(t *testing.T) {
	root := t.TempDir()
	f := ExtractTicketFields("raw", "refined", sampleSynthesis)

	rel, err := WriteTaskFile(root, f, "sess-9", time.Now())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("tasks", "pending", "TASK_WEEKLY_RETROSPECTIVE_APP.md"), rel)

	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	ok, missing := ValidateTaskFile(string(data))
	assert.True(t, ok, "missing sections: %v", missing)
}

func TestCleanRequestHeadline(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"please add a booking page", "add a booking page"},
		{"!plan please add a booking page", "add a booking page"},
		{"check <https://example.com|the docs> for details", "check the docs for details"},
		{"see https://example.com/x now", "see now"},
		{"I want   dark mode", "dark mode"},
		{"", "Fallback"},
		{"   -- ::", "Fallback"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanRequestHeadline(tc.in, "Fallback"), "input %q", tc.in)
	}

	long := CleanRequestHeadline("word "+strings.Repeat("x", 200), "f")
	assert.LessOrEqual(t, len(long), 120)
}
