package handoff

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTask(t *testing.T, root string, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("plan body"), 0o644))
}

func TestTokenize(t *testing.T) {
	got := tokenize("Please fix the API login issues")
	assert.Equal(t, []string{"please", "fix", "api", "login", "issues"}, got)

	assert.Empty(t, tokenize("a an to"), "short words and stopwords drop out")
	assert.Equal(t, []string{"v2api", "404s"}, tokenize("v2api 404s"))
}

func TestFindRelevantPlanFiles(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "tasks/pending/TASK_API_LOGIN_FIX.md")
	writeTask(t, root, "tasks/pending/TASK_SEO.md")

	matches := FindRelevantPlanFiles(root, "Please fix API login issues", 3)
	assert.Equal(t, []string{"tasks/pending/TASK_API_LOGIN_FIX.md"}, matches,
		"zero-overlap files must not appear")
}

func TestFindRelevantPlanFilesOrdersByScore(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "tasks/pending/TASK_LOGIN_PAGE.md")
	writeTask(t, root, "tasks/done/TASK_DEPLOY.md")
	writeTask(t, root, "tasks/pending/TASK_NEWSLETTER.md")

	matches := FindRelevantPlanFiles(root, "deploy the login page", 3)
	assert.Equal(t, []string{
		"tasks/pending/TASK_LOGIN_PAGE.md",
		"tasks/done/TASK_DEPLOY.md",
	}, matches)
}

func TestFindRelevantPlanFilesHonorsLimit(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "tasks/a/TASK_LOGIN_A.md")
	writeTask(t, root, "tasks/b/TASK_LOGIN_B.md")
	writeTask(t, root, "tasks/c/TASK_LOGIN_C.md")
	writeTask(t, root, "tasks/d/TASK_LOGIN_D.md")

	matches := FindRelevantPlanFiles(root, "login", 3)
	require.Len(t, matches, 3)
	// Equal scores fall back to path order.
	assert.Equal(t, []string{
		"tasks/a/TASK_LOGIN_A.md",
		"tasks/b/TASK_LOGIN_B.md",
		"tasks/c/TASK_LOGIN_C.md",
	}, matches)
}

func TestFindRelevantPlanFilesNoTasksDir(t *testing.T) {
	assert.Empty(t, FindRelevantPlanFiles(t.TempDir(), "anything at all", 3))
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "tasks/pending/TASK_DEPLOY.md")

	p := Build(root, "IAN-000123", "Deploy and fix API issues")
	assert.Equal(t, "claude_code", p.HandoffTarget)
	assert.Equal(t, "IAN-000123", p.TicketID)
	assert.Equal(t, "Deploy and fix API issues", p.RequestSummary)
	assert.Equal(t, p.RequestSummary, p.RequestedOutcome)
	assert.Equal(t, []string{"tasks/pending/TASK_DEPLOY.md"}, p.LinkedPlanFiles)
	assert.Equal(t, ExecutionPolicy, p.ExecutionPolicy)
}

func TestBuildEmptyRequest(t *testing.T) {
	p := Build(t.TempDir(), "IAN-000007", "   ")
	assert.Equal(t, "(no summary)", p.RequestSummary)

	raw, err := p.Marshal()
	require.NoError(t, err)
	assert.Contains(t, raw, `"linked_plan_files":[]`, "no matches must marshal as an empty array")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "claude_code", decoded["handoff_target"])
	assert.Equal(t, ExecutionPolicy, decoded["execution_policy"])
}

func TestBuildCapsSummary(t *testing.T) {
	p := Build(t.TempDir(), "IAN-000001", strings.Repeat("x", 600))
	assert.Len(t, p.RequestSummary, 500)
}
