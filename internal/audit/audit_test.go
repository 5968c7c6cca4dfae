package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := New(dir)
	require.NoError(t, err)
	return l, filepath.Join(dir, "transcripts")
}

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogWritesPerDayFile(t *testing.T) {
	l, dir := newTestLogger(t)

	l.UserMessage("U123", "hello there", "C100")
	l.AgentReply("hi!", "claude-haiku-4-5-20251001", 10, 5, 0, 0)

	today := time.Now().UTC().Format("2006-01-02")
	recs := readRecords(t, filepath.Join(dir, today+".jsonl"))
	require.Len(t, recs, 2)

	assert.Equal(t, "user_message", recs[0]["event"])
	assert.Equal(t, "U123", recs[0]["user_id"])
	assert.NotEmpty(t, recs[0]["ts"])

	assert.Equal(t, "agent_reply", recs[1]["event"])
	assert.Equal(t, float64(10), recs[1]["input_tokens"])
}

func TestReplyTruncatedAt500(t *testing.T) {
	l, dir := newTestLogger(t)

	l.AgentReply(strings.Repeat("x", 900), "m", 0, 0, 0, 0)

	today := time.Now().UTC().Format("2006-01-02")
	recs := readRecords(t, filepath.Join(dir, today+".jsonl"))
	require.Len(t, recs, 1)
	assert.Len(t, recs[0]["text"], 500)
}

func TestSecretsRedactedInTranscript(t *testing.T) {
	l, dir := newTestLogger(t)

	l.UserMessage("U1", "my key is sk-ant-REDACTED", "C1")

	today := time.Now().UTC().Format("2006-01-02")
	recs := readRecords(t, filepath.Join(dir, today+".jsonl"))
	require.Len(t, recs, 1)
	text := recs[0]["text"].(string)
	assert.Contains(t, text, "[REDACTED]")
	assert.NotContains(t, text, "sk-ant")
}

func TestDayRotation(t *testing.T) {
	l, dir := newTestLogger(t)

	base := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	l.Heartbeat(true, nil)

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Heartbeat(true, nil)

	assert.FileExists(t, filepath.Join(dir, "2026-03-01.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "2026-03-02.jsonl"))
}

func TestPruneRemovesOldTranscripts(t *testing.T) {
	l, dir := newTestLogger(t)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	old := filepath.Join(dir, "2026-01-01.jsonl")
	recent := filepath.Join(dir, "2026-05-30.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("{}\n"), 0o644))

	removed, err := l.Prune(90)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
}

func TestPolicyDecisionShape(t *testing.T) {
	l, dir := newTestLogger(t)

	l.PolicyDecision("dev_handoff", 0.99, "handoff_created", "IAN-000007", "claude-haiku-4-5-20251001", "dev keyword")

	today := time.Now().UTC().Format("2006-01-02")
	recs := readRecords(t, filepath.Join(dir, today+".jsonl"))
	require.Len(t, recs, 1)
	assert.Equal(t, "dev_handoff", recs[0]["intent"])
	assert.Equal(t, "IAN-000007", recs[0]["ticket_id"])
	assert.Equal(t, 0.99, recs[0]["confidence"])
}
