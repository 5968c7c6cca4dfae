package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
)

func openTestStore(t *testing.T) *store.Stores {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = store.Migrate(st.DB)
	require.NoError(t, err)
	return st
}

// wordCount is a deterministic token counter for tests.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

func TestWindowKeepsNewestDropsOldest(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	// Each message counts 4 tokens under wordCount.
	for _, content := range []string{
		"one two three four",
		"five six seven eight",
		"nine ten eleven twelve",
	} {
		require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
			SessionID: id, Role: "user", Content: content,
		}))
	}

	h := NewHistory(st.Sessions, 8)
	h.count = wordCount

	window, err := h.Window(ctx, id)
	require.NoError(t, err)
	require.Len(t, window, 2)
	// Chronological order, oldest dropped.
	assert.Equal(t, "five six seven eight", window[0].Content)
	assert.Equal(t, "nine ten eleven twelve", window[1].Content)
}

func TestWindowAlwaysKeepsNewest(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: id, Role: "user",
		Content: strings.Repeat("word ", 100),
	}))

	// Budget far below the single message's size: it still survives.
	h := NewHistory(st.Sessions, 5)
	h.count = wordCount

	window, err := h.Window(ctx, id)
	require.NoError(t, err)
	require.Len(t, window, 1)
}

func TestCountTokensNonZero(t *testing.T) {
	assert.Greater(t, CountTokens("hello world, this is a sentence"), 0)
	assert.Zero(t, CountTokens(""))
}

type fakeProvider struct {
	reply string
	err   error
	calls int
	last  providers.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{
		Content:      f.reply,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 50, CompletionTokens: 20},
	}, nil
}

func (f *fakeProvider) DefaultModel() string { return "claude-haiku-4-5-20251001" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestShouldSummarize(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	h := NewHistory(st.Sessions, 8000)
	s := NewSummarizer(st.Sessions, h, &fakeProvider{}, "claude-haiku-4-5-20251001", 2)

	ok, err := s.ShouldSummarize(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	for range 2 {
		require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
			SessionID: id, Role: "assistant", Content: "turn",
		}))
	}

	ok, err = s.ShouldSummarize(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSummarizeAndRotate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: id, Role: "user", Content: "we discussed the deploy pipeline",
	}))
	require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: id, Role: "assistant", Content: "agreed on staging first",
	}))

	fake := &fakeProvider{reply: "Discussed deploy pipeline; agreed staging-first rollout."}
	h := NewHistory(st.Sessions, 8000)
	h.count = wordCount
	s := NewSummarizer(st.Sessions, h, fake, "claude-haiku-4-5-20251001", 20)

	newID, err := s.SummarizeAndRotate(ctx, id, "C1")
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	// The model saw role-prefixed lines.
	prompt := fake.last.Messages[0].Content
	assert.Contains(t, prompt, "USER: we discussed the deploy pipeline")
	assert.Contains(t, prompt, "ASSISTANT: agreed on staging first")
	assert.Equal(t, 300, fake.last.MaxTokens)

	// New session is seeded with the summary pair.
	msgs, err := st.Sessions.MessagesNewestFirst(ctx, newID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "Understood. I have the context from our previous conversation.", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "[Previous conversation summary]")
	assert.Contains(t, msgs[1].Content, "staging-first")

	// Old session carries the stored summary and is ended.
	again, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, newID, again)
}

func TestSummarizeModelFailureUsesPlaceholder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AddMessage(ctx, store.StoredMessage{
		SessionID: id, Role: "user", Content: "hello",
	}))

	fake := &fakeProvider{err: errors.New("api down")}
	h := NewHistory(st.Sessions, 8000)
	h.count = wordCount
	s := NewSummarizer(st.Sessions, h, fake, "claude-haiku-4-5-20251001", 20)

	newID, err := s.SummarizeAndRotate(ctx, id, "C1")
	require.NoError(t, err)

	msgs, err := st.Sessions.MessagesNewestFirst(ctx, newID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "[Summary unavailable — session had 1 messages]")
}

func TestMarkdownDailyNotes(t *testing.T) {
	m, err := NewMarkdown(t.TempDir())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 2, 18, 9, 30, 0, 0, time.UTC) }

	_, ok, err := m.TodayNote()
	require.NoError(t, err)
	assert.False(t, ok)

	filename, err := m.AppendToDaily("Checked system health. All green.")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("daily", "2026-02-18.md"), filename)

	_, err = m.AppendToDaily("Budget at 12%.")
	require.NoError(t, err)

	content, ok, err := m.TodayNote()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, content, "## 09:30 UTC")
	assert.Contains(t, content, "All green.")
	assert.Contains(t, content, "Budget at 12%.")
}

func TestMarkdownWriteAndRead(t *testing.T) {
	m, err := NewMarkdown(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.WriteFile("SOUL.md", "# Soul\nBe useful."))
	content, ok, err := m.ReadFile("SOUL.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, content, "Be useful.")

	_, ok, err = m.ReadFile("MISSING.md")
	require.NoError(t, err)
	assert.False(t, ok)
}
