package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStores(t *testing.T) *Stores {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v, err := Migrate(st.DB)
	require.NoError(t, err)
	require.Equal(t, uint(4), v)
	return st
}

func TestMigrateIdempotent(t *testing.T) {
	st := openTestStores(t)

	// Second run is a no-op.
	v, err := Migrate(st.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(4), v)

	ver, dirty, err := Version(st.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(4), ver)
	assert.False(t, dirty)
}

func TestSessionLifecycle(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	id1, err := st.Sessions.GetOrCreate(ctx, "C100")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// Same channel, still active: same session.
	id2, err := st.Sessions.GetOrCreate(ctx, "C100")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Different channel: different session.
	other, err := st.Sessions.GetOrCreate(ctx, "C200")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	// Ending the session forces a new one on next lookup.
	require.NoError(t, st.Sessions.End(ctx, id1))
	id3, err := st.Sessions.GetOrCreate(ctx, "C100")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestTurnCountIncrementsOnAssistantOnly(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	require.NoError(t, st.Sessions.AddMessage(ctx, StoredMessage{
		SessionID: id, Role: "user", Content: "hello",
	}))
	n, err := st.Sessions.TurnCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, st.Sessions.AddMessage(ctx, StoredMessage{
		SessionID: id, Role: "assistant", Content: "hi", Model: "claude-haiku-4-5-20251001",
		InputTokens: 10, OutputTokens: 5,
	}))
	n, err = st.Sessions.TurnCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMessagesNewestFirst(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, st.Sessions.AddMessage(ctx, StoredMessage{
			SessionID: id, Role: "user", Content: content,
		}))
	}

	msgs, err := st.Sessions.MessagesNewestFirst(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "third", msgs[0].Content)
	assert.Equal(t, "first", msgs[2].Content)
}

func TestSessionMetadataRoundtrip(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	// Fresh session has empty metadata.
	meta, err := st.Sessions.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, meta)

	want := map[string]string{
		"persona":          "brainstormer",
		"brainstorm_state": "IDEATION",
		"raw_idea":         "dark mode",
	}
	require.NoError(t, st.Sessions.SetMetadata(ctx, id, want))

	got, err := st.Sessions.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionMetadataGarbageDegradesToEmpty(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	id, err := st.Sessions.GetOrCreate(ctx, "C1")
	require.NoError(t, err)

	_, err = st.DB.ExecContext(ctx,
		`UPDATE sessions SET session_metadata = '{broken' WHERE id = ?`, id)
	require.NoError(t, err)

	meta, err := st.Sessions.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestNotesUpsertAndSearch(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	require.NoError(t, st.Notes.Save(ctx, "deploy-runbook", "Deployment runs through the staging gate first", "ops,runbook"))
	require.NoError(t, st.Notes.Save(ctx, "pricing", "Starter plan is 99 DKK per month", "billing"))

	// Porter stemming: "deployments" matches "Deployment".
	found, err := st.Notes.Search(ctx, "deployments", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "deploy-runbook", found[0].Key)

	// Upsert overwrites by key.
	require.NoError(t, st.Notes.Save(ctx, "pricing", "Starter plan is 129 DKK per month", "billing"))
	content, ok, err := st.Notes.Get(ctx, "pricing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, content, "129")

	n, err := st.Notes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	existed, err := st.Notes.Delete(ctx, "pricing")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = st.Notes.Delete(ctx, "pricing")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestNoteListKeysByTag(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	require.NoError(t, st.Notes.Save(ctx, "a", "x", "project,alpha"))
	require.NoError(t, st.Notes.Save(ctx, "b", "y", "billing"))

	keys, err := st.Notes.ListKeys(ctx, "project")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	all, err := st.Notes.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBudgetLedger(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	require.NoError(t, st.Budget.Record(ctx, BudgetEvent{
		Model: "claude-haiku-4-5-20251001", InputTokens: 1000, OutputTokens: 500, CostUSD: 0.0028,
	}))
	require.NoError(t, st.Budget.Record(ctx, BudgetEvent{
		Model: "claude-sonnet-4-6", InputTokens: 2000, OutputTokens: 800, CostUSD: 0.018,
	}))

	total, err := st.Budget.SpendSince(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.0208, total, 1e-9)

	// A future cutoff excludes everything.
	total, err = st.Budget.SpendSince(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)

	byModel, err := st.Budget.UsageByModelSince(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	// Most expensive model first.
	assert.Equal(t, "claude-sonnet-4-6", byModel[0].Model)
	assert.Equal(t, 1, byModel[0].Calls)
	assert.Equal(t, int64(2000), byModel[0].InputTokens)
}

func TestBacklogTicketIDFormat(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	t1, err := st.Backlog.Create(ctx, Ticket{
		Title: "Out-of-scope request", Summary: "wants a mobile app",
		HandoffTarget: "backlog_triage", Intent: "out_of_scope",
	})
	require.NoError(t, err)
	assert.Equal(t, "IAN-000001", t1.TicketID)
	assert.Equal(t, "open", t1.Status)

	t2, err := st.Backlog.Create(ctx, Ticket{
		Title: "Dev handoff request", Summary: "add endpoint",
		HandoffTarget: "claude_code", Intent: "dev_handoff",
	})
	require.NoError(t, err)
	assert.Equal(t, "IAN-000002", t2.TicketID)
}

func TestBacklogHandoffMetadata(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	created, err := st.Backlog.Create(ctx, Ticket{
		Title: "Dev handoff request", Summary: "add endpoint",
		HandoffTarget: "claude_code", Intent: "dev_handoff",
	})
	require.NoError(t, err)

	files := []string{"tasks/pending/TASK_ADD_ENDPOINT.md"}
	require.NoError(t, st.Backlog.UpdateHandoff(ctx, created.TicketID, `{"handoff_target":"claude_code"}`, files))

	got, ok, err := st.Backlog.Get(ctx, created.TicketID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, files, got.LinkedPlanFiles)
	assert.Contains(t, got.HandoffPayload, "claude_code")

	_, ok, err = st.Backlog.Get(ctx, "IAN-999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBacklogRecent(t *testing.T) {
	st := openTestStores(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		_, err := st.Backlog.Create(ctx, Ticket{
			Title: title, Summary: "s", HandoffTarget: "human", Intent: "request_capture",
		})
		require.NoError(t, err)
	}

	recent, err := st.Backlog.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Title)
}
